package store

import (
	"context"
	"sync"
	"time"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// InMemoryStore is the reference Repository implementation backed by a map.
// Snapshots are cloned on the way in and out so callers never alias stored
// state.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[domain.PermissionID]*models.PermissionRequest
	now      func() time.Time
}

// NewInMemoryStore builds an empty in-memory repository.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[domain.PermissionID]*models.PermissionRequest),
		now:      time.Now,
	}
}

// WithClock overrides the time source; tests use it to make staleness
// deterministic.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) FindByPermissionID(_ context.Context, id domain.PermissionID) (*models.PermissionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, notFound("permission request", string(id))
	}
	return req.Clone(), nil
}

func (s *InMemoryStore) FindByConversationIDOrCMRequestID(_ context.Context, conversationID, cmRequestID string) (*models.PermissionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if (conversationID != "" && req.ConversationID == conversationID) ||
			(cmRequestID != "" && req.CMRequestID == cmRequestID) {
			return req.Clone(), nil
		}
	}
	return nil, notFound("permission request by correlation", conversationID+"/"+cmRequestID)
}

func (s *InMemoryStore) FindByStatusIn(_ context.Context, statuses ...models.Status) ([]*models.PermissionRequest, error) {
	wanted := make(map[models.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PermissionRequest
	for _, req := range s.requests {
		if wanted[req.Status] {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindStale(_ context.Context, olderThan time.Duration) ([]*models.PermissionRequest, error) {
	cutoff := s.now().Add(-olderThan)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PermissionRequest
	for _, req := range s.requests {
		if models.Terminal(req.Status) {
			continue
		}
		if req.StatusChangedAt.Before(cutoff) {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindByMeteringPointAndDate(_ context.Context, meteringPointID domain.MeteringPointID, date time.Time) ([]*models.PermissionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PermissionRequest
	for _, req := range s.requests {
		if req.MeteringPointID == meteringPointID && req.CoversDate(date) {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindByConsentID(_ context.Context, consentID domain.ConsentID) (*models.PermissionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, req := range s.requests {
		if req.ConsentID != "" && req.ConsentID == consentID {
			return req.Clone(), nil
		}
	}
	return nil, notFound("permission request by consent", string(consentID))
}

func (s *InMemoryStore) Save(_ context.Context, req *models.PermissionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.PermissionID] = req.Clone()
	return nil
}
