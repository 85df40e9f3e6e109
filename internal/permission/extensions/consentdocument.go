package extensions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// ConsentMarketDocument is the standardized snapshot of a consent decision
// kept for audit and compliance. One document exists per permission and
// stable status; rebuilding it on duplicate delivery overwrites the same key.
type ConsentMarketDocument struct {
	MRID            string
	PermissionID    domain.PermissionID
	ConnectionID    domain.ConnectionID
	MeteringPointID domain.MeteringPointID
	ConsentID       domain.ConsentID
	Status          models.Status
	Start           *time.Time
	End             *time.Time
	CreatedAt       time.Time
}

// DocumentStore persists consent market documents.
type DocumentStore interface {
	Put(ctx context.Context, permissionID domain.PermissionID, status models.Status, doc ConsentMarketDocument) error
	Get(ctx context.Context, permissionID domain.PermissionID, status models.Status) (ConsentMarketDocument, bool)
}

// InMemoryDocumentStore is the reference DocumentStore.
type InMemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]ConsentMarketDocument
}

func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{docs: make(map[string]ConsentMarketDocument)}
}

func docKey(id domain.PermissionID, status models.Status) string {
	return string(id) + "|" + string(status)
}

func (s *InMemoryDocumentStore) Put(_ context.Context, permissionID domain.PermissionID, status models.Status, doc ConsentMarketDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey(permissionID, status)] = doc
	return nil
}

func (s *InMemoryDocumentStore) Get(_ context.Context, permissionID domain.PermissionID, status models.Status) (ConsentMarketDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey(permissionID, status)]
	return doc, ok
}

// stableStatuses are the points in the lifecycle at which a consent document
// is worth snapshotting for the audit trail.
var stableStatuses = map[models.Status]bool{
	models.StatusAccepted:             true,
	models.StatusRejected:             true,
	models.StatusRevoked:              true,
	models.StatusFulfilled:            true,
	models.StatusTerminated:           true,
	models.StatusExternallyTerminated: true,
}

// ConsentDocumentExtension builds a consent market document whenever a
// request reaches a stable state.
type ConsentDocumentExtension struct {
	store DocumentStore
}

func NewConsentDocumentExtension(store DocumentStore) *ConsentDocumentExtension {
	return &ConsentDocumentExtension{store: store}
}

func (e *ConsentDocumentExtension) Name() string { return "consent-document" }

func (e *ConsentDocumentExtension) Apply(ctx context.Context, snapshot models.PermissionRequest, event models.PermissionEvent) error {
	if !stableStatuses[event.Status] {
		return nil
	}
	doc := ConsentMarketDocument{
		MRID:            uuid.NewString(),
		PermissionID:    snapshot.PermissionID,
		ConnectionID:    snapshot.ConnectionID,
		MeteringPointID: snapshot.MeteringPointID,
		ConsentID:       snapshot.ConsentID,
		Status:          event.Status,
		Start:           snapshot.Start,
		End:             snapshot.End,
		CreatedAt:       event.CommittedAt,
	}
	return e.store.Put(ctx, snapshot.PermissionID, event.Status, doc)
}
