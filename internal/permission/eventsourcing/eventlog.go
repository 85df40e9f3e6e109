// Package eventsourcing implements the durable outbox and the event bus that
// propagate permission state changes to subscribers. The contract is
// at-least-once delivery in commit order per permission; subscribers are
// expected to be idempotent against duplicate delivery of the same event.
package eventsourcing

import (
	"context"
	"sync"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// EventLog is the durable append point behind the outbox. Appended events are
// unpublished until explicitly marked; replay after a crash republishes
// everything still unpublished.
type EventLog interface {
	Append(ctx context.Context, event models.PermissionEvent) error
	MarkPublished(ctx context.Context, eventID string) error
	Unpublished(ctx context.Context) ([]models.PermissionEvent, error)
	// Events returns the committed events for one permission in commit order.
	Events(ctx context.Context, id domain.PermissionID) ([]models.PermissionEvent, error)
}

// InMemoryEventLog is the reference EventLog used by tests and single-node
// development setups.
type InMemoryEventLog struct {
	mu        sync.RWMutex
	events    []models.PermissionEvent
	published map[string]bool
}

func NewInMemoryEventLog() *InMemoryEventLog {
	return &InMemoryEventLog{published: make(map[string]bool)}
}

func (l *InMemoryEventLog) Append(_ context.Context, event models.PermissionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *InMemoryEventLog) MarkPublished(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published[eventID] = true
	return nil
}

func (l *InMemoryEventLog) Unpublished(_ context.Context) ([]models.PermissionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.PermissionEvent
	for _, ev := range l.events {
		if !l.published[ev.EventID] {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *InMemoryEventLog) Events(_ context.Context, id domain.PermissionID) ([]models.PermissionEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.PermissionEvent
	for _, ev := range l.events {
		if ev.PermissionID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}
