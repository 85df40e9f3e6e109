package extensions

import (
	"context"
	"log/slog"
	"sync"

	"gridward/internal/outbound"
	"gridward/internal/permission/models"
)

// MessagingExtension maps each event to a connection-status message and fans
// it out to the configured outbound sinks. Duplicate deliveries are dropped
// by delivery key so replay does not double-notify watchers; a failing sink
// is logged and does not stop delivery to the others.
type MessagingExtension struct {
	sinks  []outbound.Sink
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMessagingExtension(logger *slog.Logger, sinks ...outbound.Sink) *MessagingExtension {
	return &MessagingExtension{
		sinks:  sinks,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

func (e *MessagingExtension) Name() string { return "messaging" }

func (e *MessagingExtension) Apply(ctx context.Context, snapshot models.PermissionRequest, event models.PermissionEvent) error {
	key := event.DeliveryKey()
	e.mu.Lock()
	if _, dup := e.seen[key]; dup {
		e.mu.Unlock()
		return nil
	}
	e.seen[key] = struct{}{}
	e.mu.Unlock()

	msg := outbound.StatusMessage{
		ConnectionID: snapshot.ConnectionID,
		PermissionID: event.PermissionID,
		DataNeedID:   snapshot.DataNeedID,
		Status:       event.Status,
		Timestamp:    event.CommittedAt,
	}
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, msg); err != nil {
			e.logger.ErrorContext(ctx, "status message delivery failed",
				"sink", sink.Name(),
				"permission_id", msg.PermissionID,
				"status", msg.Status,
				"error", err,
			)
		}
	}
	return nil
}
