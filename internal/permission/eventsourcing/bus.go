package eventsourcing

import (
	"context"
	"fmt"
	"log/slog"

	"gridward/internal/permission/models"
)

// Extension is a pluggable reaction to committed events. Extensions own no
// permission state; they receive an immutable snapshot of the aggregate as it
// looked right after the event was applied, plus the event itself.
//
// Extensions must tolerate duplicate delivery of the same event (keyed by
// PermissionEvent.DeliveryKey) because the outbox guarantees at-least-once.
type Extension interface {
	Name() string
	Apply(ctx context.Context, snapshot models.PermissionRequest, event models.PermissionEvent) error
}

// Bus fans committed events out to the registered extensions. Delivery is
// synchronous within Publish: the outbox calls Publish while holding the
// per-permission commit lock, which gives every subscriber commit order per
// permission for free. Events for different permissions interleave.
//
// A failing or panicking extension is logged and skipped; it never prevents
// delivery to the remaining extensions and never rolls back the commit.
type Bus struct {
	extensions []Extension
	logger     *slog.Logger
}

// NewBus registers the extension set. The set is fixed at construction; there
// are no ordering guarantees between extensions.
func NewBus(logger *slog.Logger, extensions ...Extension) *Bus {
	return &Bus{extensions: extensions, logger: logger}
}

// Publish delivers the event and snapshot to every extension.
func (b *Bus) Publish(ctx context.Context, snapshot models.PermissionRequest, event models.PermissionEvent) {
	for _, ext := range b.extensions {
		b.deliver(ctx, ext, snapshot, event)
	}
}

func (b *Bus) deliver(ctx context.Context, ext Extension, snapshot models.PermissionRequest, event models.PermissionEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "extension panicked",
				"extension", ext.Name(),
				"permission_id", event.PermissionID,
				"status", event.Status,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := ext.Apply(ctx, snapshot, event); err != nil {
		b.logger.ErrorContext(ctx, "extension failed",
			"extension", ext.Name(),
			"permission_id", event.PermissionID,
			"status", event.Status,
			"error", err,
		)
	}
}
