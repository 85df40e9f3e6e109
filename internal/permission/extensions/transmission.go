package extensions

import (
	"context"
	"log/slog"
	"sync"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// Transmitter is the part of the permission service that talks to the
// administrator. Declared here so the extension does not depend on the
// service package.
type Transmitter interface {
	// Send transmits a validated request; the outcome is committed as a
	// follow-up event (SENT, UNABLE_TO_SEND or INVALID).
	Send(ctx context.Context, id domain.PermissionID)
	// ExecuteExternalTermination asks the administrator to end the consent;
	// the outcome is committed as EXTERNALLY_TERMINATED or
	// FAILED_TO_TERMINATE.
	ExecuteExternalTermination(ctx context.Context, id domain.PermissionID)
}

// TransmissionExtension drives the administrator round-trips off the event
// stream: a VALIDATED event triggers transmission, a
// REQUIRES_EXTERNAL_TERMINATION event triggers the termination call. The
// retry service relies on this: it only commits the follow-up event and this
// extension picks it up like any other.
//
// The calls run on their own goroutine: they commit follow-up events for the
// same permission, which must not happen inside the delivery of the current
// one.
type TransmissionExtension struct {
	logger *slog.Logger

	mu          sync.RWMutex
	transmitter Transmitter
}

func NewTransmissionExtension(logger *slog.Logger) *TransmissionExtension {
	return &TransmissionExtension{logger: logger}
}

// Bind attaches the transmitter after construction. The extension set is
// registered on the bus before the service exists, so this is late-bound.
func (e *TransmissionExtension) Bind(t Transmitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transmitter = t
}

func (e *TransmissionExtension) Name() string { return "transmission" }

func (e *TransmissionExtension) Apply(ctx context.Context, _ models.PermissionRequest, event models.PermissionEvent) error {
	e.mu.RLock()
	transmitter := e.transmitter
	e.mu.RUnlock()
	if transmitter == nil {
		e.logger.WarnContext(ctx, "transmission extension not bound, dropping trigger",
			"permission_id", event.PermissionID, "status", event.Status)
		return nil
	}
	switch event.Status {
	case models.StatusValidated:
		go transmitter.Send(context.WithoutCancel(ctx), event.PermissionID)
	case models.StatusRequiresExternalTermination:
		go transmitter.ExecuteExternalTermination(context.WithoutCancel(ctx), event.PermissionID)
	}
	return nil
}
