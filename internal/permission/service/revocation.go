package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
	"gridward/pkg/domain"
	"gridward/pkg/platform/sentinel"
)

// RevocationSignal is an inbound notice from the administrator that a
// consent was withdrawn. Depending on the administrator's protocol it
// carries either the consent id, or the metering point plus the date the
// revocation takes effect.
type RevocationSignal struct {
	ConsentID       domain.ConsentID
	MeteringPointID domain.MeteringPointID
	EffectiveDate   time.Time
}

// Revocation matches inbound revocation signals to permission requests and
// closes them. Signals that match nothing are logged and dropped; they are
// routine when the administrator notifies about consents granted elsewhere.
type Revocation struct {
	repo   store.Repository
	outbox *eventsourcing.Outbox
	logger *slog.Logger
}

func NewRevocation(repo store.Repository, outbox *eventsourcing.Outbox, logger *slog.Logger) *Revocation {
	return &Revocation{repo: repo, outbox: outbox, logger: logger}
}

// Handle processes one signal: exact match by consent id first, then the
// metering point and effective date as fallback against requests whose
// window covers the date. ACCEPTED requests are revoked; FULFILLED requests
// already have their data, so the consent is closed out through external
// termination instead.
func (r *Revocation) Handle(ctx context.Context, sig RevocationSignal) {
	req := r.match(ctx, sig)
	if req == nil {
		r.logger.InfoContext(ctx, "revocation signal matched no permission request",
			"consent_id", sig.ConsentID,
			"metering_point_id", sig.MeteringPointID,
			"effective_date", sig.EffectiveDate,
		)
		return
	}

	var target models.Status
	switch req.Status {
	case models.StatusAccepted:
		target = models.StatusRevoked
	case models.StatusFulfilled:
		target = models.StatusRequiresExternalTermination
	default:
		r.logger.InfoContext(ctx, "ignoring revocation for inactive permission request",
			"permission_id", req.PermissionID, "status", req.Status)
		return
	}
	if err := r.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, target)); err != nil {
		r.logger.WarnContext(ctx, "revocation commit lost",
			"permission_id", req.PermissionID, "error", err)
		return
	}
	r.logger.InfoContext(ctx, "permission request revoked upstream",
		"permission_id", req.PermissionID, "target", target)
}

func (r *Revocation) match(ctx context.Context, sig RevocationSignal) *models.PermissionRequest {
	if sig.ConsentID != "" {
		req, err := r.repo.FindByConsentID(ctx, sig.ConsentID)
		if err == nil {
			return req
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			r.logger.ErrorContext(ctx, "consent lookup failed",
				"consent_id", sig.ConsentID, "error", err)
			return nil
		}
	}
	if sig.MeteringPointID == "" {
		return nil
	}
	candidates, err := r.repo.FindByMeteringPointAndDate(ctx, sig.MeteringPointID, sig.EffectiveDate)
	if err != nil {
		r.logger.ErrorContext(ctx, "metering point lookup failed",
			"metering_point_id", sig.MeteringPointID, "error", err)
		return nil
	}
	for _, req := range candidates {
		if req.Status == models.StatusAccepted || req.Status == models.StatusFulfilled {
			return req
		}
	}
	return nil
}

// Run consumes signals until the channel closes or the context is
// cancelled. Closing the channel is the clean shutdown path.
func (r *Revocation) Run(ctx context.Context, signals <-chan RevocationSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			r.Handle(ctx, sig)
		}
	}
}
