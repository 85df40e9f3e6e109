package service

import (
	"context"
	"log/slog"
	"time"

	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
)

// Retry re-arms requests parked in the transient-failure states. It only
// commits the follow-up event; the transmission extension reacts to that
// event and re-attempts the blocked operation. Retries are unbounded here,
// backoff belongs to the transmission layer.
type Retry struct {
	repo   store.Repository
	outbox *eventsourcing.Outbox
	logger *slog.Logger
}

func NewRetry(repo store.Repository, outbox *eventsourcing.Outbox, logger *slog.Logger) *Retry {
	return &Retry{repo: repo, outbox: outbox, logger: logger}
}

// Tick performs one scan. UNABLE_TO_SEND goes back to VALIDATED (retry the
// transmission), FAILED_TO_TERMINATE back to REQUIRES_EXTERNAL_TERMINATION
// (retry the termination call). A commit lost to a concurrent transition is
// logged and skipped; the next tick sees the new state.
func (r *Retry) Tick(ctx context.Context) error {
	stuck, err := r.repo.FindByStatusIn(ctx, models.StatusUnableToSend, models.StatusFailedToTerminate)
	if err != nil {
		return err
	}
	for _, req := range stuck {
		var target models.Status
		switch req.Status {
		case models.StatusUnableToSend:
			target = models.StatusValidated
		case models.StatusFailedToTerminate:
			target = models.StatusRequiresExternalTermination
		default:
			continue
		}
		r.logger.InfoContext(ctx, "retrying blocked permission request",
			"permission_id", req.PermissionID,
			"status", req.Status,
			"target", target,
		)
		if err := r.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, target)); err != nil {
			r.logger.WarnContext(ctx, "retry commit lost",
				"permission_id", req.PermissionID, "error", err)
		}
	}
	return nil
}

// Run ticks on the given interval until the context is cancelled.
func (r *Retry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.ErrorContext(ctx, "retry scan failed", "error", err)
			}
		}
	}
}
