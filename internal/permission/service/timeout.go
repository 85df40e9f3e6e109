package service

import (
	"context"
	"log/slog"
	"time"

	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
)

// Timeout closes out requests the administrator never answered. The stale
// scan is generic over non-terminal states; only requests stuck in
// SENT_TO_PERMISSION_ADMINISTRATOR are timed out, since that is the only
// state waiting on an answer with no other loop responsible for it.
type Timeout struct {
	repo   store.Repository
	outbox *eventsourcing.Outbox
	logger *slog.Logger
	maxAge time.Duration
}

func NewTimeout(repo store.Repository, outbox *eventsourcing.Outbox, logger *slog.Logger, maxAge time.Duration) *Timeout {
	return &Timeout{repo: repo, outbox: outbox, logger: logger, maxAge: maxAge}
}

// Tick performs one scan.
func (t *Timeout) Tick(ctx context.Context) error {
	stale, err := t.repo.FindStale(ctx, t.maxAge)
	if err != nil {
		return err
	}
	for _, req := range stale {
		if req.Status != models.StatusSentToPermissionAdministrator {
			continue
		}
		t.logger.InfoContext(ctx, "timing out unanswered permission request",
			"permission_id", req.PermissionID,
			"status_changed_at", req.StatusChangedAt,
		)
		if err := t.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusTimedOut)); err != nil {
			t.logger.WarnContext(ctx, "timeout commit lost",
				"permission_id", req.PermissionID, "error", err)
		}
	}
	return nil
}

// Run ticks on the given interval until the context is cancelled.
func (t *Timeout) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Tick(ctx); err != nil {
				t.logger.ErrorContext(ctx, "timeout scan failed", "error", err)
			}
		}
	}
}
