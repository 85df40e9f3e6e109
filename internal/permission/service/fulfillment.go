package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// Fulfillment decides, from incoming data coverage, whether an accepted
// request has received everything it asked for.
type Fulfillment struct {
	outbox *eventsourcing.Outbox
	logger *slog.Logger

	mu        sync.Mutex
	fulfilled map[domain.PermissionID]struct{}
}

func NewFulfillment(outbox *eventsourcing.Outbox, logger *slog.Logger) *Fulfillment {
	return &Fulfillment{
		outbox:    outbox,
		logger:    logger,
		fulfilled: make(map[domain.PermissionID]struct{}),
	}
}

// TryFulfill commits a FULFILLED event when the retrieved data coverage
// reaches the request's end date. The window is end-inclusive, so coverage
// equal to the end counts. Open-ended requests (nil end) never auto-fulfill.
//
// Repeated calls with growing coverage commit at most one event; the method
// reports whether the request is now (or already was) fulfilled and never
// returns an error to the polling path.
func (f *Fulfillment) TryFulfill(ctx context.Context, req *models.PermissionRequest, coverageEnd time.Time) bool {
	if req.Status == models.StatusFulfilled {
		return true
	}
	if req.Status != models.StatusAccepted || req.End == nil {
		return false
	}
	if coverageEnd.Before(*req.End) {
		return false
	}

	f.mu.Lock()
	if _, done := f.fulfilled[req.PermissionID]; done {
		f.mu.Unlock()
		return true
	}
	f.fulfilled[req.PermissionID] = struct{}{}
	f.mu.Unlock()

	if err := f.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusFulfilled)); err != nil {
		f.logger.ErrorContext(ctx, "failed to commit fulfillment",
			"permission_id", req.PermissionID, "error", err)
		f.mu.Lock()
		delete(f.fulfilled, req.PermissionID)
		f.mu.Unlock()
		return false
	}
	f.logger.InfoContext(ctx, "permission request fulfilled",
		"permission_id", req.PermissionID,
		"coverage_end", coverageEnd,
	)
	// A fulfilled consent still exists on the administrator's side and has
	// to be closed out there.
	if err := f.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusRequiresExternalTermination)); err != nil {
		f.logger.ErrorContext(ctx, "failed to queue external termination after fulfillment",
			"permission_id", req.PermissionID, "error", err)
	}
	return true
}
