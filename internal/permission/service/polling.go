package service

import (
	"context"
	"log/slog"
	"time"

	"gridward/internal/dataapi"
	"gridward/internal/dataneeds"
	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
)

// Polling periodically fetches new consumption readings for accepted
// requests and feeds the coverage into fulfillment. The polling marker is
// the only field that mutates outside an event: it records the last reading
// timestamp retrieved and only ever advances.
type Polling struct {
	repo        store.Repository
	outbox      *eventsourcing.Outbox
	needs       *dataneeds.Service
	data        dataapi.Client
	emitter     DataEmitter
	fulfillment *Fulfillment
	logger      *slog.Logger
	now         func() time.Time
}

func NewPolling(
	repo store.Repository,
	outbox *eventsourcing.Outbox,
	needs *dataneeds.Service,
	data dataapi.Client,
	emitter DataEmitter,
	fulfillment *Fulfillment,
	logger *slog.Logger,
) *Polling {
	return &Polling{
		repo:        repo,
		outbox:      outbox,
		needs:       needs,
		data:        data,
		emitter:     emitter,
		fulfillment: fulfillment,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source for tests.
func (p *Polling) WithClock(now func() time.Time) *Polling {
	p.now = now
	return p
}

// Tick polls every accepted request once.
func (p *Polling) Tick(ctx context.Context) error {
	accepted, err := p.repo.FindByStatusIn(ctx, models.StatusAccepted)
	if err != nil {
		return err
	}
	for _, req := range accepted {
		p.poll(ctx, req)
	}
	return nil
}

func (p *Polling) poll(ctx context.Context, req *models.PermissionRequest) {
	need, ok := p.needs.ByID(req.DataNeedID)
	if !ok {
		return
	}
	historical, ok := need.(dataneeds.ValidatedHistoricalDataNeed)
	if !ok || req.Start == nil {
		return
	}

	// Only finalized days are fetched: from the day after the last retrieved
	// reading (or the window start) up to yesterday, capped at the window
	// end.
	yesterday := p.now().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	from := *req.Start
	if req.LatestReading != nil {
		from = req.LatestReading.AddDate(0, 0, 1)
	}
	to := yesterday
	if req.End != nil && req.End.Before(to) {
		to = *req.End
	}
	if from.After(to) {
		return
	}

	series, err := p.data.Fetch(ctx, dataapi.Request{
		MeteringPointID: req.MeteringPointID,
		From:            from,
		To:              to,
		Granularity:     historical.Granularity,
	})
	if err != nil {
		p.handleFetchError(ctx, req, err)
		return
	}
	if series.Empty() {
		return
	}

	if err := p.emitter.EmitReadings(ctx, req.PermissionID, series); err != nil {
		p.logger.ErrorContext(ctx, "failed to emit polled readings",
			"permission_id", req.PermissionID, "error", err)
		return
	}
	coverageEnd := series.CoverageEnd()
	if req.AdvanceLatestReading(coverageEnd) {
		if err := p.repo.Save(ctx, req); err != nil {
			p.logger.ErrorContext(ctx, "failed to persist polling marker",
				"permission_id", req.PermissionID, "error", err)
		}
	}
	p.fulfillment.TryFulfill(ctx, req, coverageEnd)
}

func (p *Polling) handleFetchError(ctx context.Context, req *models.PermissionRequest, err error) {
	switch {
	case dataapi.Unauthorized(err):
		// The API refusing our authorization means the consent was revoked
		// on the administrator's side without a signal reaching us.
		p.logger.InfoContext(ctx, "authorization rejected, revoking permission request",
			"permission_id", req.PermissionID, "error", err)
		if err := p.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusRevoked)); err != nil {
			p.logger.WarnContext(ctx, "revocation commit lost",
				"permission_id", req.PermissionID, "error", err)
		}
	case dataapi.RateLimited(err):
		p.logger.WarnContext(ctx, "data api rate limited, backing off until next round",
			"permission_id", req.PermissionID)
	case dataapi.Retryable(err):
		p.logger.WarnContext(ctx, "data fetch failed, will retry next round",
			"permission_id", req.PermissionID, "error", err)
	default:
		p.logger.WarnContext(ctx, "data api permanently rejected request, marking unfulfillable",
			"permission_id", req.PermissionID, "error", err)
		if err := p.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusUnfulfillable)); err != nil {
			p.logger.WarnContext(ctx, "unfulfillable commit lost",
				"permission_id", req.PermissionID, "error", err)
			return
		}
		if err := p.outbox.Commit(ctx, models.NewStatusEvent(req.PermissionID, models.StatusRequiresExternalTermination)); err != nil {
			p.logger.WarnContext(ctx, "termination queue commit lost",
				"permission_id", req.PermissionID, "error", err)
		}
	}
}

// Run ticks on the given interval until the context is cancelled.
func (p *Polling) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.logger.ErrorContext(ctx, "polling round failed", "error", err)
			}
		}
	}
}
