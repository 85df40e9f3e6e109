package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gridward/internal/dataapi"
	"gridward/internal/dataneeds"
	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
	"gridward/pkg/domain"
	"gridward/pkg/platform/sentinel"
)

// RetransmissionResult is the tagged outcome of a retransmission request.
// Exactly one concrete type is delivered per request.
type RetransmissionResult interface {
	isRetransmissionResult()
	// Outcome returns the wire tag identifying the variant.
	Outcome() string
}

// retransmissionBase carries the fields every variant shares.
type retransmissionBase struct {
	PermissionID domain.PermissionID
	Timestamp    time.Time
}

// PermissionRequestNotFound: no request with the given id exists.
type PermissionRequestNotFound struct{ retransmissionBase }

// NoActivePermission: the request exists but is not ACCEPTED or FULFILLED.
type NoActivePermission struct {
	retransmissionBase
	Status models.Status
}

// RetransmissionNotSupported: the underlying data need has no historical
// readings to re-fetch, or the window reaches into data not yet finalized.
type RetransmissionNotSupported struct {
	retransmissionBase
	Reason string
}

// NoPermissionForTimeFrame: the requested window is not fully inside the
// permission's coverage window.
type NoPermissionForTimeFrame struct{ retransmissionBase }

// RetransmissionSuccess: the data was fetched and handed to the emitter.
type RetransmissionSuccess struct {
	retransmissionBase
	Readings int
}

// DataNotAvailable: the API answered but had no finalized data for the
// window.
type DataNotAvailable struct{ retransmissionBase }

// RetransmissionFailure: the fetch failed.
type RetransmissionFailure struct {
	retransmissionBase
	Message string
}

func (PermissionRequestNotFound) isRetransmissionResult()  {}
func (NoActivePermission) isRetransmissionResult()         {}
func (RetransmissionNotSupported) isRetransmissionResult() {}
func (NoPermissionForTimeFrame) isRetransmissionResult()   {}
func (RetransmissionSuccess) isRetransmissionResult()      {}
func (DataNotAvailable) isRetransmissionResult()           {}
func (RetransmissionFailure) isRetransmissionResult()      {}

func (PermissionRequestNotFound) Outcome() string  { return "PERMISSION_REQUEST_NOT_FOUND" }
func (NoActivePermission) Outcome() string         { return "NO_ACTIVE_PERMISSION" }
func (RetransmissionNotSupported) Outcome() string { return "NOT_SUPPORTED" }
func (NoPermissionForTimeFrame) Outcome() string   { return "NO_PERMISSION_FOR_TIME_FRAME" }
func (RetransmissionSuccess) Outcome() string      { return "SUCCESS" }
func (DataNotAvailable) Outcome() string           { return "DATA_NOT_AVAILABLE" }
func (RetransmissionFailure) Outcome() string      { return "FAILURE" }

// DataEmitter receives re-fetched readings for delivery to the requesting
// party.
type DataEmitter interface {
	EmitReadings(ctx context.Context, permissionID domain.PermissionID, series dataapi.Series) error
}

// Retransmission implements the on-demand re-fetch of already-authorized
// historical data. Validation short-circuits at the first failing check;
// only the external fetch itself is asynchronous. Close force-completes
// every in-flight fetch so shutdown never leaves a caller hanging.
type Retransmission struct {
	repo    store.Repository
	needs   *dataneeds.Service
	data    dataapi.Client
	emitter DataEmitter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]pendingRetransmission
	closed  bool
}

type pendingRetransmission struct {
	base    retransmissionBase
	results chan RetransmissionResult
}

func NewRetransmission(
	repo store.Repository,
	needs *dataneeds.Service,
	data dataapi.Client,
	emitter DataEmitter,
	logger *slog.Logger,
) *Retransmission {
	return &Retransmission{
		repo:    repo,
		needs:   needs,
		data:    data,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]pendingRetransmission),
	}
}

// WithClock overrides the time source for tests.
func (s *Retransmission) WithClock(now func() time.Time) *Retransmission {
	s.now = now
	return s
}

// Request validates and executes one retransmission. The returned channel
// delivers exactly one result and is then closed; after Close the result is
// always a failure.
func (s *Retransmission) Request(ctx context.Context, id domain.PermissionID, from, to time.Time) <-chan RetransmissionResult {
	base := retransmissionBase{PermissionID: id, Timestamp: s.now()}

	req, err := s.repo.FindByPermissionID(ctx, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return resolved(PermissionRequestNotFound{base})
	case err != nil:
		return resolved(RetransmissionFailure{base, fmt.Sprintf("lookup failed: %v", err)})
	}
	if req.Status != models.StatusAccepted && req.Status != models.StatusFulfilled {
		return resolved(NoActivePermission{base, req.Status})
	}
	if !s.needs.IsValidatedHistorical(req.DataNeedID) {
		return resolved(RetransmissionNotSupported{base, "data need has no historical readings"})
	}
	if req.Start == nil || from.Before(*req.Start) || (req.End != nil && to.After(*req.End)) {
		return resolved(NoPermissionForTimeFrame{base})
	}
	today := s.now().Truncate(24 * time.Hour)
	if !to.Before(today) {
		return resolved(RetransmissionNotSupported{base, "window reaches into data not yet finalized"})
	}

	need, _ := s.needs.ByID(req.DataNeedID)
	granularity := need.(dataneeds.ValidatedHistoricalDataNeed).Granularity

	token := uuid.NewString()
	results := make(chan RetransmissionResult, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return resolved(RetransmissionFailure{base, "shutting down"})
	}
	s.pending[token] = pendingRetransmission{base: base, results: results}
	s.mu.Unlock()

	go s.fetch(context.WithoutCancel(ctx), token, base, dataapi.Request{
		MeteringPointID: req.MeteringPointID,
		From:            from,
		To:              to,
		Granularity:     granularity,
	})
	return results
}

func (s *Retransmission) fetch(ctx context.Context, token string, base retransmissionBase, req dataapi.Request) {
	series, err := s.data.Fetch(ctx, req)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "retransmission fetch failed",
			"permission_id", base.PermissionID, "error", err)
		s.resolve(token, RetransmissionFailure{base, err.Error()})
	case series.Empty():
		s.resolve(token, DataNotAvailable{base})
	default:
		if err := s.emitter.EmitReadings(ctx, base.PermissionID, series); err != nil {
			s.resolve(token, RetransmissionFailure{base, fmt.Sprintf("emit readings: %v", err)})
			return
		}
		s.resolve(token, RetransmissionSuccess{base, len(series.Readings)})
	}
}

// resolve delivers the result unless Close already force-completed it.
func (s *Retransmission) resolve(token string, result RetransmissionResult) {
	s.mu.Lock()
	entry, ok := s.pending[token]
	delete(s.pending, token)
	s.mu.Unlock()
	if !ok {
		return
	}
	entry.results <- result
	close(entry.results)
}

// Close force-completes every pending retransmission with a failure. Each
// pending request resolves exactly once; later Request calls fail
// immediately.
func (s *Retransmission) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]pendingRetransmission)
	s.mu.Unlock()

	for _, entry := range pending {
		entry.results <- RetransmissionFailure{entry.base, "shutting down"}
		close(entry.results)
	}
}

func resolved(result RetransmissionResult) <-chan RetransmissionResult {
	results := make(chan RetransmissionResult, 1)
	results <- result
	close(results)
	return results
}
