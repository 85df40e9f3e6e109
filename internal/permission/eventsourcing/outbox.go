package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
	"gridward/pkg/domain"
	"gridward/pkg/platform/sentinel"
)

// CommitObserver receives outbox outcome notifications for metrics. All
// methods must be safe for concurrent use.
type CommitObserver interface {
	EventCommitted(status models.Status)
	CommitRejected(status models.Status)
}

// lockStripes bounds memory for the per-permission commit locks. Two
// permissions sharing a stripe serialize against each other, which is safe,
// just occasionally slower.
const lockStripes = 128

// Outbox is the single write path for permission state changes. Commit
// validates the transition against the current aggregate, durably appends the
// event, then publishes it on the bus.
//
// Commits for the same permission are serialized: the losing side of two
// concurrent attempts re-reads the updated state and fails its transition
// check. Commits for different permissions proceed in parallel.
type Outbox struct {
	log      EventLog
	repo     store.Repository
	bus      *Bus
	logger   *slog.Logger
	observer CommitObserver
	now      func() time.Time

	locks [lockStripes]sync.Mutex
}

// NewOutbox wires the outbox. The repository is only read here; persistence
// of the new snapshot is the saving extension's job.
func NewOutbox(log EventLog, repo store.Repository, bus *Bus, logger *slog.Logger) *Outbox {
	return &Outbox{
		log:    log,
		repo:   repo,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// WithObserver attaches a metrics observer.
func (o *Outbox) WithObserver(obs CommitObserver) *Outbox {
	o.observer = obs
	return o
}

// WithClock overrides the commit timestamp source for tests.
func (o *Outbox) WithClock(now func() time.Time) *Outbox {
	o.now = now
	return o
}

func (o *Outbox) lock(id domain.PermissionID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &o.locks[h.Sum32()%lockStripes]
}

// Commit validates, durably appends and publishes the event. On a state
// machine rejection nothing is appended and the typed transition error is
// returned to the caller.
func (o *Outbox) Commit(ctx context.Context, event models.PermissionEvent) error {
	mu := o.lock(event.PermissionID)
	mu.Lock()
	defer mu.Unlock()

	snapshot, err := o.applied(ctx, event, o.now())
	if err != nil {
		if o.observer != nil {
			o.observer.CommitRejected(event.Status)
		}
		return err
	}
	event.CommittedAt = snapshot.StatusChangedAt

	if err := o.log.Append(ctx, event); err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	o.logger.InfoContext(ctx, "permission event committed",
		"permission_id", event.PermissionID,
		"status", event.Status,
	)
	if o.observer != nil {
		o.observer.EventCommitted(event.Status)
	}

	o.bus.Publish(ctx, *snapshot, event)
	if err := o.log.MarkPublished(ctx, event.EventID); err != nil {
		// The event stays unpublished in the log and will be delivered
		// again by Replay; extensions dedupe on the delivery key.
		o.logger.WarnContext(ctx, "failed to mark event published",
			"event_id", event.EventID, "error", err)
	}
	return nil
}

// applied loads the current aggregate and folds the event into a copy,
// enforcing the transition table. The returned snapshot carries the new
// status with StatusChangedAt stamped to the commit time.
func (o *Outbox) applied(ctx context.Context, event models.PermissionEvent, now time.Time) (*models.PermissionRequest, error) {
	current, err := o.repo.FindByPermissionID(ctx, event.PermissionID)
	switch {
	case err == nil:
		if event.Status == models.StatusCreated {
			return nil, fmt.Errorf("permission request %s: %w", event.PermissionID, sentinel.ErrDuplicate)
		}
	case errors.Is(err, sentinel.ErrNotFound):
		if event.Status != models.StatusCreated {
			return nil, err
		}
		current = &models.PermissionRequest{}
	default:
		return nil, fmt.Errorf("outbox load aggregate: %w", err)
	}

	snapshot := current.Clone()
	event.CommittedAt = now
	if err := event.ApplyTo(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Replay republishes every committed-but-unpublished event, reconstructing
// the snapshot each event produced from the event log. Called once on
// startup; delivery is at-least-once, so an event that was in fact published
// before the crash simply reaches the idempotent extensions twice.
func (o *Outbox) Replay(ctx context.Context) error {
	pending, err := o.log.Unpublished(ctx)
	if err != nil {
		return fmt.Errorf("outbox replay: %w", err)
	}
	for _, event := range pending {
		snapshot, err := o.snapshotAt(ctx, event)
		if err != nil {
			o.logger.ErrorContext(ctx, "replay could not rebuild snapshot",
				"event_id", event.EventID,
				"permission_id", event.PermissionID,
				"error", err,
			)
			continue
		}
		o.bus.Publish(ctx, *snapshot, event)
		if err := o.log.MarkPublished(ctx, event.EventID); err != nil {
			o.logger.WarnContext(ctx, "failed to mark replayed event published",
				"event_id", event.EventID, "error", err)
		}
	}
	if len(pending) > 0 {
		o.logger.InfoContext(ctx, "replayed unpublished permission events", "count", len(pending))
	}
	return nil
}

// snapshotAt folds the permission's event history up to and including the
// given event.
func (o *Outbox) snapshotAt(ctx context.Context, event models.PermissionEvent) (*models.PermissionRequest, error) {
	history, err := o.log.Events(ctx, event.PermissionID)
	if err != nil {
		return nil, err
	}
	snapshot := &models.PermissionRequest{}
	for _, ev := range history {
		if err := ev.ApplyTo(snapshot); err != nil {
			return nil, err
		}
		if ev.EventID == event.EventID {
			return snapshot, nil
		}
	}
	return nil, fmt.Errorf("event %s not in log for permission %s", event.EventID, event.PermissionID)
}
