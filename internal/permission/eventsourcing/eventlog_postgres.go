package eventsourcing

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// PostgresEventLog stores committed events in Postgres. The published flag
// implements the outbox half of the crash-safety contract: an event that was
// appended but never published survives a restart and is replayed.
type PostgresEventLog struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLog(pool *pgxpool.Pool) *PostgresEventLog {
	return &PostgresEventLog{pool: pool}
}

// EventLogSchema creates the permission_events table. Idempotent.
const EventLogSchema = `
CREATE TABLE IF NOT EXISTS permission_events (
	event_id          TEXT PRIMARY KEY,
	permission_id     TEXT NOT NULL,
	status            TEXT NOT NULL,
	connection_id     TEXT NOT NULL DEFAULT '',
	data_need_id      TEXT NOT NULL DEFAULT '',
	metering_point_id TEXT NOT NULL DEFAULT '',
	cm_request_id     TEXT NOT NULL DEFAULT '',
	conversation_id   TEXT NOT NULL DEFAULT '',
	consent_id        TEXT NOT NULL DEFAULT '',
	start_date        TIMESTAMPTZ,
	end_date          TIMESTAMPTZ,
	cause             TEXT NOT NULL DEFAULT '',
	committed_at      TIMESTAMPTZ NOT NULL,
	published         BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS permission_events_permission_idx
	ON permission_events (permission_id, committed_at);
CREATE INDEX IF NOT EXISTS permission_events_unpublished_idx
	ON permission_events (committed_at) WHERE NOT published;
`

const eventColumns = `event_id, permission_id, status, connection_id, data_need_id,
	metering_point_id, cm_request_id, conversation_id, consent_id, start_date,
	end_date, cause, committed_at`

func scanEvent(row pgx.Row) (models.PermissionEvent, error) {
	var ev models.PermissionEvent
	err := row.Scan(
		&ev.EventID, &ev.PermissionID, &ev.Status, &ev.ConnectionID,
		&ev.DataNeedID, &ev.MeteringPointID, &ev.CMRequestID, &ev.ConversationID,
		&ev.ConsentID, &ev.Start, &ev.End, &ev.Cause, &ev.CommittedAt,
	)
	return ev, err
}

func (l *PostgresEventLog) Append(ctx context.Context, event models.PermissionEvent) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO permission_events (`+eventColumns+`, published)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,FALSE)`,
		event.EventID, string(event.PermissionID), string(event.Status),
		string(event.ConnectionID), string(event.DataNeedID),
		string(event.MeteringPointID), event.CMRequestID, event.ConversationID,
		string(event.ConsentID), event.Start, event.End, event.Cause,
		event.CommittedAt,
	)
	if err != nil {
		return fmt.Errorf("append permission event %s: %w", event.EventID, err)
	}
	return nil
}

func (l *PostgresEventLog) MarkPublished(ctx context.Context, eventID string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE permission_events SET published = TRUE WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark event %s published: %w", eventID, err)
	}
	return nil
}

func (l *PostgresEventLog) Unpublished(ctx context.Context) ([]models.PermissionEvent, error) {
	return l.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM permission_events
		 WHERE NOT published ORDER BY committed_at`)
}

func (l *PostgresEventLog) Events(ctx context.Context, id domain.PermissionID) ([]models.PermissionEvent, error) {
	return l.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM permission_events
		 WHERE permission_id = $1 ORDER BY committed_at`, string(id))
}

func (l *PostgresEventLog) queryEvents(ctx context.Context, query string, args ...any) ([]models.PermissionEvent, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query permission events: %w", err)
	}
	defer rows.Close()
	var out []models.PermissionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
