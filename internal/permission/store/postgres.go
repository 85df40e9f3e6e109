package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gridward/internal/permission/models"
	"gridward/pkg/domain"
)

// PostgresStore implements Repository on top of a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool; the caller owns the pool lifecycle.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema creates the permission_requests table. Applied at startup; the
// statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS permission_requests (
	permission_id     TEXT PRIMARY KEY,
	connection_id     TEXT NOT NULL,
	data_need_id      TEXT NOT NULL,
	cm_request_id     TEXT NOT NULL DEFAULT '',
	conversation_id   TEXT NOT NULL DEFAULT '',
	consent_id        TEXT NOT NULL DEFAULT '',
	metering_point_id TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	status_changed_at TIMESTAMPTZ NOT NULL,
	start_date        TIMESTAMPTZ,
	end_date          TIMESTAMPTZ,
	latest_reading    TIMESTAMPTZ,
	cause             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS permission_requests_status_idx
	ON permission_requests (status);
CREATE INDEX IF NOT EXISTS permission_requests_correlation_idx
	ON permission_requests (conversation_id, cm_request_id);
`

const requestColumns = `permission_id, connection_id, data_need_id, cm_request_id,
	conversation_id, consent_id, metering_point_id, status, status_changed_at,
	start_date, end_date, latest_reading, cause`

func scanRequest(row pgx.Row) (*models.PermissionRequest, error) {
	var req models.PermissionRequest
	err := row.Scan(
		&req.PermissionID, &req.ConnectionID, &req.DataNeedID, &req.CMRequestID,
		&req.ConversationID, &req.ConsentID, &req.MeteringPointID, &req.Status,
		&req.StatusChangedAt, &req.Start, &req.End, &req.LatestReading, &req.Cause,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, what, key, query string, args ...any) (*models.PermissionRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(what, key)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	return req, nil
}

func (s *PostgresStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.PermissionRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query permission requests: %w", err)
	}
	defer rows.Close()
	var out []*models.PermissionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByPermissionID(ctx context.Context, id domain.PermissionID) (*models.PermissionRequest, error) {
	return s.queryOne(ctx, "permission request", string(id),
		`SELECT `+requestColumns+` FROM permission_requests WHERE permission_id = $1`, string(id))
}

func (s *PostgresStore) FindByConversationIDOrCMRequestID(ctx context.Context, conversationID, cmRequestID string) (*models.PermissionRequest, error) {
	return s.queryOne(ctx, "permission request by correlation", conversationID+"/"+cmRequestID,
		`SELECT `+requestColumns+` FROM permission_requests
		 WHERE (conversation_id <> '' AND conversation_id = $1)
		    OR (cm_request_id <> '' AND cm_request_id = $2)
		 LIMIT 1`, conversationID, cmRequestID)
}

func (s *PostgresStore) FindByStatusIn(ctx context.Context, statuses ...models.Status) ([]*models.PermissionRequest, error) {
	wanted := make([]string, len(statuses))
	for i, st := range statuses {
		wanted[i] = string(st)
	}
	return s.queryMany(ctx,
		`SELECT `+requestColumns+` FROM permission_requests WHERE status = ANY($1)`, wanted)
}

func (s *PostgresStore) FindStale(ctx context.Context, olderThan time.Duration) ([]*models.PermissionRequest, error) {
	terminal := make([]string, 0, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		if models.Terminal(st) {
			terminal = append(terminal, string(st))
		}
	}
	return s.queryMany(ctx,
		`SELECT `+requestColumns+` FROM permission_requests
		 WHERE NOT (status = ANY($1)) AND status_changed_at < $2`,
		terminal, time.Now().Add(-olderThan))
}

func (s *PostgresStore) FindByMeteringPointAndDate(ctx context.Context, meteringPointID domain.MeteringPointID, date time.Time) ([]*models.PermissionRequest, error) {
	return s.queryMany(ctx,
		`SELECT `+requestColumns+` FROM permission_requests
		 WHERE metering_point_id = $1
		   AND (start_date IS NULL OR start_date <= $2)
		   AND (end_date IS NULL OR end_date >= $2)`,
		string(meteringPointID), date)
}

func (s *PostgresStore) FindByConsentID(ctx context.Context, consentID domain.ConsentID) (*models.PermissionRequest, error) {
	return s.queryOne(ctx, "permission request by consent", string(consentID),
		`SELECT `+requestColumns+` FROM permission_requests WHERE consent_id = $1 AND consent_id <> ''`,
		string(consentID))
}

func (s *PostgresStore) Save(ctx context.Context, req *models.PermissionRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO permission_requests (`+requestColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 ON CONFLICT (permission_id) DO UPDATE SET
			cm_request_id = EXCLUDED.cm_request_id,
			conversation_id = EXCLUDED.conversation_id,
			consent_id = EXCLUDED.consent_id,
			status = EXCLUDED.status,
			status_changed_at = EXCLUDED.status_changed_at,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			latest_reading = EXCLUDED.latest_reading,
			cause = EXCLUDED.cause`,
		string(req.PermissionID), string(req.ConnectionID), string(req.DataNeedID),
		req.CMRequestID, req.ConversationID, string(req.ConsentID),
		string(req.MeteringPointID), string(req.Status), req.StatusChangedAt,
		req.Start, req.End, req.LatestReading, req.Cause,
	)
	if err != nil {
		return fmt.Errorf("save permission request %s: %w", req.PermissionID, err)
	}
	return nil
}
