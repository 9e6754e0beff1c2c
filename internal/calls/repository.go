package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Repository is the persistence contract for calls.
//
// Upsert must be a single insert-or-update statement keyed on
// (tenant_id, provider_call_id): concurrent handlers for the same call
// converge via database-level conflict resolution, not application locking.
type Repository interface {
	Get(ctx context.Context, tenantID, providerCallID string) (Call, error)
	Upsert(ctx context.Context, c Call) (Call, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]Call, error)
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// NOTE: SQLRepository assumes the following table exists:
//
//	calls (
//	  id                UUID PRIMARY KEY,
//	  tenant_id         TEXT NOT NULL,
//	  provider_call_id  TEXT NOT NULL,
//	  direction         TEXT NOT NULL DEFAULT '',
//	  from_number       TEXT NOT NULL DEFAULT '',
//	  to_number         TEXT NOT NULL DEFAULT '',
//	  assigned_user_id  TEXT NOT NULL DEFAULT '',
//	  status            TEXT NOT NULL,
//	  started_at        TIMESTAMPTZ NOT NULL,
//	  ended_at          TIMESTAMPTZ,
//	  duration_seconds  INT NOT NULL DEFAULT 0,
//	  recording_url     TEXT NOT NULL DEFAULT '',
//	  sanitized_payload JSONB,
//	  created_at        TIMESTAMPTZ NOT NULL,
//	  updated_at        TIMESTAMPTZ NOT NULL,
//	  UNIQUE (tenant_id, provider_call_id)
//	)
type SQLRepository struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, clock: time.Now}
}

const callColumns = `
id, tenant_id, provider_call_id, direction, from_number, to_number,
assigned_user_id, status, started_at, ended_at, duration_seconds,
recording_url, sanitized_payload, created_at, updated_at`

func (r *SQLRepository) Get(ctx context.Context, tenantID, providerCallID string) (Call, error) {
	if tenantID == "" || providerCallID == "" {
		return Call{}, ErrInvalidArgument
	}
	q := `SELECT` + callColumns + `
FROM calls
WHERE tenant_id = $1 AND provider_call_id = $2`
	return scanCall(r.db.QueryRowContext(ctx, q, tenantID, providerCallID))
}

func (r *SQLRepository) Upsert(ctx context.Context, c Call) (Call, error) {
	if c.TenantID == "" || c.ProviderCallID == "" {
		return Call{}, ErrInvalidArgument
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := r.clock().UTC()

	q := `
INSERT INTO calls (
  id, tenant_id, provider_call_id, direction, from_number, to_number,
  assigned_user_id, status, started_at, ended_at, duration_seconds,
  recording_url, sanitized_payload, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
ON CONFLICT (tenant_id, provider_call_id) DO UPDATE SET
  direction         = EXCLUDED.direction,
  from_number       = EXCLUDED.from_number,
  to_number         = EXCLUDED.to_number,
  assigned_user_id  = EXCLUDED.assigned_user_id,
  status            = EXCLUDED.status,
  started_at        = EXCLUDED.started_at,
  ended_at          = EXCLUDED.ended_at,
  duration_seconds  = EXCLUDED.duration_seconds,
  recording_url     = EXCLUDED.recording_url,
  sanitized_payload = EXCLUDED.sanitized_payload,
  updated_at        = EXCLUDED.updated_at
RETURNING` + callColumns

	return scanCall(r.db.QueryRowContext(ctx, q,
		c.ID,
		c.TenantID,
		c.ProviderCallID,
		string(c.Direction),
		c.FromNumber,
		c.ToNumber,
		c.AssignedUserID,
		string(c.Status),
		c.StartedAt.UTC(),
		c.EndedAt,
		c.DurationSeconds,
		c.RecordingURL,
		[]byte(c.SanitizedPayload),
		now,
	))
}

func (r *SQLRepository) List(ctx context.Context, tenantID string, f ListFilter) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT` + callColumns + `
FROM calls
WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
ORDER BY started_at DESC
LIMIT $3 OFFSET $4`

	rows, err := r.db.QueryContext(ctx, q, tenantID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCallRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row *sql.Row) (Call, error) {
	c, err := scanCallRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func scanCallRows(row rowScanner) (Call, error) {
	var c Call
	var direction, status string
	var endedAt sql.NullTime
	var sanitized []byte
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.ProviderCallID,
		&direction,
		&c.FromNumber,
		&c.ToNumber,
		&c.AssignedUserID,
		&status,
		&c.StartedAt,
		&endedAt,
		&c.DurationSeconds,
		&c.RecordingURL,
		&sanitized,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.Direction = directionFromDB(direction)
	c.Status = Status(status)
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	c.SanitizedPayload = sanitized
	return c, nil
}
