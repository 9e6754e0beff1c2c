package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telephony-events/internal/calls"
	"telephony-events/internal/payload"
)

// SQLRepo reads the pipeline's own tables. All statements are read-only.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) ListCalls(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	q := `
SELECT id, tenant_id, provider_call_id, direction, from_number, to_number,
       assigned_user_id, status, started_at, ended_at, duration_seconds,
       recording_url, created_at, updated_at
FROM calls
WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`

	rows, err := r.db.QueryContext(ctx, q, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		var c calls.Call
		var direction, status string
		var endedAt sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.ProviderCallID, &direction, &c.FromNumber,
			&c.ToNumber, &c.AssignedUserID, &status, &c.StartedAt, &endedAt,
			&c.DurationSeconds, &c.RecordingURL, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.Direction = payload.Direction(direction)
		c.Status = calls.Status(status)
		if endedAt.Valid {
			t := endedAt.Time
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepo) CountVoicemails(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	return r.countRange(ctx, "voicemails", tenantID, from, to)
}

func (r *SQLRepo) CountMessages(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	return r.countRange(ctx, "messages", tenantID, from, to)
}

func (r *SQLRepo) countRange(ctx context.Context, table, tenantID string, from, to time.Time) (int, error) {
	if tenantID == "" {
		return 0, ErrInvalidRequest
	}
	// table is one of two compile-time constants, never user input.
	q := `SELECT COUNT(*) FROM ` + table + ` WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`
	var n int
	err := r.db.QueryRowContext(ctx, q, tenantID, from, to).Scan(&n)
	return n, err
}

func (r *SQLRepo) UnprocessedEvents(ctx context.Context) (int, *time.Time, error) {
	q := `SELECT COUNT(*), MIN(received_at) FROM raw_events WHERE processed_at IS NULL`
	var n int
	var oldest sql.NullTime
	if err := r.db.QueryRowContext(ctx, q).Scan(&n, &oldest); err != nil {
		return 0, nil, err
	}
	if !oldest.Valid {
		return n, nil, nil
	}
	t := oldest.Time
	return n, &t, nil
}

func (r *SQLRepo) ProcessedSince(ctx context.Context, since time.Time) (int, error) {
	q := `SELECT COUNT(*) FROM raw_events WHERE processed_at >= $1`
	var n int
	err := r.db.QueryRowContext(ctx, q, since).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
