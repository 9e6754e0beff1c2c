package voicemail

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"telephony-events/pkg/store"
)

var (
	ErrNotFound        = errors.New("voicemail: not found")
	ErrInvalidArgument = errors.New("voicemail: invalid argument")
)

// Repository is the persistence contract for voicemails.
//
// InsertDetached backs the duplicate-suppression heuristic for voicemails
// with no provider call id: there is no natural unique key in that case, so
// a retried delivery is matched by (tenant, assigned user, from, to) within
// a short window. Probe and insert run in one transaction so retried
// deliveries racing each other settle on one row.
type Repository interface {
	GetByProviderCallID(ctx context.Context, tenantID, providerCallID string) (Voicemail, error)
	// InsertDetached inserts unless a matching row already exists within the
	// window; created reports whether a new row landed.
	InsertDetached(ctx context.Context, v Voicemail, since time.Time) (created bool, out Voicemail, err error)
	Insert(ctx context.Context, v Voicemail) (Voicemail, error)
	Update(ctx context.Context, v Voicemail) (Voicemail, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]Voicemail, error)
}

// querier is the subset of sql.DB/sql.Tx the single-row statements need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NOTE: SQLRepository assumes the following table exists:
//
//	voicemails (
//	  id                UUID PRIMARY KEY,
//	  tenant_id         TEXT NOT NULL,
//	  provider_call_id  TEXT NOT NULL DEFAULT '',
//	  assigned_user_id  TEXT NOT NULL,
//	  from_number       TEXT NOT NULL DEFAULT '',
//	  to_number         TEXT NOT NULL DEFAULT '',
//	  recording_url     TEXT NOT NULL DEFAULT '',
//	  transcript        TEXT NOT NULL DEFAULT '',
//	  duration_seconds  INT NOT NULL DEFAULT 0,
//	  sanitized_payload JSONB,
//	  created_at        TIMESTAMPTZ NOT NULL,
//	  updated_at        TIMESTAMPTZ NOT NULL
//	)
//	with a partial unique index on (tenant_id, provider_call_id)
//	WHERE provider_call_id <> ''.
type SQLRepository struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, clock: time.Now}
}

const vmColumns = `
id, tenant_id, provider_call_id, assigned_user_id, from_number, to_number,
recording_url, transcript, duration_seconds, sanitized_payload, created_at, updated_at`

func (r *SQLRepository) GetByProviderCallID(ctx context.Context, tenantID, providerCallID string) (Voicemail, error) {
	if tenantID == "" || providerCallID == "" {
		return Voicemail{}, ErrInvalidArgument
	}
	q := `SELECT` + vmColumns + `
FROM voicemails
WHERE tenant_id = $1 AND provider_call_id = $2`
	return scanVoicemail(r.db.QueryRowContext(ctx, q, tenantID, providerCallID))
}

// InsertDetached probes the dedupe window and inserts inside one
// transaction, so two deliveries of the same detached voicemail cannot both
// insert when their probes interleave.
func (r *SQLRepository) InsertDetached(ctx context.Context, v Voicemail, since time.Time) (bool, Voicemail, error) {
	if v.TenantID == "" || v.AssignedUserID == "" {
		return false, Voicemail{}, ErrInvalidArgument
	}

	var out Voicemail
	created := false
	err := store.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		existing, ok, err := r.findRecent(ctx, tx, v.TenantID, v.AssignedUserID, v.FromNumber, v.ToNumber, since)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}
		out, err = r.insert(ctx, tx, v)
		created = err == nil
		return err
	})
	if err != nil {
		return false, Voicemail{}, err
	}
	return created, out, nil
}

func (r *SQLRepository) findRecent(ctx context.Context, q querier, tenantID, assignedUserID, fromNumber, toNumber string, since time.Time) (Voicemail, bool, error) {
	stmt := `SELECT` + vmColumns + `
FROM voicemails
WHERE tenant_id = $1 AND assigned_user_id = $2
  AND from_number = $3 AND to_number = $4
  AND created_at >= $5
ORDER BY created_at DESC
LIMIT 1`
	v, err := scanVoicemail(q.QueryRowContext(ctx, stmt, tenantID, assignedUserID, fromNumber, toNumber, since.UTC()))
	if errors.Is(err, ErrNotFound) {
		return Voicemail{}, false, nil
	}
	if err != nil {
		return Voicemail{}, false, err
	}
	return v, true, nil
}

func (r *SQLRepository) Insert(ctx context.Context, v Voicemail) (Voicemail, error) {
	if v.TenantID == "" || v.AssignedUserID == "" {
		return Voicemail{}, ErrInvalidArgument
	}
	return r.insert(ctx, r.db, v)
}

func (r *SQLRepository) insert(ctx context.Context, qr querier, v Voicemail) (Voicemail, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := r.clock().UTC()

	// The partial unique index keeps retried call-attached voicemails to one
	// row; DO UPDATE folds the retry's fields into it.
	q := `
INSERT INTO voicemails (
  id, tenant_id, provider_call_id, assigned_user_id, from_number, to_number,
  recording_url, transcript, duration_seconds, sanitized_payload, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (tenant_id, provider_call_id) WHERE provider_call_id <> ''
DO UPDATE SET
  recording_url     = EXCLUDED.recording_url,
  transcript        = CASE WHEN EXCLUDED.transcript <> '' THEN EXCLUDED.transcript ELSE voicemails.transcript END,
  duration_seconds  = EXCLUDED.duration_seconds,
  sanitized_payload = EXCLUDED.sanitized_payload,
  updated_at        = EXCLUDED.updated_at
RETURNING` + vmColumns

	return scanVoicemail(qr.QueryRowContext(ctx, q,
		v.ID,
		v.TenantID,
		v.ProviderCallID,
		v.AssignedUserID,
		v.FromNumber,
		v.ToNumber,
		v.RecordingURL,
		v.Transcript,
		v.DurationSeconds,
		[]byte(v.SanitizedPayload),
		now,
	))
}

func (r *SQLRepository) Update(ctx context.Context, v Voicemail) (Voicemail, error) {
	if v.ID == "" || v.TenantID == "" {
		return Voicemail{}, ErrInvalidArgument
	}
	q := `
UPDATE voicemails
SET recording_url = $3,
    transcript = $4,
    duration_seconds = $5,
    sanitized_payload = $6,
    updated_at = $7
WHERE tenant_id = $1 AND id = $2
RETURNING` + vmColumns

	return scanVoicemail(r.db.QueryRowContext(ctx, q,
		v.TenantID,
		v.ID,
		v.RecordingURL,
		v.Transcript,
		v.DurationSeconds,
		[]byte(v.SanitizedPayload),
		r.clock().UTC(),
	))
}

func (r *SQLRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]Voicemail, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT` + vmColumns + `
FROM voicemails
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, q, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Voicemail
	for rows.Next() {
		var v Voicemail
		var sanitized []byte
		if err := rows.Scan(
			&v.ID, &v.TenantID, &v.ProviderCallID, &v.AssignedUserID,
			&v.FromNumber, &v.ToNumber, &v.RecordingURL, &v.Transcript,
			&v.DurationSeconds, &sanitized, &v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, err
		}
		v.SanitizedPayload = sanitized
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVoicemail(row *sql.Row) (Voicemail, error) {
	var v Voicemail
	var sanitized []byte
	err := row.Scan(
		&v.ID, &v.TenantID, &v.ProviderCallID, &v.AssignedUserID,
		&v.FromNumber, &v.ToNumber, &v.RecordingURL, &v.Transcript,
		&v.DurationSeconds, &sanitized, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Voicemail{}, ErrNotFound
	}
	if err != nil {
		return Voicemail{}, err
	}
	v.SanitizedPayload = sanitized
	return v, nil
}
