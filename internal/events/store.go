package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("events: invalid argument")

// Store is the event queue contract.
//
// ClaimBatch must guarantee at-most-one-concurrent-processor-per-event:
// two concurrent callers never receive overlapping rows, and rows claimed by
// an in-flight caller are skipped, not waited on. This is the property that
// lets multiple process instances poll the same table safely.
type Store interface {
	// Enqueue appends one raw event. A provider_event_id conflict is not an
	// error: it returns inserted=false and leaves the existing row untouched.
	Enqueue(ctx context.Context, p EnqueueParams) (inserted bool, err error)

	// ClaimBatch atomically claims up to limit unprocessed rows, oldest
	// first. The returned batch holds the claim until Close; rows not marked
	// processed by then become claimable again.
	ClaimBatch(ctx context.Context, limit int) (Batch, error)

	// UnprocessedCount is the pipeline's primary lag signal.
	UnprocessedCount(ctx context.Context) (int64, error)
}

// Batch is a claimed set of events. MarkProcessed is idempotent; marking an
// already-processed row is a harmless no-op.
type Batch interface {
	Events() []RawEvent
	MarkProcessed(ctx context.Context, id string) error
	// Close commits marks and releases the claim on everything unmarked.
	Close(ctx context.Context) error
}

// NOTE: SQLStore assumes the following table exists:
//
//   raw_events (
//     id                UUID PRIMARY KEY,
//     tenant_id         TEXT,
//     event_type        TEXT NOT NULL,
//     provider_event_id TEXT NOT NULL UNIQUE,
//     payload           JSONB NOT NULL,
//     received_at       TIMESTAMPTZ NOT NULL,
//     processed_at      TIMESTAMPTZ
//   )
//   with a partial index on (received_at) WHERE processed_at IS NULL.
type SQLStore struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

func (s *SQLStore) Enqueue(ctx context.Context, p EnqueueParams) (bool, error) {
	if p.EventType == "" || p.ProviderEventID == "" || len(p.Payload) == 0 {
		return false, ErrInvalidArgument
	}

	const q = `
INSERT INTO raw_events (id, tenant_id, event_type, provider_event_id, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (provider_event_id) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q,
		uuid.NewString(),
		nullableString(p.TenantID),
		p.EventType,
		p.ProviderEventID,
		[]byte(p.Payload),
		s.clock().UTC(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) ClaimBatch(ctx context.Context, limit int) (Batch, error) {
	if limit <= 0 {
		return nil, ErrInvalidArgument
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}

	// SKIP LOCKED keeps concurrent claimers disjoint without blocking.
	// Locks release at transaction end, so a claimer that dies mid-batch
	// leaves nothing stuck.
	const q = `
SELECT id, tenant_id, event_type, provider_event_id, payload, received_at, processed_at
FROM raw_events
WHERE processed_at IS NULL
ORDER BY received_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.QueryContext(ctx, q, limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	defer rows.Close()

	var claimed []RawEvent
	for rows.Next() {
		var e RawEvent
		var tenantID sql.NullString
		if err := rows.Scan(
			&e.ID,
			&tenantID,
			&e.EventType,
			&e.ProviderEventID,
			&e.Payload,
			&e.ReceivedAt,
			&e.ProcessedAt,
		); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		e.TenantID = tenantID.String
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &sqlBatch{tx: tx, events: claimed, clock: s.clock}, nil
}

func (s *SQLStore) UnprocessedCount(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM raw_events WHERE processed_at IS NULL`
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type sqlBatch struct {
	tx     *sql.Tx
	events []RawEvent
	clock  func() time.Time
	closed bool
}

func (b *sqlBatch) Events() []RawEvent { return b.events }

func (b *sqlBatch) MarkProcessed(ctx context.Context, id string) error {
	// The processed_at guard keeps the timestamp monotonic.
	const q = `
UPDATE raw_events
SET processed_at = $2
WHERE id = $1 AND processed_at IS NULL
`
	_, err := b.tx.ExecContext(ctx, q, id, b.clock().UTC())
	return err
}

func (b *sqlBatch) Close(_ context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.tx.Commit()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
