package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"telephony-events/internal/broadcast"
	"telephony-events/internal/events"
	"telephony-events/internal/payload"
	"telephony-events/pkg/logger"
)

var (
	ErrNotFound        = errors.New("messages: not found")
	ErrInvalidArgument = errors.New("messages: invalid argument")
)

// Message is a tenant-scoped SMS/MMS record. Weaker lifecycle rules than
// Call: no state machine, just an idempotent upsert keyed on
// (tenant_id, provider_message_id).
type Message struct {
	ID                string `json:"id" db:"id"`
	TenantID          string `json:"tenant_id" db:"tenant_id"`
	ProviderMessageID string `json:"provider_message_id" db:"provider_message_id"`

	Direction  payload.Direction `json:"direction,omitempty" db:"direction"`
	FromNumber string            `json:"from_number,omitempty" db:"from_number"`
	ToNumber   string            `json:"to_number,omitempty" db:"to_number"`
	Body       string            `json:"body,omitempty" db:"body"`

	SanitizedPayload json.RawMessage `json:"sanitized_payload,omitempty" db:"sanitized_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Repository interface {
	Upsert(ctx context.Context, m Message) (Message, error)
	List(ctx context.Context, tenantID string, limit, offset int) ([]Message, error)
}

// NOTE: SQLRepository assumes the following table exists:
//
//	messages (
//	  id                  UUID PRIMARY KEY,
//	  tenant_id           TEXT NOT NULL,
//	  provider_message_id TEXT NOT NULL,
//	  direction           TEXT NOT NULL DEFAULT '',
//	  from_number         TEXT NOT NULL DEFAULT '',
//	  to_number           TEXT NOT NULL DEFAULT '',
//	  body                TEXT NOT NULL DEFAULT '',
//	  sanitized_payload   JSONB,
//	  created_at          TIMESTAMPTZ NOT NULL,
//	  updated_at          TIMESTAMPTZ NOT NULL,
//	  UNIQUE (tenant_id, provider_message_id)
//	)
type SQLRepository struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db, clock: time.Now}
}

const msgColumns = `
id, tenant_id, provider_message_id, direction, from_number, to_number, body,
sanitized_payload, created_at, updated_at`

func (r *SQLRepository) Upsert(ctx context.Context, m Message) (Message, error) {
	if m.TenantID == "" || m.ProviderMessageID == "" {
		return Message{}, ErrInvalidArgument
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := r.clock().UTC()

	q := `
INSERT INTO messages (
  id, tenant_id, provider_message_id, direction, from_number, to_number, body,
  sanitized_payload, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (tenant_id, provider_message_id) DO UPDATE SET
  direction         = EXCLUDED.direction,
  from_number       = EXCLUDED.from_number,
  to_number         = EXCLUDED.to_number,
  body              = EXCLUDED.body,
  sanitized_payload = EXCLUDED.sanitized_payload,
  updated_at        = EXCLUDED.updated_at
RETURNING` + msgColumns

	row := r.db.QueryRowContext(ctx, q,
		m.ID, m.TenantID, m.ProviderMessageID, string(m.Direction),
		m.FromNumber, m.ToNumber, m.Body, []byte(m.SanitizedPayload), now,
	)
	return scanMessage(row)
}

func (r *SQLRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]Message, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT` + msgColumns + `
FROM messages
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, q, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var direction string
		var sanitized []byte
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.ProviderMessageID, &direction,
			&m.FromNumber, &m.ToNumber, &m.Body, &sanitized,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.Direction = payload.Direction(direction)
		m.SanitizedPayload = sanitized
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row *sql.Row) (Message, error) {
	var m Message
	var direction string
	var sanitized []byte
	err := row.Scan(
		&m.ID, &m.TenantID, &m.ProviderMessageID, &direction,
		&m.FromNumber, &m.ToNumber, &m.Body, &sanitized,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	m.Direction = payload.Direction(direction)
	m.SanitizedPayload = sanitized
	return m, nil
}

// Notifier is the fan-out contract the handler publishes through.
type Notifier interface {
	Publish(ctx context.Context, tenantID, providerUserID string, evt broadcast.Event)
}

// Handler owns the message event types.
type Handler struct {
	repo     Repository
	notifier Notifier
	limits   payload.Limits
}

func NewHandler(repo Repository, notifier Notifier, limits payload.Limits) *Handler {
	return &Handler{repo: repo, notifier: notifier, limits: limits}
}

// Register binds the message handlers.
func (h *Handler) Register(reg *events.Registry) {
	reg.Register("message.received", events.HandlerFunc(h.HandleMessage))
	reg.Register("message.sent", events.HandlerFunc(h.HandleMessage))
}

// HandleMessage upserts the message row. Both directions share one handler;
// the event type only seeds the direction fallback.
func (h *Handler) HandleMessage(ctx context.Context, evt events.RawEvent) error {
	log := logger.From(ctx)
	body := payload.Decode(evt.Payload)

	providerMessageID := payload.String(body, "message.id", "message_id", "id")
	if providerMessageID == "" {
		log.Warn("message event without message id", "event_id", evt.ID)
		return nil
	}

	direction := payload.NormalizeDirection(ctx, payload.String(body, "message.direction", "direction"))
	if direction == payload.DirectionUnknown {
		if evt.EventType == "message.sent" {
			direction = payload.DirectionOutbound
		} else {
			direction = payload.DirectionInbound
		}
	}

	m := Message{
		TenantID:          evt.TenantID,
		ProviderMessageID: providerMessageID,
		Direction:         direction,
		FromNumber:        payload.String(body, "message.from", "from", "from_number"),
		ToNumber:          payload.String(body, "message.to", "to", "to_number"),
		Body:              payload.String(body, "message.body", "message.text", "body", "text"),
		SanitizedPayload:  payload.MustJSON(payload.Sanitize(body, h.limits)),
	}

	stored, err := h.repo.Upsert(ctx, m)
	if err != nil {
		return err
	}
	if h.notifier != nil {
		h.notifier.Publish(ctx, stored.TenantID,
			payload.String(body, "message.user_id", "user_id"),
			broadcast.Event{
				Type: evt.EventType,
				Data: map[string]any{
					"message_id":          stored.ID,
					"provider_message_id": stored.ProviderMessageID,
					"direction":           string(stored.Direction),
					"from_number":         stored.FromNumber,
					"to_number":           stored.ToNumber,
				},
			})
	}
	return nil
}
