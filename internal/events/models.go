package events

import (
	"encoding/json"
	"time"
)

// RawEvent is one row of the append-only event store.
//
// Multi-tenant invariant: TenantID participates in every query predicate.
// Idempotency invariant: ProviderEventID is globally unique; re-deliveries of
// the same upstream event never create a second row.
//
// Payload is stored verbatim for audit regardless of the sanitization later
// applied to derived entities.
type RawEvent struct {
	ID              string          `json:"id" db:"id"`
	TenantID        string          `json:"tenant_id" db:"tenant_id"`
	EventType       string          `json:"event_type" db:"event_type"`
	ProviderEventID string          `json:"provider_event_id" db:"provider_event_id"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	ReceivedAt      time.Time       `json:"received_at" db:"received_at"`

	// ProcessedAt is monotonic: once set, never unset. nil means the row is
	// eligible for claiming.
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// EnqueueParams is the ingestion-side write.
type EnqueueParams struct {
	TenantID        string
	EventType       string
	ProviderEventID string
	Payload         json.RawMessage
}
