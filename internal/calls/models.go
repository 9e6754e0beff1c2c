package calls

import (
	"encoding/json"
	"time"

	"telephony-events/internal/payload"
)

// Call represents a tenant-scoped phone call derived from provider events.
//
// Multi-tenant invariant: TenantID is required on every row and participates
// in every query predicate.
//
// Idempotency: (tenant_id, provider_call_id) is the natural upsert key;
// duplicate and out-of-order deliveries converge onto one row.
type Call struct {
	ID             string `json:"id" db:"id"`
	TenantID       string `json:"tenant_id" db:"tenant_id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	Direction payload.Direction `json:"direction,omitempty" db:"direction"`

	FromNumber     string `json:"from_number,omitempty" db:"from_number"`
	ToNumber       string `json:"to_number,omitempty" db:"to_number"`
	AssignedUserID string `json:"assigned_user_id,omitempty" db:"assigned_user_id"`

	Status Status `json:"status" db:"status"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds,omitempty" db:"duration_seconds"`

	// RecordingURL is attached by a later event after call completion.
	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	// SanitizedPayload is a bounded debug copy of the latest contributing
	// payload. The unbounded audit copy lives on the raw event row.
	SanitizedPayload json.RawMessage `json:"sanitized_payload,omitempty" db:"sanitized_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
	StatusVoicemail Status = "voicemail"
)

// IsTerminal reports whether no further legitimate transition exists.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusRejected, StatusVoicemail:
		return true
	default:
		return false
	}
}

// directionFromDB guards the normalized-enum invariant on the read path:
// only the two known literals ever come back out.
func directionFromDB(s string) payload.Direction {
	switch payload.Direction(s) {
	case payload.DirectionInbound:
		return payload.DirectionInbound
	case payload.DirectionOutbound:
		return payload.DirectionOutbound
	default:
		return payload.DirectionUnknown
	}
}
