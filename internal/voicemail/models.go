package voicemail

import (
	"encoding/json"
	"time"
)

// Voicemail is a tenant-scoped voicemail record.
//
// Unlike Call there is no status state machine: a voicemail is created once
// and only updated to attach late-arriving fields (transcript, recording).
//
// ProviderCallID is optional: a voicemail can exist without an answered
// call. AssignedUserID is required: a voicemail nobody owns is meaningless
// and is never stored.
type Voicemail struct {
	ID             string `json:"id" db:"id"`
	TenantID       string `json:"tenant_id" db:"tenant_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	AssignedUserID string `json:"assigned_user_id" db:"assigned_user_id"`

	FromNumber string `json:"from_number,omitempty" db:"from_number"`
	ToNumber   string `json:"to_number,omitempty" db:"to_number"`

	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`
	Transcript      string `json:"transcript,omitempty" db:"transcript"`
	DurationSeconds int    `json:"duration_seconds,omitempty" db:"duration_seconds"`

	SanitizedPayload json.RawMessage `json:"sanitized_payload,omitempty" db:"sanitized_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
