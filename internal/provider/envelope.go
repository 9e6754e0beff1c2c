package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxBodyBytes bounds a webhook request body. Provider payloads are a few
// KB; anything near this limit is hostile or broken.
const MaxBodyBytes = 1 << 20

var (
	ErrBodyTooLarge = errors.New("provider: webhook body too large")
	ErrBadEnvelope  = errors.New("provider: malformed webhook envelope")
)

// Envelope is the outer shape of a provider webhook delivery. The provider
// sends JSON with a per-delivery event id, an event type, the originating
// organization, and a type-specific data object.
//
// Keep it minimal and provider-adapter-only. Interpretation of Data belongs
// to the event handlers, after the delivery has been durably queued.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OrganizationID string          `json:"organization_id"`
	Data           json.RawMessage `json:"data"`
}

// envelopeWire tolerates the field-name variants seen across provider API
// versions. First non-empty alias wins.
type envelopeWire struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	OrgID     string `json:"org_id"`
	OrgIDLong string `json:"organization_id"`

	Data json.RawMessage `json:"data"`
}

// ParseEnvelope reads and validates a webhook delivery. The event type is
// the only hard requirement; a missing event id falls back to empty, which
// the ingest layer treats as non-deduplicatable.
func ParseEnvelope(r *http.Request) (Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return Envelope{}, fmt.Errorf("read webhook body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return Envelope{}, ErrBodyTooLarge
	}

	var w envelopeWire
	if err := json.Unmarshal(body, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	env := Envelope{
		EventID:        firstNonEmpty(w.EventID, w.ID),
		EventType:      strings.TrimSpace(firstNonEmpty(w.EventType, w.Type)),
		OrganizationID: firstNonEmpty(w.OrgIDLong, w.OrgID),
		Data:           w.Data,
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("%w: missing event type", ErrBadEnvelope)
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage(`{}`)
	}
	return env, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
