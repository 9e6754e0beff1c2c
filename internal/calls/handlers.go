package calls

import (
	"bytes"
	"context"
	"errors"
	"time"

	"telephony-events/internal/broadcast"
	"telephony-events/internal/events"
	"telephony-events/internal/payload"
	"telephony-events/pkg/logger"
)

// Notifier is the fan-out contract handlers publish through.
type Notifier interface {
	Publish(ctx context.Context, tenantID, providerUserID string, evt broadcast.Event)
}

// Handlers owns the call lifecycle event types.
//
// Shared algorithm per event: extract provider fields (tolerating structural
// variation), normalize direction, load the existing row, guard the status
// transition, upsert, broadcast. Every write is a single upsert keyed on
// (tenant_id, provider_call_id) so concurrent deliveries converge in the
// database rather than through application locks.
//
// Handlers return an error only for storage faults; everything else is a
// delivery artifact that gets logged and reported as processed.
type Handlers struct {
	repo     Repository
	notifier Notifier
	limits   payload.Limits
	clock    func() time.Time
}

func NewHandlers(repo Repository, notifier Notifier, limits payload.Limits) *Handlers {
	return &Handlers{repo: repo, notifier: notifier, limits: limits, clock: time.Now}
}

// Register binds the call lifecycle handlers.
func (h *Handlers) Register(reg *events.Registry) {
	reg.Register("call.ring", events.HandlerFunc(h.HandleRing))
	reg.Register("call.started", events.HandlerFunc(h.HandleStarted))
	reg.Register("call.ended", events.HandlerFunc(h.HandleEnded))
	reg.Register("call.recording", events.HandlerFunc(h.HandleRecording))
}

func (h *Handlers) HandleRing(ctx context.Context, evt events.RawEvent) error {
	return h.applyLifecycle(ctx, evt, StatusRinging)
}

func (h *Handlers) HandleStarted(ctx context.Context, evt events.RawEvent) error {
	return h.applyLifecycle(ctx, evt, StatusActive)
}

func (h *Handlers) HandleEnded(ctx context.Context, evt events.RawEvent) error {
	body := payload.Decode(evt.Payload)
	return h.apply(ctx, evt, body, endedStatus(body))
}

// HandleRecording attaches a recording URL after call completion. The status
// is left as-is; a recording for a call we have never seen is an ordering
// artifact, logged and dropped.
func (h *Handlers) HandleRecording(ctx context.Context, evt events.RawEvent) error {
	log := logger.From(ctx)
	body := payload.Decode(evt.Payload)

	providerCallID := extractCallID(body)
	if providerCallID == "" {
		log.Warn("recording event without call id", "event_id", evt.ID)
		return nil
	}
	url := payload.String(body, "call.recording_url", "recording.url", "recording_url", "url")
	if url == "" {
		log.Warn("recording event without url",
			"event_id", evt.ID,
			"provider_call_id", providerCallID,
		)
		return nil
	}

	existing, err := h.repo.Get(ctx, evt.TenantID, providerCallID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("recording for unknown call",
			"provider_call_id", providerCallID,
			"tenant_id", evt.TenantID,
		)
		return nil
	}
	if err != nil {
		return err
	}

	existing.RecordingURL = url
	existing.SanitizedPayload = payload.MustJSON(payload.Sanitize(map[string]any(body), h.limits))
	updated, err := h.repo.Upsert(ctx, existing)
	if err != nil {
		return err
	}
	h.notify(ctx, evt.EventType, updated)
	return nil
}

func (h *Handlers) applyLifecycle(ctx context.Context, evt events.RawEvent, implied Status) error {
	return h.apply(ctx, evt, payload.Decode(evt.Payload), implied)
}

func (h *Handlers) apply(ctx context.Context, evt events.RawEvent, body map[string]any, implied Status) error {
	log := logger.From(ctx)

	providerCallID := extractCallID(body)
	if providerCallID == "" {
		log.Warn("call event without call id",
			"event_id", evt.ID,
			"event_type", evt.EventType,
		)
		return nil
	}

	var prior *Call
	existing, err := h.repo.Get(ctx, evt.TenantID, providerCallID)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = Call{
			TenantID:       evt.TenantID,
			ProviderCallID: providerCallID,
			Status:         implied,
		}
	case err != nil:
		return err
	default:
		loaded := existing
		prior = &loaded
		if !IsValidTransition(existing.Status, implied) {
			// An ordering anomaly from upstream, not a poison message: keep
			// the last-known-good state and report the event processed.
			log.Warn("illegal call status transition rejected",
				"provider_call_id", providerCallID,
				"tenant_id", evt.TenantID,
				"current", string(existing.Status),
				"next", string(implied),
			)
			return nil
		}
		existing.Status = implied
	}

	next := h.merge(ctx, existing, body, evt)
	if prior != nil && callUnchanged(*prior, next) {
		// A repeated delivery of an already-applied event. Skip the write
		// and the fan-out; subscribers saw this state the first time.
		log.Debug("duplicate delivery left call unchanged",
			"provider_call_id", providerCallID,
			"tenant_id", evt.TenantID,
			"status", string(next.Status),
		)
		return nil
	}
	updated, err := h.repo.Upsert(ctx, next)
	if err != nil {
		return err
	}
	h.notify(ctx, evt.EventType, updated)
	return nil
}

// callUnchanged reports whether the merged row carries nothing the stored
// row does not already have. Legal self-transitions on terminal statuses
// land here when the provider redelivers a call.ended.
func callUnchanged(prior, next Call) bool {
	if prior.Status != next.Status || prior.Direction != next.Direction {
		return false
	}
	if prior.FromNumber != next.FromNumber || prior.ToNumber != next.ToNumber {
		return false
	}
	if prior.AssignedUserID != next.AssignedUserID || prior.RecordingURL != next.RecordingURL {
		return false
	}
	if !prior.StartedAt.Equal(next.StartedAt) || prior.DurationSeconds != next.DurationSeconds {
		return false
	}
	if (prior.EndedAt == nil) != (next.EndedAt == nil) {
		return false
	}
	if prior.EndedAt != nil && !prior.EndedAt.Equal(*next.EndedAt) {
		return false
	}
	return bytes.Equal(prior.SanitizedPayload, next.SanitizedPayload)
}

// merge folds event fields into the row, preferring event values when present
// and keeping prior values otherwise.
func (h *Handlers) merge(ctx context.Context, c Call, body map[string]any, evt events.RawEvent) Call {
	if d := payload.NormalizeDirection(ctx, payload.String(body, "call.direction", "direction")); d != payload.DirectionUnknown {
		c.Direction = d
	}
	if v := payload.String(body, "call.from", "call.from_number", "from", "from_number"); v != "" {
		c.FromNumber = v
	}
	if v := payload.String(body, "call.to", "call.to_number", "to", "to_number"); v != "" {
		c.ToNumber = v
	}
	if v := payload.String(body, "call.user_id", "call.assigned_user_id", "user_id", "agent_id"); v != "" {
		c.AssignedUserID = v
	}

	now := h.clock().UTC()
	if c.StartedAt.IsZero() {
		if ts, ok := payload.Time(body, "call.started_at", "started_at", "timestamp", "occurred_at"); ok {
			c.StartedAt = ts
		} else {
			c.StartedAt = now
		}
	}

	if c.Status == StatusEnded && c.EndedAt == nil {
		ended := now
		if ts, ok := payload.Time(body, "call.ended_at", "ended_at", "timestamp", "occurred_at"); ok {
			ended = ts
		}
		c.EndedAt = &ended
	}
	if c.Status == StatusEnded && c.DurationSeconds == 0 {
		if n, ok := payload.Int(body, "call.duration", "call.duration_seconds", "duration", "duration_seconds"); ok {
			c.DurationSeconds = n
		} else if c.EndedAt != nil && !c.StartedAt.IsZero() && c.EndedAt.After(c.StartedAt) {
			c.DurationSeconds = int(c.EndedAt.Sub(c.StartedAt) / time.Second)
		}
	}

	// Debug payload updates on every contributing event, status change or not.
	c.SanitizedPayload = payload.MustJSON(payload.Sanitize(map[string]any(body), h.limits))
	return c
}

func (h *Handlers) notify(ctx context.Context, eventType string, c Call) {
	if h.notifier == nil {
		return
	}
	h.notifier.Publish(ctx, c.TenantID, c.AssignedUserID, broadcast.Event{
		Type: eventType,
		Data: map[string]any{
			"call_id":          c.ID,
			"provider_call_id": c.ProviderCallID,
			"status":           string(c.Status),
			"direction":        string(c.Direction),
			"from_number":      c.FromNumber,
			"to_number":        c.ToNumber,
			"duration_seconds": c.DurationSeconds,
			"recording_url":    c.RecordingURL,
		},
	})
}

func extractCallID(body map[string]any) string {
	return payload.String(body, "call.id", "call.call_id", "call_id", "id")
}

// endedStatus maps the provider's disposition onto a terminal status;
// absent or unrecognized dispositions mean a normally completed call.
func endedStatus(body map[string]any) Status {
	switch payload.String(body, "call.disposition", "call.result", "disposition", "result") {
	case "missed", "no_answer", "no-answer":
		return StatusMissed
	case "rejected", "declined", "busy":
		return StatusRejected
	case "voicemail":
		return StatusVoicemail
	default:
		return StatusEnded
	}
}
