package voicemail

import (
	"context"
	"errors"
	"time"

	"telephony-events/internal/broadcast"
	"telephony-events/internal/events"
	"telephony-events/internal/payload"
	"telephony-events/pkg/logger"
)

// Notifier is the fan-out contract the handler publishes through.
type Notifier interface {
	Publish(ctx context.Context, tenantID, providerUserID string, evt broadcast.Event)
}

// DefaultDedupeWindow is how far back a voicemail with no provider call id is
// matched against existing rows before a new one is inserted. Heuristic: two
// genuinely distinct voicemails from the same number inside the window would
// merge, an inherited ambiguity with no better answer available upstream.
const DefaultDedupeWindow = 2 * time.Minute

// Handler owns the voicemail event types.
type Handler struct {
	repo         Repository
	notifier     Notifier
	limits       payload.Limits
	dedupeWindow time.Duration
	clock        func() time.Time
}

func NewHandler(repo Repository, notifier Notifier, limits payload.Limits, dedupeWindow time.Duration) *Handler {
	if dedupeWindow <= 0 {
		dedupeWindow = DefaultDedupeWindow
	}
	return &Handler{
		repo:         repo,
		notifier:     notifier,
		limits:       limits,
		dedupeWindow: dedupeWindow,
		clock:        time.Now,
	}
}

// Register binds the voicemail handlers.
func (h *Handler) Register(reg *events.Registry) {
	reg.Register("voicemail.received", events.HandlerFunc(h.HandleReceived))
	reg.Register("voicemail.transcribed", events.HandlerFunc(h.HandleTranscribed))
}

// HandleReceived stores a new voicemail. A missing assigned user is a
// reported, non-fatal error: there is nothing meaningful to store, so the
// event is processed without creating an entity.
func (h *Handler) HandleReceived(ctx context.Context, evt events.RawEvent) error {
	log := logger.From(ctx)
	body := payload.Decode(evt.Payload)

	assignedUserID := payload.String(body, "voicemail.user_id", "voicemail.assigned_user_id", "user_id", "agent_id")
	if assignedUserID == "" {
		log.Error("voicemail event without target user, dropping",
			"event_id", evt.ID,
			"tenant_id", evt.TenantID,
		)
		return nil
	}

	v := Voicemail{
		TenantID:       evt.TenantID,
		ProviderCallID: payload.String(body, "voicemail.call_id", "call.id", "call_id"),
		AssignedUserID: assignedUserID,
		FromNumber:     payload.String(body, "voicemail.from", "voicemail.from_number", "from", "from_number"),
		ToNumber:       payload.String(body, "voicemail.to", "voicemail.to_number", "to", "to_number"),
		RecordingURL:   payload.String(body, "voicemail.recording_url", "recording_url", "url"),
		Transcript:     payload.String(body, "voicemail.transcript", "transcript"),
	}
	if n, ok := payload.Int(body, "voicemail.duration", "voicemail.duration_seconds", "duration"); ok {
		v.DurationSeconds = n
	}
	v.SanitizedPayload = payload.MustJSON(payload.Sanitize(map[string]any(body), h.limits))

	if v.ProviderCallID == "" {
		// No natural unique key: suppress retried deliveries by the
		// time-window heuristic.
		since := h.clock().UTC().Add(-h.dedupeWindow)
		created, stored, err := h.repo.InsertDetached(ctx, v, since)
		if err != nil {
			return err
		}
		if !created {
			log.Warn("suppressing duplicate voicemail within window",
				"tenant_id", v.TenantID,
				"voicemail_id", stored.ID,
			)
			return nil
		}
		h.notify(ctx, evt.EventType, stored)
		return nil
	}

	stored, err := h.repo.Insert(ctx, v)
	if err != nil {
		return err
	}
	h.notify(ctx, evt.EventType, stored)
	return nil
}

// HandleTranscribed attaches a late-arriving transcript.
func (h *Handler) HandleTranscribed(ctx context.Context, evt events.RawEvent) error {
	log := logger.From(ctx)
	body := payload.Decode(evt.Payload)

	transcript := payload.String(body, "voicemail.transcript", "transcript", "text")
	if transcript == "" {
		log.Warn("transcription event without transcript", "event_id", evt.ID)
		return nil
	}

	providerCallID := payload.String(body, "voicemail.call_id", "call.id", "call_id")
	if providerCallID == "" {
		log.Warn("transcription event without call id", "event_id", evt.ID)
		return nil
	}

	v, err := h.repo.GetByProviderCallID(ctx, evt.TenantID, providerCallID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("transcript for unknown voicemail",
			"tenant_id", evt.TenantID,
			"provider_call_id", providerCallID,
		)
		return nil
	}
	if err != nil {
		return err
	}

	v.Transcript = transcript
	updated, err := h.repo.Update(ctx, v)
	if err != nil {
		return err
	}
	h.notify(ctx, evt.EventType, updated)
	return nil
}

func (h *Handler) notify(ctx context.Context, eventType string, v Voicemail) {
	if h.notifier == nil {
		return
	}
	h.notifier.Publish(ctx, v.TenantID, v.AssignedUserID, broadcast.Event{
		Type: eventType,
		Data: map[string]any{
			"voicemail_id":     v.ID,
			"provider_call_id": v.ProviderCallID,
			"from_number":      v.FromNumber,
			"to_number":        v.ToNumber,
			"duration_seconds": v.DurationSeconds,
			"has_transcript":   v.Transcript != "",
		},
	})
}
