package calls

import (
	"context"
	"encoding/json"
	"testing"

	"telephony-events/internal/broadcast"
	"telephony-events/internal/events"
	"telephony-events/internal/payload"
)

type fakeNotifier struct {
	published []broadcast.Event
}

func (f *fakeNotifier) Publish(_ context.Context, tenantID, _ string, evt broadcast.Event) {
	evt.TenantID = tenantID
	f.published = append(f.published, evt)
}

func rawEvent(t *testing.T, tenantID, eventType, providerEventID, body string) events.RawEvent {
	t.Helper()
	if !json.Valid([]byte(body)) {
		t.Fatalf("invalid test payload: %s", body)
	}
	return events.RawEvent{
		ID:              "evt-" + providerEventID,
		TenantID:        tenantID,
		EventType:       eventType,
		ProviderEventID: providerEventID,
		Payload:         []byte(body),
	}
}

func newTestHandlers() (*Handlers, *MemoryRepository, *fakeNotifier) {
	repo := NewMemoryRepository()
	n := &fakeNotifier{}
	return NewHandlers(repo, n, payload.Limits{}), repo, n
}

func TestHandleRing_CreatesRingingCall(t *testing.T) {
	h, repo, n := newTestHandlers()
	ctx := context.Background()

	evt := rawEvent(t, "t1", "call.ring", "e1",
		`{"call":{"id":42,"direction":"incoming","from":"+15550001111","to":"+15550002222"}}`)
	if err := h.HandleRing(ctx, evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	c, err := repo.Get(ctx, "t1", "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != StatusRinging {
		t.Fatalf("status = %s, want ringing", c.Status)
	}
	if c.Direction != payload.DirectionInbound {
		t.Fatalf("direction = %q, want inbound", c.Direction)
	}
	if c.FromNumber != "+15550001111" || c.ToNumber != "+15550002222" {
		t.Fatalf("numbers not extracted: %+v", c)
	}
	if len(c.SanitizedPayload) == 0 {
		t.Fatalf("expected sanitized debug payload")
	}
	if len(n.published) != 1 || n.published[0].Type != "call.ring" {
		t.Fatalf("expected one broadcast, got %+v", n.published)
	}
}

func TestLifecycle_RingStartedEndedConverges(t *testing.T) {
	h, repo, _ := newTestHandlers()
	ctx := context.Background()

	steps := []struct {
		fn   func(context.Context, events.RawEvent) error
		evt  events.RawEvent
		want Status
	}{
		{h.HandleRing, rawEvent(t, "t1", "call.ring", "e1", `{"call":{"id":7,"direction":"in"}}`), StatusRinging},
		{h.HandleStarted, rawEvent(t, "t1", "call.started", "e2", `{"call":{"id":7}}`), StatusActive},
		{h.HandleEnded, rawEvent(t, "t1", "call.ended", "e3", `{"call":{"id":7,"duration":37}}`), StatusEnded},
	}

	// Apply each step twice to simulate at-least-once delivery.
	for _, s := range steps {
		for i := 0; i < 2; i++ {
			if err := s.fn(ctx, s.evt); err != nil {
				t.Fatalf("%s: %v", s.evt.EventType, err)
			}
		}
		c, err := repo.Get(ctx, "t1", "7")
		if err != nil {
			t.Fatalf("get after %s: %v", s.evt.EventType, err)
		}
		if c.Status != s.want {
			t.Fatalf("after %s: status = %s, want %s", s.evt.EventType, c.Status, s.want)
		}
	}

	if repo.Count("t1") != 1 {
		t.Fatalf("expected exactly one call row, got %d", repo.Count("t1"))
	}
	c, _ := repo.Get(ctx, "t1", "7")
	if c.DurationSeconds != 37 {
		t.Fatalf("duration = %d, want 37", c.DurationSeconds)
	}
	if c.Direction != payload.DirectionInbound {
		t.Fatalf("direction lost across events: %q", c.Direction)
	}
}

func TestHandleEnded_ThenRing_RegressionRejected(t *testing.T) {
	h, repo, n := newTestHandlers()
	ctx := context.Background()

	if err := h.HandleEnded(ctx, rawEvent(t, "t1", "call.ended", "e1", `{"call":{"id":9,"duration":5}}`)); err != nil {
		t.Fatalf("ended: %v", err)
	}
	// A late ring must not regress the terminal state and must not error
	// (the event is still reported processed).
	if err := h.HandleRing(ctx, rawEvent(t, "t1", "call.ring", "e2", `{"call":{"id":9}}`)); err != nil {
		t.Fatalf("late ring must not error: %v", err)
	}

	c, _ := repo.Get(ctx, "t1", "9")
	if c.Status != StatusEnded {
		t.Fatalf("status regressed to %s", c.Status)
	}
	if c.DurationSeconds != 5 {
		t.Fatalf("duration lost on rejected regression: %d", c.DurationSeconds)
	}
	// No broadcast for the rejected update.
	if len(n.published) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(n.published))
	}
}

func TestHandleEnded_DuplicateTerminalDeliveryIsNoOp(t *testing.T) {
	h, repo, n := newTestHandlers()
	ctx := context.Background()

	body := `{"call":{"id":11,"duration":42,"disposition":"completed"}}`
	if err := h.HandleEnded(ctx, rawEvent(t, "t1", "call.ended", "e1", body)); err != nil {
		t.Fatalf("first: %v", err)
	}
	first, err := repo.Get(ctx, "t1", "11")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Redelivered terminal event with the same content: the ended -> ended
	// self-transition is legal but must not rewrite the row or fan out again.
	if err := h.HandleEnded(ctx, rawEvent(t, "t1", "call.ended", "e2", body)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if len(n.published) != 1 {
		t.Fatalf("redelivered terminal event must not broadcast again, got %d", len(n.published))
	}
	second, _ := repo.Get(ctx, "t1", "11")
	if second.Status != StatusEnded || second.DurationSeconds != 42 {
		t.Fatalf("row changed on redelivery: %+v", second)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("redelivery rewrote the row: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestHandleEnded_DispositionMapsTerminalStatus(t *testing.T) {
	cases := []struct {
		disposition string
		want        Status
	}{
		{"missed", StatusMissed},
		{"no_answer", StatusMissed},
		{"rejected", StatusRejected},
		{"busy", StatusRejected},
		{"voicemail", StatusVoicemail},
		{"completed", StatusEnded},
		{"", StatusEnded},
	}
	for _, tc := range cases {
		h, repo, _ := newTestHandlers()
		evt := rawEvent(t, "t1", "call.ended", "e1",
			`{"call":{"id":1,"disposition":"`+tc.disposition+`"}}`)
		if err := h.HandleEnded(context.Background(), evt); err != nil {
			t.Fatalf("%s: %v", tc.disposition, err)
		}
		c, _ := repo.Get(context.Background(), "t1", "1")
		if c.Status != tc.want {
			t.Errorf("disposition %q: status = %s, want %s", tc.disposition, c.Status, tc.want)
		}
	}
}

func TestHandleRing_MissingCallIDIsNonFatal(t *testing.T) {
	h, repo, n := newTestHandlers()
	if err := h.HandleRing(context.Background(), rawEvent(t, "t1", "call.ring", "e1", `{"unrelated":true}`)); err != nil {
		t.Fatalf("expected nil for malformed-but-harmless event, got %v", err)
	}
	if repo.Count("t1") != 0 {
		t.Fatalf("no entity should be created")
	}
	if len(n.published) != 0 {
		t.Fatalf("no broadcast expected")
	}
}

func TestHandleRing_UnparseableDirectionKept(t *testing.T) {
	h, repo, _ := newTestHandlers()
	evt := rawEvent(t, "t1", "call.ring", "e1", `{"call":{"id":3,"direction":"sideways"}}`)
	if err := h.HandleRing(context.Background(), evt); err != nil {
		t.Fatalf("bad direction must not abort: %v", err)
	}
	c, _ := repo.Get(context.Background(), "t1", "3")
	if c.Direction != payload.DirectionUnknown {
		t.Fatalf("direction = %q, want unknown", c.Direction)
	}
}

func TestHandleRecording_AttachesURL(t *testing.T) {
	h, repo, _ := newTestHandlers()
	ctx := context.Background()

	_ = h.HandleEnded(ctx, rawEvent(t, "t1", "call.ended", "e1", `{"call":{"id":5,"duration":10}}`))
	evt := rawEvent(t, "t1", "call.recording", "e2",
		`{"call":{"id":5,"recording_url":"https://cdn.example.com/rec/5.mp3"}}`)
	if err := h.HandleRecording(ctx, evt); err != nil {
		t.Fatalf("recording: %v", err)
	}

	c, _ := repo.Get(ctx, "t1", "5")
	if c.RecordingURL != "https://cdn.example.com/rec/5.mp3" {
		t.Fatalf("recording url not attached: %q", c.RecordingURL)
	}
	if c.Status != StatusEnded {
		t.Fatalf("recording must not change status, got %s", c.Status)
	}
}

func TestHandleRecording_UnknownCallDropped(t *testing.T) {
	h, repo, _ := newTestHandlers()
	evt := rawEvent(t, "t1", "call.recording", "e1",
		`{"call":{"id":404,"recording_url":"https://cdn.example.com/x.mp3"}}`)
	if err := h.HandleRecording(context.Background(), evt); err != nil {
		t.Fatalf("unknown call must not error: %v", err)
	}
	if repo.Count("t1") != 0 {
		t.Fatalf("no row should be created for an orphan recording")
	}
}

func TestHandlers_ComputeDurationFromTimestamps(t *testing.T) {
	h, repo, _ := newTestHandlers()
	ctx := context.Background()

	_ = h.HandleStarted(ctx, rawEvent(t, "t1", "call.started", "e1",
		`{"call":{"id":8,"started_at":"2026-03-01T12:00:00Z"}}`))
	_ = h.HandleEnded(ctx, rawEvent(t, "t1", "call.ended", "e2",
		`{"call":{"id":8,"ended_at":"2026-03-01T12:01:30Z"}}`))

	c, _ := repo.Get(ctx, "t1", "8")
	if c.DurationSeconds != 90 {
		t.Fatalf("computed duration = %d, want 90", c.DurationSeconds)
	}
}
