package voicemail

import (
	"context"
	"testing"
	"time"

	"telephony-events/internal/broadcast"
	"telephony-events/internal/events"
	"telephony-events/internal/payload"
)

type fakeNotifier struct {
	published int
}

func (f *fakeNotifier) Publish(context.Context, string, string, broadcast.Event) { f.published++ }

func vmEvent(tenantID, providerEventID, body string) events.RawEvent {
	return events.RawEvent{
		ID:              "evt-" + providerEventID,
		TenantID:        tenantID,
		EventType:       "voicemail.received",
		ProviderEventID: providerEventID,
		Payload:         []byte(body),
	}
}

func TestHandleReceived_CreatesVoicemail(t *testing.T) {
	repo := NewMemoryRepository()
	n := &fakeNotifier{}
	h := NewHandler(repo, n, payload.Limits{}, 0)

	evt := vmEvent("t1", "e1",
		`{"voicemail":{"user_id":"u7","from":"+15550001111","to":"+15550002222","recording_url":"https://cdn.example.com/vm.mp3","duration":21}}`)
	if err := h.HandleReceived(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if repo.Count("t1") != 1 {
		t.Fatalf("expected one voicemail, got %d", repo.Count("t1"))
	}
	vms, _ := repo.List(context.Background(), "t1", 10, 0)
	v := vms[0]
	if v.AssignedUserID != "u7" || v.DurationSeconds != 21 {
		t.Fatalf("fields not extracted: %+v", v)
	}
	if n.published != 1 {
		t.Fatalf("expected one broadcast, got %d", n.published)
	}
}

func TestHandleReceived_MissingUserIsReportedNotFatal(t *testing.T) {
	repo := NewMemoryRepository()
	h := NewHandler(repo, nil, payload.Limits{}, 0)

	evt := vmEvent("t1", "e1", `{"voicemail":{"from":"+15550001111"}}`)
	if err := h.HandleReceived(context.Background(), evt); err != nil {
		t.Fatalf("missing user must not error (event is still processed), got %v", err)
	}
	if repo.Count("t1") != 0 {
		t.Fatalf("no entity should be created without a target user")
	}
}

func TestHandleReceived_DedupeWindowSuppressesRetry(t *testing.T) {
	repo := NewMemoryRepository()
	h := NewHandler(repo, nil, payload.Limits{}, 2*time.Minute)

	body := `{"voicemail":{"user_id":"u7","from":"+15550001111","to":"+15550002222"}}`
	if err := h.HandleReceived(context.Background(), vmEvent("t1", "e1", body)); err != nil {
		t.Fatalf("first: %v", err)
	}
	// Retried delivery (different provider event id, same content, no call id).
	if err := h.HandleReceived(context.Background(), vmEvent("t1", "e2", body)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if repo.Count("t1") != 1 {
		t.Fatalf("retry inside window must be suppressed, got %d rows", repo.Count("t1"))
	}
}

func TestHandleReceived_SuppressedRetryDoesNotBroadcast(t *testing.T) {
	repo := NewMemoryRepository()
	n := &fakeNotifier{}
	h := NewHandler(repo, n, payload.Limits{}, 2*time.Minute)

	body := `{"voicemail":{"user_id":"u7","from":"+15550001111","to":"+15550002222"}}`
	if err := h.HandleReceived(context.Background(), vmEvent("t1", "e1", body)); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := h.HandleReceived(context.Background(), vmEvent("t1", "e2", body)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n.published != 1 {
		t.Fatalf("suppressed retry must not broadcast, got %d publishes", n.published)
	}
}

func TestHandleReceived_OutsideWindowInsertsNewRow(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	repo.SetClock(func() time.Time { return now })
	h := NewHandler(repo, nil, payload.Limits{}, 2*time.Minute)
	h.clock = func() time.Time { return now }

	body := `{"voicemail":{"user_id":"u7","from":"+15550001111","to":"+15550002222"}}`
	_ = h.HandleReceived(context.Background(), vmEvent("t1", "e1", body))

	now = base.Add(10 * time.Minute)
	_ = h.HandleReceived(context.Background(), vmEvent("t1", "e2", body))

	if repo.Count("t1") != 2 {
		t.Fatalf("distinct voicemails outside the window must both store, got %d", repo.Count("t1"))
	}
}

func TestHandleReceived_CallAttachedRetriesConverge(t *testing.T) {
	repo := NewMemoryRepository()
	h := NewHandler(repo, nil, payload.Limits{}, 0)

	body := `{"voicemail":{"user_id":"u7","call_id":"c9","recording_url":"https://cdn.example.com/vm.mp3"}}`
	_ = h.HandleReceived(context.Background(), vmEvent("t1", "e1", body))
	_ = h.HandleReceived(context.Background(), vmEvent("t1", "e2", body))

	if repo.Count("t1") != 1 {
		t.Fatalf("call-attached retries must upsert onto one row, got %d", repo.Count("t1"))
	}
}

func TestHandleTranscribed_AttachesTranscript(t *testing.T) {
	repo := NewMemoryRepository()
	h := NewHandler(repo, nil, payload.Limits{}, 0)

	_ = h.HandleReceived(context.Background(), vmEvent("t1", "e1",
		`{"voicemail":{"user_id":"u7","call_id":"c9"}}`))

	evt := events.RawEvent{
		ID:        "evt-e2",
		TenantID:  "t1",
		EventType: "voicemail.transcribed",
		Payload:   []byte(`{"voicemail":{"call_id":"c9","transcript":"call me back"}}`),
	}
	if err := h.HandleTranscribed(context.Background(), evt); err != nil {
		t.Fatalf("transcribed: %v", err)
	}

	v, err := repo.GetByProviderCallID(context.Background(), "t1", "c9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Transcript != "call me back" {
		t.Fatalf("transcript not attached: %q", v.Transcript)
	}
}

func TestHandleTranscribed_UnknownVoicemailDropped(t *testing.T) {
	h := NewHandler(NewMemoryRepository(), nil, payload.Limits{}, 0)
	evt := events.RawEvent{
		ID:       "evt-e1",
		TenantID: "t1",
		Payload:  []byte(`{"voicemail":{"call_id":"nope","transcript":"x"}}`),
	}
	if err := h.HandleTranscribed(context.Background(), evt); err != nil {
		t.Fatalf("unknown voicemail must not error: %v", err)
	}
}
