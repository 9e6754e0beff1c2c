package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu        sync.Mutex
	endUserID string
	received  []Event
	sendErr   error
	pinged    int
	alive     bool
	closed    bool
}

func newFakeConn(endUserID string) *fakeConn {
	return &fakeConn{endUserID: endUserID, alive: true}
}

func (c *fakeConn) EndUserID() string { return c.endUserID }

func (c *fakeConn) Send(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, evt)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinged++
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.received))
	copy(out, c.received)
	return out
}

func TestBroadcastToTenant_ReachesAllTenantConns(t *testing.T) {
	h := NewHub(0)
	a1, a2 := newFakeConn(""), newFakeConn("user-1")
	b1 := newFakeConn("")
	h.Subscribe("tenant-a", a1)
	h.Subscribe("tenant-a", a2)
	h.Subscribe("tenant-b", b1)

	h.BroadcastToTenant(context.Background(), "tenant-a", Event{Type: "call.ring"})

	for _, c := range []*fakeConn{a1, a2} {
		evts := c.events()
		if len(evts) != 1 || evts[0].Type != "call.ring" || evts[0].TenantID != "tenant-a" {
			t.Errorf("tenant-a conn events = %+v", evts)
		}
	}
	if len(b1.events()) != 0 {
		t.Errorf("tenant-b conn leaked events: %+v", b1.events())
	}
}

func TestBroadcastToUser_FiltersByEndUser(t *testing.T) {
	h := NewHub(0)
	target := newFakeConn("user-1")
	other := newFakeConn("user-2")
	untagged := newFakeConn("")
	for _, c := range []*fakeConn{target, other, untagged} {
		h.Subscribe("tenant-a", c)
	}

	h.BroadcastToUser(context.Background(), "tenant-a", "user-1", Event{Type: "voicemail.received"})

	if len(target.events()) != 1 {
		t.Fatalf("target received %d events, want 1", len(target.events()))
	}
	if got := target.events()[0]; got.EndUserID != "user-1" {
		t.Errorf("end_user_id = %q, want user-1", got.EndUserID)
	}
	if len(other.events()) != 0 || len(untagged.events()) != 0 {
		t.Error("non-target connections received user-targeted event")
	}
}

func TestBroadcast_FailedSendDropsConnOnly(t *testing.T) {
	h := NewHub(0)
	broken := newFakeConn("")
	broken.sendErr = errors.New("send buffer full")
	healthy := newFakeConn("")
	h.Subscribe("tenant-a", broken)
	h.Subscribe("tenant-a", healthy)

	h.BroadcastToTenant(context.Background(), "tenant-a", Event{Type: "call.ended"})

	if len(healthy.events()) != 1 {
		t.Fatalf("healthy conn events = %d, want 1", len(healthy.events()))
	}
	if !broken.closed {
		t.Error("broken conn was not closed")
	}
	if got := h.SubscriberCount("tenant-a"); got != 1 {
		t.Errorf("subscriber count = %d, want 1", got)
	}
}

func TestSweep_DropsDeadPingsLive(t *testing.T) {
	h := NewHub(0)
	dead := newFakeConn("")
	dead.alive = false
	live := newFakeConn("")
	h.Subscribe("tenant-a", dead)
	h.Subscribe("tenant-a", live)

	h.Sweep(context.Background())

	if !dead.closed {
		t.Error("dead conn was not closed")
	}
	if got := h.SubscriberCount("tenant-a"); got != 1 {
		t.Errorf("subscriber count = %d, want 1", got)
	}
	if live.pinged != 1 {
		t.Errorf("live conn pinged %d times, want 1", live.pinged)
	}
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	h := NewHub(0)
	c := newFakeConn("")
	h.Subscribe("tenant-a", c)
	h.Unsubscribe("tenant-a", c)
	h.Unsubscribe("tenant-a", c)
	if got := h.SubscriberCount("tenant-a"); got != 0 {
		t.Errorf("subscriber count = %d, want 0", got)
	}
}

type fakeLookup struct {
	mapping map[string]string
	err     error
}

func (f *fakeLookup) LookupEndUser(_ context.Context, _, providerUserID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.mapping[providerUserID]
	return id, ok, nil
}

func TestPublisher_AnnotatesResolvedUser(t *testing.T) {
	h := NewHub(0)
	c := newFakeConn("")
	h.Subscribe("tenant-a", c)
	p := NewPublisher(h, &fakeLookup{mapping: map[string]string{"ext-7": "user-7"}})

	p.Publish(context.Background(), "tenant-a", "ext-7", Event{Type: "call.started"})

	evts := c.events()
	if len(evts) != 1 {
		t.Fatalf("events = %d, want 1", len(evts))
	}
	if evts[0].EndUserID != "user-7" {
		t.Errorf("end_user_id = %q, want user-7", evts[0].EndUserID)
	}
}

func TestPublisher_LookupFailureStillBroadcasts(t *testing.T) {
	h := NewHub(0)
	c := newFakeConn("")
	h.Subscribe("tenant-a", c)
	p := NewPublisher(h, &fakeLookup{err: errors.New("db down")})

	p.Publish(context.Background(), "tenant-a", "ext-7", Event{Type: "call.started"})

	evts := c.events()
	if len(evts) != 1 {
		t.Fatalf("events = %d, want 1", len(evts))
	}
	if evts[0].EndUserID != "" {
		t.Errorf("end_user_id = %q, want empty on failed lookup", evts[0].EndUserID)
	}
}
