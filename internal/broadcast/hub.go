package broadcast

import (
	"context"
	"sync"
	"time"

	"telephony-events/pkg/logger"
)

// Event is the JSON envelope pushed to subscribers.
type Event struct {
	Type      string `json:"type"`
	TenantID  string `json:"tenant_id"`
	EndUserID string `json:"end_user_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Conn is one live subscriber connection. Implementations must make Send
// non-blocking: a slow or broken subscriber never blocks event processing.
type Conn interface {
	// EndUserID is the optional end-user identity this connection is tagged
	// with; empty means tenant-wide only.
	EndUserID() string
	// Send queues an event for delivery. Best-effort: errors mean the
	// connection is unusable and will be swept.
	Send(evt Event) error
	// Ping marks the connection as awaiting a heartbeat ack and sends a ping.
	Ping() error
	// Alive reports whether an ack arrived since the last Ping.
	Alive() bool
	Close() error
}

// Hub maintains live subscriber connections grouped by tenant.
//
// Connection state is process-local by design: reaching subscribers attached
// to a different instance requires an external pub/sub relay, a documented
// scaling limitation of the single-database pipeline.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[Conn]struct{}

	heartbeat time.Duration
}

func NewHub(heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		tenants:   make(map[string]map[Conn]struct{}),
		heartbeat: heartbeat,
	}
}

// Subscribe attaches a connection to its tenant's set. Invoked by the
// transport layer after it has authenticated the connection.
func (h *Hub) Subscribe(tenantID string, c Conn) {
	if tenantID == "" || c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.tenants[tenantID]
	if !ok {
		set = make(map[Conn]struct{})
		h.tenants[tenantID] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe detaches a connection. Safe to call for connections that were
// never subscribed or were already swept.
func (h *Hub) Unsubscribe(tenantID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(tenantID, c)
}

func (h *Hub) removeLocked(tenantID string, c Conn) {
	set, ok := h.tenants[tenantID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.tenants, tenantID)
	}
}

// BroadcastToTenant pushes an event to every connection of a tenant.
// Fire-and-forget: per-connection failures are logged and never propagate.
func (h *Hub) BroadcastToTenant(ctx context.Context, tenantID string, evt Event) {
	evt.TenantID = tenantID
	h.fanOut(ctx, tenantID, evt, "")
}

// BroadcastToUser pushes an event only to connections tagged with the given
// end-user identity within the tenant. Same fire-and-forget semantics.
func (h *Hub) BroadcastToUser(ctx context.Context, tenantID, endUserID string, evt Event) {
	if endUserID == "" {
		return
	}
	evt.TenantID = tenantID
	evt.EndUserID = endUserID
	h.fanOut(ctx, tenantID, evt, endUserID)
}

func (h *Hub) fanOut(ctx context.Context, tenantID string, evt Event, onlyEndUser string) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.tenants[tenantID]))
	for c := range h.tenants[tenantID] {
		if onlyEndUser != "" && c.EndUserID() != onlyEndUser {
			continue
		}
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	log := logger.From(ctx)
	for _, c := range conns {
		if err := c.Send(evt); err != nil {
			// One broken subscriber must not stop delivery to the rest.
			log.Warn("subscriber send failed, dropping connection",
				"tenant_id", tenantID,
				"err", err,
			)
			h.Unsubscribe(tenantID, c)
			_ = c.Close()
		}
	}
}

// SubscriberCount reports live connections for a tenant.
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

// Run sweeps heartbeats until ctx is canceled, then closes every connection.
// A connection that has not acked since the previous sweep is removed; this
// bounds memory growth from abandoned connections without relying on clients
// to disconnect cleanly.
func (h *Hub) Run(ctx context.Context) error {
	log := logger.From(ctx)
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			log.Info("broadcast hub stopped")
			return ctx.Err()
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep performs one heartbeat pass: dead connections are dropped, live ones
// are pinged for the next pass.
func (h *Hub) Sweep(ctx context.Context) {
	type member struct {
		tenantID string
		conn     Conn
	}
	h.mu.RLock()
	var members []member
	for tid, set := range h.tenants {
		for c := range set {
			members = append(members, member{tenantID: tid, conn: c})
		}
	}
	h.mu.RUnlock()

	log := logger.From(ctx)
	for _, m := range members {
		if !m.conn.Alive() {
			log.Info("dropping unresponsive subscriber", "tenant_id", m.tenantID)
			h.Unsubscribe(m.tenantID, m.conn)
			_ = m.conn.Close()
			continue
		}
		if err := m.conn.Ping(); err != nil {
			h.Unsubscribe(m.tenantID, m.conn)
			_ = m.conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for tid, set := range h.tenants {
		for c := range set {
			_ = c.Close()
		}
		delete(h.tenants, tid)
	}
}
