package broadcast

import (
	"context"

	"telephony-events/pkg/logger"
)

// EndUserLookup resolves the internal end-user identity behind a provider
// user id, tenant-scoped. An absent mapping is (id="", ok=false, err=nil).
type EndUserLookup interface {
	LookupEndUser(ctx context.Context, tenantID, providerUserID string) (string, bool, error)
}

// Publisher is what event handlers talk to: it annotates envelopes with the
// resolved end-user identity when one exists and fans out tenant-wide.
// If no mapping exists the event is still tenant-broadcast, just without a
// user-target annotation.
type Publisher struct {
	hub   *Hub
	users EndUserLookup
}

func NewPublisher(hub *Hub, users EndUserLookup) *Publisher {
	return &Publisher{hub: hub, users: users}
}

// Publish resolves the user annotation and broadcasts. Best-effort end to
// end: lookup failures degrade to an unannotated tenant broadcast.
func (p *Publisher) Publish(ctx context.Context, tenantID, providerUserID string, evt Event) {
	if tenantID == "" {
		return
	}
	if providerUserID != "" && p.users != nil {
		id, ok, err := p.users.LookupEndUser(ctx, tenantID, providerUserID)
		if err != nil {
			logger.From(ctx).Warn("end-user lookup failed, broadcasting unannotated",
				"tenant_id", tenantID,
				"err", err,
			)
		} else if ok {
			evt.EndUserID = id
		}
	}
	p.hub.BroadcastToTenant(ctx, tenantID, evt)
}
