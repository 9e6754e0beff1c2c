package payload

import (
	"context"
	"strings"

	"telephony-events/pkg/logger"
)

// Direction is the normalized call/message direction.
// Only two literals are ever persisted; anything else normalizes to empty.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = ""
)

// NormalizeDirection canonicalizes provider direction literals.
// Case-insensitive; known synonyms map to inbound/outbound. Unrecognized
// values return DirectionUnknown with a warning; a malformed direction must
// never abort processing of an otherwise-valid event.
func NormalizeDirection(ctx context.Context, raw string) Direction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "inbound", "incoming", "in":
		return DirectionInbound
	case "outbound", "outgoing", "out":
		return DirectionOutbound
	case "":
		return DirectionUnknown
	default:
		logger.From(ctx).Warn("unrecognized call direction", "raw", raw)
		return DirectionUnknown
	}
}
