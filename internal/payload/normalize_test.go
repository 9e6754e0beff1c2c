package payload

import (
	"context"
	"testing"
)

func TestNormalizeDirection(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		raw  string
		want Direction
	}{
		{"inbound", DirectionInbound},
		{"INBOUND", DirectionInbound},
		{"incoming", DirectionInbound},
		{"in", DirectionInbound},
		{"In ", DirectionInbound},
		{"outbound", DirectionOutbound},
		{"OUTBOUND", DirectionOutbound},
		{"outgoing", DirectionOutbound},
		{"out", DirectionOutbound},
		{"sideways", DirectionUnknown},
		{"", DirectionUnknown},
		{"  ", DirectionUnknown},
	}
	for _, tc := range cases {
		if got := NormalizeDirection(ctx, tc.raw); got != tc.want {
			t.Errorf("NormalizeDirection(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
