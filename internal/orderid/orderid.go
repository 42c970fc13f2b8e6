package orderid

import (
	"fmt"
	"strconv"
	"strings"
)

// Side is the resting side of a grid order.
type Side int32

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "SELL"
	}
	return "BUY"
}

// Sign returns +1 for buys and -1 for sells, matching the position effect
// of a fill on that side.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the reversal side.
func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// AdjustIndex is the reserved ladder index for the drift reconciler's
// corrective order. It never collides with real ladder indices, which are
// bounded by the 8-digit encoding below it.
const AdjustIndex = 99_999_999

// maxIndex is the largest encodable ladder index.
const maxIndex = 99_999_999

// ID is the synthetic order id: the sole correlation between engine state
// and exchange orders. Wire form is "<shardToken>_<8-digit index><B|S>".
//
// Total order: index-major ascending, buy before sell at the same index.
type ID struct {
	ShardToken string
	Index      int
	Side       Side
}

// New builds an ID for a ladder index.
func New(shardToken string, index int, side Side) ID {
	return ID{ShardToken: shardToken, Index: index, Side: side}
}

// Adjusting builds the distinguished corrective-order id for a shard.
func Adjusting(shardToken string, side Side) ID {
	return ID{ShardToken: shardToken, Index: AdjustIndex, Side: side}
}

// IsAdjusting reports whether this id occupies the corrective-order slot.
func (id ID) IsAdjusting() bool {
	return id.Index == AdjustIndex
}

// Encode renders the wire form. Index must fit in 8 digits.
func (id ID) Encode() string {
	side := "B"
	if id.Side == SideSell {
		side = "S"
	}
	return fmt.Sprintf("%s_%08d%s", id.ShardToken, id.Index, side)
}

// String implements fmt.Stringer with the wire form.
func (id ID) String() string {
	return id.Encode()
}

// Less defines the documented total order.
func (id ID) Less(other ID) bool {
	if id.Index != other.Index {
		return id.Index < other.Index
	}
	return id.Side < other.Side
}

// Decode parses a wire-form id back into its parts. It is strict: the index
// must be exactly 8 digits and the side suffix exactly one of B or S, so the
// round trip (index, side) → id → (index, side) is lossless.
func Decode(s string) (ID, error) {
	sep := strings.LastIndexByte(s, '_')
	if sep < 0 {
		return ID{}, fmt.Errorf("order id %q: missing shard separator", s)
	}
	token := s[:sep]
	rest := s[sep+1:]
	if len(rest) != 9 {
		return ID{}, fmt.Errorf("order id %q: want 8-digit index plus side, got %d chars", s, len(rest))
	}
	idx, err := strconv.Atoi(rest[:8])
	if err != nil {
		return ID{}, fmt.Errorf("order id %q: bad index: %w", s, err)
	}
	if idx < 0 || idx > maxIndex {
		return ID{}, fmt.Errorf("order id %q: index %d out of range", s, idx)
	}
	var side Side
	switch rest[8] {
	case 'B':
		side = SideBuy
	case 'S':
		side = SideSell
	default:
		return ID{}, fmt.Errorf("order id %q: bad side suffix %q", s, rest[8])
	}
	return ID{ShardToken: token, Index: idx, Side: side}, nil
}
