// Package ladder owns the mutable price/quantity ladder, the run state
// machine, and stair-advance bookkeeping. It performs no I/O: the engine
// reads advance results and turns them into gateway commands.
package ladder

import (
	"fmt"

	"GridLadder/internal/fixed"
	"GridLadder/internal/grid"
)

// State is the ladder run state.
type State int32

const (
	StateIdle State = iota
	StateWaitingTrigger
	StateLayingNet
	StateTrading
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingTrigger:
		return "waiting_trigger"
	case StateLayingNet:
		return "laying_net"
	case StateTrading:
		return "trading"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config carries the per-ladder strategy parameters. All ratios are
// RatioConfig-scaled, prices PriceConfig-scaled, funds QuoteConfig-scaled.
type Config struct {
	Symbol string

	// Grid spacing: geometric ratio per level, or an additive step when
	// Arithmetic is set.
	Ratio      int64
	Arithmetic bool
	Step       int64

	// FillingStep is the stair height: each stair's upper boundary sits this
	// ratio above its base. LowerSpace is how far below the base the stair's
	// buy net reaches.
	FillingStep int64
	LowerSpace  int64

	// UpperBound is the configured top of range; stairs-total derives from it
	// once at entry.
	UpperBound int64

	// Fund is the quote amount committed per stair.
	Fund int64

	LotSize   int64
	PriceTick int64

	// BufferStairs is how many stairs are precomputed ahead of the live one
	// so an advance never blocks on a synchronous ladder calculation.
	BufferStairs int

	// TriggerPrice arms WaitingTrigger when nonzero; AssignedEntry overrides
	// the live market price as entry when nonzero.
	TriggerPrice  int64
	AssignedEntry int64
}

// Ladder is the mutable ladder state for one run.
type Ladder struct {
	cfg   Config
	state State

	// Global index space. Append-only on the high end; quantities ahead of
	// the live stair stay zero (placeholder, never orderable).
	prices []int64
	qtys   []int64

	entryPrice int64
	entryQty   int64

	criticalIndex int

	// Stair bookkeeping.
	boundaries       []int64 // all stair boundary prices, computed once
	stairsTotal      int
	presentStairNum  int
	presentBase      int
	presentBottom    int
	presentStepUp    int
	indicesOfFilling []int
	buffered         []*Stair
	lastTrigger      int

	realizedProfit int64

	fatal error
}

// Stair is one precomputed funded segment awaiting advance.
type Stair struct {
	Num        int
	BasePrice  int64
	Boundary   int64
	BaseIndex  int // first global index owned by this stair
	LevelCount int
	StepUpIdx  int // global index whose crossing completes this stair
}

// New builds an idle ladder.
func New(cfg Config) *Ladder {
	if cfg.BufferStairs <= 0 {
		cfg.BufferStairs = 1
	}
	return &Ladder{cfg: cfg, state: StateIdle, lastTrigger: -1, criticalIndex: -1}
}

func (l *Ladder) Config() Config { return l.cfg }
func (l *Ladder) State() State   { return l.state }

// Fatal returns the structural error that halted this ladder, if any.
func (l *Ladder) Fatal() error { return l.fatal }

// Halt records a fatal structural violation and freezes the ladder for
// operator inspection. No auto-recovery: guessing risks compounding a loss.
func (l *Ladder) Halt(err error) {
	if l.fatal == nil {
		l.fatal = err
	}
	l.state = StateStopped
}

// Arm moves Idle → WaitingTrigger or LayingNet depending on configuration.
func (l *Ladder) Arm() error {
	if l.state != StateIdle {
		return fmt.Errorf("arm: ladder is %s, want idle", l.state)
	}
	if l.cfg.TriggerPrice > 0 {
		l.state = StateWaitingTrigger
	} else {
		l.state = StateLayingNet
	}
	return nil
}

// TriggerReached moves WaitingTrigger → LayingNet once price touches the
// configured trigger.
func (l *Ladder) TriggerReached() {
	if l.state == StateWaitingTrigger {
		l.state = StateLayingNet
	}
}

// Terminate moves the ladder into the Terminating phase; Stop finishes it.
func (l *Ladder) Terminate() { l.state = StateTerminating }
func (l *Ladder) Stop()      { l.state = StateStopped }

// EnterResult describes what the engine must do after entry: buy the first
// stair's inventory and lay the initial net.
type EnterResult struct {
	EntryQty     int64
	QtyClamped   bool
	BottomIndex  int
	BaseIndex    int
	StepUpIndex  int
}

// EnterTrading computes the entry price (trigger price, assigned price, or
// the live market price, in that precedence), all future stair boundaries,
// the first stair's ladder, and the configured buffer of stairs ahead of it.
func (l *Ladder) EnterTrading(marketPrice int64) (*EnterResult, error) {
	if l.state != StateLayingNet {
		return nil, fmt.Errorf("enter trading: ladder is %s, want laying_net", l.state)
	}

	entry := marketPrice
	if l.cfg.AssignedEntry > 0 {
		entry = l.cfg.AssignedEntry
	} else if l.cfg.TriggerPrice > 0 {
		entry = l.cfg.TriggerPrice
	}
	entry = fixed.RoundToStep(entry, l.cfg.PriceTick, fixed.RoundHalfEven)
	if entry <= 0 {
		return nil, fmt.Errorf("enter trading: non-positive entry price %d", entry)
	}
	if l.cfg.UpperBound <= entry {
		return nil, fmt.Errorf("enter trading: upper bound %d not above entry %d", l.cfg.UpperBound, entry)
	}
	l.entryPrice = entry

	// Stair boundaries from entry to the configured upper bound, once.
	l.boundaries = []int64{entry}
	b := entry
	for {
		b = fixed.ApplyRatio(b, fixed.RatioOne+l.cfg.FillingStep, fixed.RoundHalfEven)
		b = fixed.RoundToStep(b, l.cfg.PriceTick, fixed.RoundHalfEven)
		if b >= l.cfg.UpperBound {
			l.boundaries = append(l.boundaries, fixed.RoundToStep(l.cfg.UpperBound, l.cfg.PriceTick, fixed.RoundHalfEven))
			break
		}
		l.boundaries = append(l.boundaries, b)
	}
	l.stairsTotal = len(l.boundaries) - 1

	// First stair, anchored at the entry: one run down to entry*(1-lowerSpace)
	// for the buy net, one run up to the first boundary for the sell net. Both
	// runs contain the rounded entry, so the joined ladder carries the entry
	// itself as a level.
	lower := fixed.ApplyRatio(entry, fixed.RatioOne-l.cfg.LowerSpace, fixed.RoundHalfEven)
	below, err := l.levels(entry, lower)
	if err != nil {
		return nil, fmt.Errorf("first stair net: %w", err)
	}
	above, err := l.levels(entry, l.boundaries[1])
	if err != nil {
		return nil, fmt.Errorf("first stair ladder: %w", err)
	}
	prices := append(below, above[1:]...)
	qty, clamped := grid.EqualQuantityPerLevel(l.cfg.Fund, entry, int64(len(prices)), l.cfg.LotSize)
	if qty <= 0 {
		return nil, fmt.Errorf("first stair: fund %d yields no quantity at price %d", l.cfg.Fund, entry)
	}

	l.prices = prices
	l.qtys = make([]int64, len(prices))
	for i := range l.qtys {
		l.qtys[i] = qty
	}

	l.presentBottom = 0
	l.presentBase = len(below) - 1
	l.presentStepUp = len(prices) - 1
	l.criticalIndex = l.presentBase
	l.presentStairNum = 1
	// Entry inventory backs the sell legs above the base.
	l.entryQty = qty * int64(l.presentStepUp-l.presentBase)

	// Precompute the buffer so an advance never blocks on ladder math.
	for i := 0; i < l.cfg.BufferStairs; i++ {
		if err := l.bufferNextStair(); err != nil {
			return nil, err
		}
	}

	l.state = StateTrading

	return &EnterResult{
		EntryQty:    l.entryQty,
		QtyClamped:  clamped,
		BottomIndex: l.presentBottom,
		BaseIndex:   l.presentBase,
		StepUpIndex: l.presentStepUp,
	}, nil
}

// levels builds one contiguous run of ladder prices between two bounds.
func (l *Ladder) levels(from, to int64) ([]int64, error) {
	if l.cfg.Arithmetic {
		return grid.ArithmeticLadder(from, l.cfg.Step, to, l.cfg.PriceTick)
	}
	return grid.GeometricLadder(from, l.cfg.Ratio, to, l.cfg.PriceTick)
}

func (l *Ladder) nearestIndex(price int64) int {
	best := 0
	bestDiff := int64(-1)
	for i, p := range l.prices {
		d := p - price
		if d < 0 {
			d = -d
		}
		if bestDiff < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// --- Accessors used by the reconciler and engine ---

func (l *Ladder) Len() int           { return len(l.prices) }
func (l *Ladder) EntryPrice() int64  { return l.entryPrice }
func (l *Ladder) EntryQty() int64    { return l.entryQty }
func (l *Ladder) CriticalIndex() int { return l.criticalIndex }
func (l *Ladder) BaseIndex() int     { return l.presentBase }
func (l *Ladder) BottomIndex() int   { return l.presentBottom }
func (l *Ladder) StepUpIndex() int   { return l.presentStepUp }
func (l *Ladder) StairsTotal() int   { return l.stairsTotal }
func (l *Ladder) PresentStair() int  { return l.presentStairNum }

// Price returns the price at a global index.
func (l *Ladder) Price(i int) int64 {
	if i < 0 || i >= len(l.prices) {
		return 0
	}
	return l.prices[i]
}

// Qty returns the quantity at a global index; zero for placeholders.
func (l *Ladder) Qty(i int) int64 {
	if i < 0 || i >= len(l.qtys) {
		return 0
	}
	return l.qtys[i]
}

// Orderable reports whether an index may carry a resting order.
func (l *Ladder) Orderable(i int) bool {
	return i >= l.presentBottom && i < len(l.prices) && l.Qty(i) > 0
}

// Prices and Qtys expose copies of the level arrays for PnL valuation.
func (l *Ladder) Prices() []int64 {
	out := make([]int64, len(l.prices))
	copy(out, l.prices)
	return out
}

func (l *Ladder) Qtys() []int64 {
	out := make([]int64, len(l.qtys))
	copy(out, l.qtys)
	return out
}

// LocalSpacing returns the grid spacing around an index, used by the
// out-of-band reconciler's drift threshold.
func (l *Ladder) LocalSpacing(i int) int64 {
	if len(l.prices) < 2 {
		return 0
	}
	if i < 0 {
		i = 0
	}
	if i >= len(l.prices)-1 {
		i = len(l.prices) - 2
	}
	return l.prices[i+1] - l.prices[i]
}

// NearestIndex locates the ladder index closest to a live price.
func (l *Ladder) NearestIndex(price int64) int {
	if len(l.prices) == 0 {
		return 0
	}
	return l.nearestIndex(price)
}

// ShiftCritical moves the critical index after a confirmed fill.
func (l *Ladder) ShiftCritical(to int) {
	l.criticalIndex = to
}

// RealizedProfit returns the summed per-stair profits booked so far.
func (l *Ladder) RealizedProfit() int64 { return l.realizedProfit }

// AtTop reports whether the critical index reached the ladder's maximum
// index with no stairs left, the terminal condition.
func (l *Ladder) AtTop() bool {
	return len(l.prices) > 0 &&
		l.criticalIndex >= len(l.prices)-1 &&
		l.presentStairNum >= l.stairsTotal
}
