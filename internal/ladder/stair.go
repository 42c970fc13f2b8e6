package ladder

import (
	"fmt"

	"GridLadder/internal/grid"
)

// StairOverrunError reports an advance past the last defined stair, or a
// replayed advance on an already-consumed trigger. Both are configuration
// or replay faults that must halt the ladder rather than be absorbed.
type StairOverrunError struct {
	Stair   int
	Total   int
	Trigger int
}

func (e *StairOverrunError) Error() string {
	return fmt.Sprintf("stair overrun: advance to stair %d of %d (trigger index %d)",
		e.Stair, e.Total, e.Trigger)
}

// bufferNextStair precomputes one more stair beyond the ones already
// buffered, appending its level prices to the global arrays with zero
// quantities (placeholder, never orderable until the stair is reached).
func (l *Ladder) bufferNextStair() error {
	next := l.presentStairNum + len(l.buffered) + 1
	if next > l.stairsTotal {
		return nil // Nothing beyond the configured upper bound.
	}

	basePrice := l.boundaries[next-1]
	boundary := l.boundaries[next]

	levels, err := l.levels(basePrice, boundary)
	if err != nil {
		return fmt.Errorf("buffer stair %d: %w", next, err)
	}
	// The stair's base level already exists as the previous step-up index.
	if len(levels) > 0 && len(l.prices) > 0 && levels[0] <= l.prices[len(l.prices)-1] {
		levels = levels[1:]
	}
	if len(levels) == 0 {
		return fmt.Errorf("buffer stair %d: no levels between %d and %d", next, basePrice, boundary)
	}

	baseIdx := len(l.prices)
	l.prices = append(l.prices, levels...)
	l.qtys = append(l.qtys, make([]int64, len(levels))...)

	stepUp := len(l.prices) - 1
	l.buffered = append(l.buffered, &Stair{
		Num:        next,
		BasePrice:  basePrice,
		Boundary:   boundary,
		BaseIndex:  baseIdx,
		LevelCount: len(levels),
		StepUpIdx:  stepUp,
	})
	l.indicesOfFilling = append(l.indicesOfFilling, stepUp)
	return nil
}

// ShouldAdvance reports whether a live price has reached the current
// stair's upper boundary. Checked on every price tick and on every
// order-index crossing, so a fast market with missed ticks still advances.
func (l *Ladder) ShouldAdvance(price int64) bool {
	if l.state != StateTrading || len(l.indicesOfFilling) == 0 {
		return false
	}
	return price >= l.boundaries[l.presentStairNum]
}

// AdvanceResult tells the engine what to do after a stair advance: buy the
// new stair's inventory at market and cancel-and-repost the buy net below
// the new base (prices and quantities changed).
type AdvanceResult struct {
	StairNum      int
	MarketBuyQty  int64
	QtyClamped    bool
	NewBase       int
	NewBottom     int
	NewStepUp     int
	StairProfit   int64
	RepostBuys    bool
	TerminalReach bool
}

// Advance consumes the next buffered stair exactly once per threshold
// crossing. triggerIndex is the ladder index whose crossing triggered the
// advance; replaying the same trigger is rejected with StairOverrunError
// rather than applied twice.
func (l *Ladder) Advance(triggerIndex int) (*AdvanceResult, error) {
	if l.state != StateTrading {
		return nil, fmt.Errorf("advance: ladder is %s, want trading", l.state)
	}
	if triggerIndex == l.lastTrigger {
		return nil, &StairOverrunError{Stair: l.presentStairNum + 1, Total: l.stairsTotal, Trigger: triggerIndex}
	}
	if len(l.buffered) == 0 || l.presentStairNum >= l.stairsTotal {
		return nil, &StairOverrunError{Stair: l.presentStairNum + 1, Total: l.stairsTotal, Trigger: triggerIndex}
	}

	stair := l.buffered[0]
	l.buffered = l.buffered[1:]

	// Pop the consumed entry exactly once.
	if len(l.indicesOfFilling) == 0 || l.indicesOfFilling[0] != stair.StepUpIdx {
		return nil, fmt.Errorf("advance: filling queue out of step (head=%v, stair step-up=%d)",
			l.indicesOfFilling, stair.StepUpIdx)
	}
	l.indicesOfFilling = l.indicesOfFilling[1:]

	// Fund the new stair: quantities replace the zero-filled placeholders.
	qty, clamped := grid.EqualQuantityPerLevel(l.cfg.Fund, stair.BasePrice, int64(stair.LevelCount), l.cfg.LotSize)
	if qty <= 0 {
		return nil, fmt.Errorf("advance: fund %d yields no quantity at price %d", l.cfg.Fund, stair.BasePrice)
	}
	for i := stair.BaseIndex; i <= stair.StepUpIdx; i++ {
		l.qtys[i] = qty
	}

	// Book the just-completed stair's directional profit once. The completed
	// stair carried the entry inventory from its base to its boundary.
	completedProfit := grid.StairProfit(l.boundaries[l.presentStairNum-1], l.boundaries[l.presentStairNum], l.entryQty, l.cfg.LotSize)
	l.realizedProfit += completedProfit

	// Shift the live window forward by the stair's level count.
	l.presentBase += stair.LevelCount
	l.presentBottom += stair.LevelCount
	l.presentStepUp = stair.StepUpIdx
	l.presentStairNum = stair.Num
	l.lastTrigger = triggerIndex

	marketQty := qty * int64(stair.LevelCount)
	l.entryQty += marketQty

	// Keep the buffer ahead of the live stair.
	if len(l.buffered) < l.cfg.BufferStairs {
		if err := l.bufferNextStair(); err != nil {
			return nil, err
		}
	}

	res := &AdvanceResult{
		StairNum:      stair.Num,
		MarketBuyQty:  marketQty,
		QtyClamped:    clamped,
		NewBase:       l.presentBase,
		NewBottom:     l.presentBottom,
		NewStepUp:     l.presentStepUp,
		StairProfit:   completedProfit,
		RepostBuys:    true,
		TerminalReach: l.presentStairNum >= l.stairsTotal && len(l.buffered) == 0,
	}
	return res, nil
}
