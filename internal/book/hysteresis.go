package book

import "GridLadder/internal/fixed"

// Limits bound the resting-order count per side. Derived once from the
// exchange's per-symbol rules and re-derived only when those rules tighten.
type Limits struct {
	MaxPerSide int
	MinPerSide int
	// Buffer is how many far-end orders one trim cancels when MaxPerSide is
	// exceeded, so the count does not oscillate around the threshold.
	Buffer int
}

// DeriveLimits computes resting bounds from the exchange's open-order limit
// and from how many grid levels fit inside the post-only price-deviation
// limit. The tighter of the two wins; both sides share the budget.
//
// priceDeviationLimit is ratio-scaled (fixed.RatioOne = 100%); localSpacing
// and price share the price scale.
func DeriveLimits(openOrderLimit int, priceDeviationLimit, price, localSpacing int64) Limits {
	perSide := openOrderLimit / 2
	if perSide > 0 {
		perSide-- // headroom for the adjusting slot and in-flight posts
	}

	if priceDeviationLimit > 0 && localSpacing > 0 {
		band := fixed.ApplyRatio(price, priceDeviationLimit, fixed.RoundDown)
		levels := int(band / localSpacing)
		if levels > 0 && levels < perSide {
			perSide = levels
		}
	}
	if perSide < 1 {
		perSide = 1
	}

	min := perSide / 2
	if min < 1 {
		min = 1
	}
	buffer := perSide / 4
	if buffer < 1 {
		buffer = 1
	}
	return Limits{MaxPerSide: perSide, MinPerSide: min, Buffer: buffer}
}

// Tighter reports whether the candidate limits are stricter than the
// current ones, which is the only case where a live re-derivation applies.
func (l Limits) Tighter(than Limits) bool {
	return l.MaxPerSide < than.MaxPerSide || l.MinPerSide < than.MinPerSide
}
