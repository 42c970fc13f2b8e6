package grid

import (
	"math/big"

	"GridLadder/internal/fixed"
)

// SegmentUnmatchedPnL values a traversal of the ladder between two indices.
// It is the single source of truth for both live statistics and pre-trade
// risk estimates.
//
// The result combines (a) the naive directional term (mark − entry) ×
// entryQty and (b) the ladder's embedded inventory across the traversed
// levels, |Σ(price×qty) − mark×Σqty|, signed negative by convention when
// traversing below entry. Moving up from index i to j crosses the levels
// (i, j]; a downward call is canonicalized to the negated upward call with
// the entry and mark roles swapped, so the function gives identical results
// whichever direction it is called in.
//
// Prices are price-scale, quantities whole lots, lotSize a ratio-scaled
// contract multiplier; the result is quote-scale.
func SegmentUnmatchedPnL(fromIndex, toIndex int, prices, quantities []int64, entryPrice, entryQty, markPrice, lotSize int64) int64 {
	if fromIndex == toIndex {
		return fixed.Notional(markPrice-entryPrice, entryQty, lotSize)
	}
	if fromIndex > toIndex {
		return -SegmentUnmatchedPnL(toIndex, fromIndex, prices, quantities, markPrice, entryQty, entryPrice, lotSize)
	}

	naive := fixed.Notional(markPrice-entryPrice, entryQty, lotSize)

	// Embedded inventory over the traversed levels (fromIndex, toIndex].
	sumNotional := new(big.Int)
	var sumQty int64
	for i := fromIndex + 1; i <= toIndex && i < len(prices); i++ {
		term := new(big.Int).Mul(big.NewInt(prices[i]), big.NewInt(quantities[i]))
		sumNotional.Add(sumNotional, term)
		sumQty += quantities[i]
	}

	markTerm := new(big.Int).Mul(big.NewInt(markPrice), big.NewInt(sumQty))
	embedded := new(big.Int).Sub(sumNotional, markTerm)
	embedded.Abs(embedded)
	embedded.Mul(embedded, big.NewInt(lotSize))
	ladder := fixed.DivideInt128(embedded, fixed.RatioConfig.Scale, fixed.RoundHalfEven)

	return naive + ladder
}

// StairProfit values one completed stair: the directional gain of carrying
// the stair's funded quantity from its fill price to its upper boundary.
// Stored once per stair at advance time and never recomputed.
func StairProfit(fillPrice, boundaryPrice, quantity, lotSize int64) int64 {
	return fixed.Notional(boundaryPrice-fillPrice, quantity, lotSize)
}
