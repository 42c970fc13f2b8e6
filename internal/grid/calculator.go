// Package grid holds the pure ladder math: price ladders, per-level
// quantities, and segment profit/loss. Nothing in here owns state or talks
// to an exchange; all values are scaled int64 per internal/fixed.
package grid

import (
	"fmt"
	"math/big"
	"sort"

	"GridLadder/internal/fixed"
)

// DegenerateRangeError reports a ladder request whose boundary equals its
// base, which would produce a zero-width grid.
type DegenerateRangeError struct {
	Base int64
}

func (e *DegenerateRangeError) Error() string {
	return fmt.Sprintf("degenerate ladder range: boundary equals base %d", e.Base)
}

// GeometricLadder generates prices from base toward boundary by repeated
// multiplication by (1±ratio), each rounded to the instrument's price tick.
// Ratio is RatioConfig-scaled (1% = 10_000). The result is deduplicated and
// sorted ascending, and always contains the rounded base and the rounded
// boundary.
func GeometricLadder(base, ratio, boundary, tick int64) ([]int64, error) {
	if boundary == base {
		return nil, &DegenerateRangeError{Base: base}
	}
	if ratio <= 0 || ratio >= fixed.RatioOne {
		return nil, fmt.Errorf("geometric ladder: ratio %d out of (0, 1) range", ratio)
	}

	up := boundary > base
	factor := fixed.RatioOne + ratio
	if !up {
		factor = fixed.RatioOne - ratio
	}

	prices := []int64{fixed.RoundToStep(base, tick, fixed.RoundHalfEven)}
	// Walk the unrounded running price so tick rounding never stalls a step.
	p := base
	for {
		p = fixed.MulDiv(p, factor, fixed.RatioOne, fixed.RoundHalfEven)
		if up && p >= boundary {
			break
		}
		if !up && p <= boundary {
			break
		}
		prices = append(prices, fixed.RoundToStep(p, tick, fixed.RoundHalfEven))
	}
	prices = append(prices, fixed.RoundToStep(boundary, tick, fixed.RoundHalfEven))

	return dedupeSorted(prices), nil
}

// ArithmeticLadder is the additive-step counterpart of GeometricLadder.
// Step is a positive price increment in price scale.
func ArithmeticLadder(base, step, boundary, tick int64) ([]int64, error) {
	if boundary == base {
		return nil, &DegenerateRangeError{Base: base}
	}
	if step <= 0 {
		return nil, fmt.Errorf("arithmetic ladder: step %d must be positive", step)
	}

	up := boundary > base
	delta := step
	if !up {
		delta = -step
	}

	prices := []int64{fixed.RoundToStep(base, tick, fixed.RoundHalfEven)}
	p := base
	for {
		p += delta
		if up && p >= boundary {
			break
		}
		if !up && p <= boundary {
			break
		}
		prices = append(prices, fixed.RoundToStep(p, tick, fixed.RoundHalfEven))
	}
	prices = append(prices, fixed.RoundToStep(boundary, tick, fixed.RoundHalfEven))

	return dedupeSorted(prices), nil
}

func dedupeSorted(prices []int64) []int64 {
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	out := prices[:0]
	var prev int64 = -1
	for _, p := range prices {
		if p != prev {
			out = append(out, p)
			prev = p
		}
	}
	return out
}

// EqualQuantityPerLevel splits a quote-scale funding amount evenly across
// levelCount levels at the given price: floor(fund / (price × lotSize)) /
// levelCount, floored to whole lots. When the division underflows to zero
// lots the result clamps to 1 and the second return is true so the caller
// can log the documented rounding policy instead of silently trading zero.
func EqualQuantityPerLevel(fund, price, levelCount, lotSize int64) (int64, bool) {
	if fund <= 0 || price <= 0 || levelCount <= 0 || lotSize <= 0 {
		return 0, false
	}

	// Total lots the fund buys at this price: fund / (price * lotSize / ratioScale).
	num := fixed.MultiplyInt128(fund, fixed.RatioConfig.Scale)
	denom := new(big.Int).Mul(big.NewInt(price), big.NewInt(lotSize))
	totalLots := new(big.Int).Quo(num, denom).Int64()

	perLevel := totalLots / levelCount
	if perLevel == 0 {
		return 1, true
	}
	return perLevel, false
}
