package fixed

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision for one class of values.
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs. Quantities are whole lots (contracts), so they carry
	// no fractional scale at all.
	PriceConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	QuoteConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	RatioConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 1% = 10_000
)

// RatioOne is a ratio of exactly 1.0 (100%).
const RatioOne = 1_000_000

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// int128Pool holds pooled big.Ints for intermediate calculations.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding and releases
// the numerator back to the pool.
func DivideInt128(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	neg := numerator.Sign() < 0
	absNum := getInt128()
	absNum.Abs(numerator)

	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	quotient.DivMod(absNum, denom, remainder)

	result := quotient.Int64()
	remZero := remainder.Sign() == 0

	switch mode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if !remZero {
			result++
		}
	case RoundDown:
		// Truncation already done by DivMod on the absolute value.
	}

	putInt128(quotient)
	putInt128(remainder)
	putInt128(absNum)
	putInt128(numerator)

	if neg {
		return -result
	}
	return result
}

// MulDiv computes a * b / denominator without intermediate overflow.
func MulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	num := MultiplyInt128(a, b)
	return DivideInt128(num, denominator, mode)
}

// ApplyRatio scales value by a RatioConfig ratio: value * ratio / 1e6.
func ApplyRatio(value, ratio int64, mode RoundingMode) int64 {
	return MulDiv(value, ratio, RatioConfig.Scale, mode)
}

// RoundToStep snaps a price to an exact multiple of the instrument's price
// step. A zero step leaves the value untouched.
func RoundToStep(value, step int64, mode RoundingMode) int64 {
	if step <= 0 {
		return value
	}
	q := value / step
	rem := value % step
	if rem == 0 {
		return value
	}
	switch mode {
	case RoundUp:
		if value > 0 {
			q++
		}
	case RoundDown:
		if value < 0 {
			q--
		}
	case RoundHalfEven:
		if rem < 0 {
			rem = -rem
		}
		if 2*rem > step || (2*rem == step && q%2 != 0) {
			if value >= 0 {
				q++
			} else {
				q--
			}
		}
	}
	return q * step
}

// Notional computes price * lots * lotSize in quote scale. lotSize is the
// ratio-scaled contract multiplier (RatioOne for one underlying unit per lot,
// 1_000 for a 0.001-unit contract). Price and quote share the same scale, so
// only the lot multiplier needs dividing out.
func Notional(price, lots, lotSize int64) int64 {
	num := MultiplyInt128(price, lots)
	num.Mul(num, big.NewInt(lotSize))
	return DivideInt128(num, RatioConfig.Scale, RoundHalfEven)
}
