package grid

import (
	"errors"
	"testing"

	"GridLadder/internal/fixed"
)

var (
	price100 = 100 * fixed.PriceConfig.Scale
	tick001  = int64(10_000) // 0.01 in price scale
	pct1     = int64(10_000) // 1% in ratio scale
)

func TestGeometricLadder_StrictlyIncreasingTickMultiples(t *testing.T) {
	prices, err := GeometricLadder(price100, pct1, 130*fixed.PriceConfig.Scale, tick001)
	if err != nil {
		t.Fatalf("GeometricLadder: %v", err)
	}
	if len(prices) < 3 {
		t.Fatalf("ladder too short: %d levels", len(prices))
	}
	for i, p := range prices {
		if p%tick001 != 0 {
			t.Errorf("price[%d]=%d is not a tick multiple", i, p)
		}
		if i > 0 && p <= prices[i-1] {
			t.Errorf("prices not strictly increasing at %d: %d <= %d", i, p, prices[i-1])
		}
	}
	if prices[0] != price100 {
		t.Errorf("ladder must include base: got first=%d", prices[0])
	}
	if prices[len(prices)-1] != 130*fixed.PriceConfig.Scale {
		t.Errorf("ladder must include rounded boundary: got last=%d", prices[len(prices)-1])
	}
}

func TestGeometricLadder_FirstStepNearOnePercent(t *testing.T) {
	// Entry 100, 1% ratio: the level above base is 101.00.
	prices, err := GeometricLadder(price100, pct1, 110*fixed.PriceConfig.Scale, tick001)
	if err != nil {
		t.Fatalf("GeometricLadder: %v", err)
	}
	if prices[1] != 101*fixed.PriceConfig.Scale {
		t.Errorf("level above base: got %d, want %d", prices[1], 101*fixed.PriceConfig.Scale)
	}
}

func TestGeometricLadder_Downward(t *testing.T) {
	prices, err := GeometricLadder(price100, pct1, 70*fixed.PriceConfig.Scale, tick001)
	if err != nil {
		t.Fatalf("GeometricLadder down: %v", err)
	}
	// Sorted ascending regardless of generation direction.
	for i := 1; i < len(prices); i++ {
		if prices[i] <= prices[i-1] {
			t.Fatalf("downward ladder not sorted ascending at %d", i)
		}
	}
	if prices[0] != 70*fixed.PriceConfig.Scale {
		t.Errorf("lowest must be rounded boundary: got %d", prices[0])
	}
	if prices[len(prices)-1] != price100 {
		t.Errorf("highest must be base: got %d", prices[len(prices)-1])
	}
}

func TestGeometricLadder_DegenerateRange(t *testing.T) {
	_, err := GeometricLadder(price100, pct1, price100, tick001)
	var degenerate *DegenerateRangeError
	if !errors.As(err, &degenerate) {
		t.Fatalf("want DegenerateRangeError, got %v", err)
	}
}

func TestArithmeticLadder(t *testing.T) {
	step := 2 * fixed.PriceConfig.Scale
	prices, err := ArithmeticLadder(price100, step, 110*fixed.PriceConfig.Scale, tick001)
	if err != nil {
		t.Fatalf("ArithmeticLadder: %v", err)
	}
	want := []int64{
		price100,
		102 * fixed.PriceConfig.Scale,
		104 * fixed.PriceConfig.Scale,
		106 * fixed.PriceConfig.Scale,
		108 * fixed.PriceConfig.Scale,
		110 * fixed.PriceConfig.Scale,
	}
	if len(prices) != len(want) {
		t.Fatalf("got %d levels, want %d", len(prices), len(want))
	}
	for i := range want {
		if prices[i] != want[i] {
			t.Errorf("price[%d]=%d, want %d", i, prices[i], want[i])
		}
	}
}

func TestArithmeticLadder_DegenerateRange(t *testing.T) {
	_, err := ArithmeticLadder(price100, fixed.PriceConfig.Scale, price100, tick001)
	var degenerate *DegenerateRangeError
	if !errors.As(err, &degenerate) {
		t.Fatalf("want DegenerateRangeError, got %v", err)
	}
}

func TestEqualQuantityPerLevel(t *testing.T) {
	// 10_000 quote across 10 levels at price 100, one unit per lot:
	// 100 lots total, 10 per level.
	fund := int64(10_000) * fixed.QuoteConfig.Scale
	qty, clamped := EqualQuantityPerLevel(fund, price100, 10, fixed.RatioOne)
	if clamped {
		t.Error("should not clamp")
	}
	if qty != 10 {
		t.Errorf("got %d lots per level, want 10", qty)
	}
}

func TestEqualQuantityPerLevel_ClampsToOne(t *testing.T) {
	// Fund buys 5 lots but 10 levels are requested: exact division is 0,
	// clamp to 1 and flag it.
	fund := int64(500) * fixed.QuoteConfig.Scale
	qty, clamped := EqualQuantityPerLevel(fund, price100, 10, fixed.RatioOne)
	if qty != 1 {
		t.Errorf("got %d, want clamp to 1", qty)
	}
	if !clamped {
		t.Error("clamp must be reported")
	}
}

func TestEqualQuantityPerLevel_InvalidInputs(t *testing.T) {
	if qty, _ := EqualQuantityPerLevel(0, price100, 10, fixed.RatioOne); qty != 0 {
		t.Errorf("zero fund: got %d, want 0", qty)
	}
	if qty, _ := EqualQuantityPerLevel(1000, price100, 0, fixed.RatioOne); qty != 0 {
		t.Errorf("zero levels: got %d, want 0", qty)
	}
}
