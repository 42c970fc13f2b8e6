package book

import (
	"testing"

	"GridLadder/internal/orderid"
)

// fakeView is a flat ladder: price 100+i, quantity 5 everywhere, critical
// index in the middle.
type fakeView struct {
	n        int
	bottom   int
	critical int
}

func (v fakeView) Len() int                 { return v.n }
func (v fakeView) Price(i int) int64        { return int64(100+i) * 1_000_000 }
func (v fakeView) Qty(i int) int64          { return 5 }
func (v fakeView) Orderable(i int) bool     { return i >= v.bottom && i < v.n }
func (v fakeView) BottomIndex() int         { return v.bottom }
func (v fakeView) CriticalIndex() int       { return v.critical }
func (v fakeView) LocalSpacing(i int) int64 { return 1_000_000 }

func TestMaintain_TrimsFarEnd(t *testing.T) {
	b := New()
	for i := 0; i < 8; i++ {
		_ = b.Post(buyRec(i, 100, 5))
	}
	limits := Limits{MaxPerSide: 5, MinPerSide: 2, Buffer: 2}
	plan := b.Maintain(fakeView{n: 20, critical: 10}, limits, "gl0")

	// 8 resting, max 5: cancel 3 (overage beats the 2-order buffer), and the
	// victims are the lowest-index buys.
	if len(plan.Cancels) != 3 {
		t.Fatalf("cancels: got %d, want 3", len(plan.Cancels))
	}
	for _, id := range plan.Cancels {
		if id.Index > 2 {
			t.Errorf("trimmed near-end buy at index %d", id.Index)
		}
	}
	// The empty sell side is below min 2: replenish to the midpoint of
	// [2,5], three sells walking up from the critical index.
	if len(plan.Posts) != 3 {
		t.Fatalf("posts: got %d, want 3 sell replenishments", len(plan.Posts))
	}
	for i, p := range plan.Posts {
		if p.ID.Side != orderid.SideSell {
			t.Errorf("post %d on side %s, want sell", i, p.ID.Side)
		}
		if want := 11 + i; p.ID.Index != want {
			t.Errorf("post %d at index %d, want %d", i, p.ID.Index, want)
		}
	}
}

func TestMaintain_TrimsSellsFromHighEnd(t *testing.T) {
	b := New()
	for i := 11; i < 19; i++ {
		_ = b.Post(sellRec(i, 100, 5))
	}
	limits := Limits{MaxPerSide: 5, MinPerSide: 2, Buffer: 1}
	plan := b.Maintain(fakeView{n: 20, critical: 10}, limits, "gl0")
	if len(plan.Cancels) != 3 {
		t.Fatalf("cancels: got %d, want 3", len(plan.Cancels))
	}
	for _, id := range plan.Cancels {
		if id.Index < 16 {
			t.Errorf("trimmed near-end sell at index %d", id.Index)
		}
	}
}

func TestMaintain_ReplenishesTowardMidpoint(t *testing.T) {
	b := New()
	_ = b.Post(buyRec(9, 100, 5)) // one resting buy, min is 3
	limits := Limits{MaxPerSide: 7, MinPerSide: 3, Buffer: 1}
	plan := b.Maintain(fakeView{n: 20, critical: 10}, limits, "gl0")

	// Midpoint of [3,7] is 5: post 4 more buys descending from the critical
	// index, skipping the occupied slot at 9.
	var buys []Record
	for _, p := range plan.Posts {
		if p.ID.Side == orderid.SideBuy {
			buys = append(buys, p)
		}
	}
	if len(buys) != 4 {
		t.Fatalf("buy posts: got %d, want 4", len(buys))
	}
	for _, p := range buys {
		if p.ID.Index == 9 {
			t.Error("must not double-post over the resting buy at 9")
		}
		if p.ID.Index >= 10 {
			t.Errorf("buy posted at or above critical index: %d", p.ID.Index)
		}
		if p.Quantity <= 0 {
			t.Errorf("buy quantity must be positive, got %d", p.Quantity)
		}
	}
}

func TestMaintain_ReplenishStopsAtBottomBound(t *testing.T) {
	b := New()
	limits := Limits{MaxPerSide: 9, MinPerSide: 4, Buffer: 1}
	// Only two orderable levels below critical.
	plan := b.Maintain(fakeView{n: 20, bottom: 8, critical: 10}, limits, "gl0")
	var buys int
	for _, p := range plan.Posts {
		if p.ID.Side == orderid.SideBuy {
			buys++
			if p.ID.Index < 8 {
				t.Errorf("post crossed the bottom bound: index %d", p.ID.Index)
			}
		}
	}
	if buys != 2 {
		t.Errorf("buy posts: got %d, want 2 (bounded by the ladder bottom)", buys)
	}
}

func TestDiff_StraysAndMissing(t *testing.T) {
	b := New()
	expected := buyRec(5, 100, 5)
	missingRec := sellRec(12, 112, 5)
	_ = b.Post(expected)
	_ = b.Post(missingRec)

	stray := ExchangeOrder{ID: orderid.New("gl0", 7, orderid.SideBuy), Price: 107, Size: 5, Left: 5}
	actual := []ExchangeOrder{
		{ID: expected.ID, Price: expected.Price, Size: 5, Left: 5},
		stray,
	}
	strays, missing := b.Diff(actual)
	if len(strays) != 1 || strays[0].ID != stray.ID {
		t.Errorf("strays: %+v", strays)
	}
	if len(missing) != 1 || missing[0].ID != missingRec.ID {
		t.Errorf("missing: %+v", missing)
	}
}

func TestNeedRelay(t *testing.T) {
	spacing := int64(1_000_000)
	if NeedRelay(105_000_000, 100_000_000, spacing, 5) {
		t.Error("5 levels of drift is the threshold, not past it")
	}
	if !NeedRelay(105_000_001, 100_000_000, spacing, 5) {
		t.Error("drift past 5 levels must force a re-lay")
	}
	if !NeedRelay(94_000_000, 100_000_000, spacing, 5) {
		t.Error("downward drift counts too")
	}
	if NeedRelay(200, 100, 0, 5) {
		t.Error("zero spacing must never force a re-lay")
	}
}
