package book

import (
	"GridLadder/internal/orderid"
)

// LevelView is what the reconciler needs from the ladder: level prices and
// quantities, orderability, and the window around the critical index.
type LevelView interface {
	Len() int
	Price(i int) int64
	Qty(i int) int64
	Orderable(i int) bool
	BottomIndex() int
	CriticalIndex() int
	LocalSpacing(i int) int64
}

// Plan is the corrective command set one reconciliation pass produces.
// Cancels are issued before Posts so a trimmed side never overshoots the
// exchange's open-order limit mid-pass.
type Plan struct {
	Cancels []orderid.ID
	Posts   []Record
}

func (p *Plan) Empty() bool { return len(p.Cancels) == 0 && len(p.Posts) == 0 }

// Maintain applies resting-count hysteresis to both sides: trim a buffer's
// worth from the far end above MaxPerSide, replenish toward the min/max
// midpoint below MinPerSide. Replenishment stops at the ladder's bottom and
// top bounds rather than crossing them.
func (b *Book) Maintain(view LevelView, limits Limits, token string) Plan {
	var plan Plan
	plan.Cancels = append(plan.Cancels, b.trim(orderid.SideBuy, limits)...)
	plan.Cancels = append(plan.Cancels, b.trim(orderid.SideSell, limits)...)
	plan.Posts = append(plan.Posts, b.replenish(view, orderid.SideBuy, limits, token)...)
	plan.Posts = append(plan.Posts, b.replenish(view, orderid.SideSell, limits, token)...)
	return plan
}

// trim picks far-end orders to cancel when a side exceeds MaxPerSide. The
// far end is the lowest indices for buys and the highest for sells: those
// are the levels price is least likely to reach next.
func (b *Book) trim(side orderid.Side, limits Limits) []orderid.ID {
	indices := b.Indices(side)
	if len(indices) <= limits.MaxPerSide {
		return nil
	}
	n := limits.Buffer
	if over := len(indices) - limits.MaxPerSide; over > n {
		n = over
	}
	if n > len(indices) {
		n = len(indices)
	}

	victims := make([]orderid.ID, 0, n)
	if side == orderid.SideBuy {
		for _, idx := range indices[:n] {
			if rec, ok := b.Get(idx, side); ok {
				victims = append(victims, rec.ID)
			}
		}
	} else {
		for _, idx := range indices[len(indices)-n:] {
			if rec, ok := b.Get(idx, side); ok {
				victims = append(victims, rec.ID)
			}
		}
	}
	return victims
}

// replenish posts new orders outward from the critical index until the side
// holds roughly the min/max midpoint, skipping indices that already carry
// an order or are not orderable.
func (b *Book) replenish(view LevelView, side orderid.Side, limits Limits, token string) []Record {
	count := b.Count(side)
	if count >= limits.MinPerSide {
		return nil
	}
	target := (limits.MinPerSide + limits.MaxPerSide) / 2
	if target <= count {
		return nil
	}

	crit := view.CriticalIndex()
	var posts []Record
	if side == orderid.SideBuy {
		for i := crit - 1; i >= view.BottomIndex() && count+len(posts) < target; i-- {
			if b.Has(i, side) || !view.Orderable(i) {
				continue
			}
			posts = append(posts, Record{
				ID:       orderid.New(token, i, side),
				Price:    view.Price(i),
				Quantity: view.Qty(i),
			})
		}
	} else {
		for i := crit + 1; i < view.Len() && count+len(posts) < target; i++ {
			if b.Has(i, side) || !view.Orderable(i) {
				continue
			}
			posts = append(posts, Record{
				ID:       orderid.New(token, i, side),
				Price:    view.Price(i),
				Quantity: -view.Qty(i),
			})
		}
	}
	return posts
}

// ExchangeOrder is one entry of the exchange's reported open-order list,
// already decoded to a synthetic id.
type ExchangeOrder struct {
	ID    orderid.ID
	Price int64
	Size  int64
	Left  int64
}

// Diff compares the exchange's actual open orders against the expected set
// by synthetic id: strays exist only on the exchange and must be cancelled,
// missing exist only in the engine and must be reposted. The fill stream
// and the open-order query are not mutually ordered, so a transient
// mismatch here resolves itself on the next pass.
func (b *Book) Diff(actual []ExchangeOrder) (strays []ExchangeOrder, missing []Record) {
	seen := make(map[orderid.ID]bool, len(actual))
	for _, ord := range actual {
		seen[ord.ID] = true
		rec, ok := b.Get(ord.ID.Index, ord.ID.Side)
		if !ok || rec.ID != ord.ID {
			strays = append(strays, ord)
		}
	}
	for _, rec := range b.All() {
		if !seen[rec.ID] {
			missing = append(missing, rec)
		}
	}
	return strays, missing
}

// NeedRelay reports whether live price has drifted so far from the
// remembered critical price that patching individual orders is pointless
// and the whole ladder should be cancelled and re-laid at the current
// price. multiplier is in units of local grid spacing.
func NeedRelay(price, criticalPrice, spacing, multiplier int64) bool {
	if spacing <= 0 || multiplier <= 0 {
		return false
	}
	drift := price - criticalPrice
	if drift < 0 {
		drift = -drift
	}
	return drift > multiplier*spacing
}
