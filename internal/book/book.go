// Package book tracks the engine's view of resting exchange orders: which
// ladder indices carry an open order per side, the partial-fill ledger, and
// the resting-count hysteresis that keeps both sides within exchange limits.
package book

import (
	"fmt"
	"sort"

	"GridLadder/internal/orderid"
)

// ImpossibleFillError reports a fill amount exceeding the quantity the
// engine believes is still outstanding on an order. This is a statistics
// corruption, never clamped.
type ImpossibleFillError struct {
	ID        orderid.ID
	Remaining int64
	Filled    int64
}

func (e *ImpossibleFillError) Error() string {
	return fmt.Sprintf("impossible fill on %s: filled %d with %d remaining",
		e.ID.Encode(), e.Filled, e.Remaining)
}

// Record is one resting order the engine believes exists on the exchange.
type Record struct {
	ID       orderid.ID
	Price    int64
	Quantity int64 // signed by side: buys positive, sells negative
}

type key struct {
	index int
	side  orderid.Side
}

// Book is the open-order set plus the partial-fill ledger. Not safe for
// concurrent use; owned by a single engine goroutine.
type Book struct {
	open    map[key]Record
	partial map[orderid.ID]int64 // signed remaining quantity
}

func New() *Book {
	return &Book{
		open:    make(map[key]Record),
		partial: make(map[orderid.ID]int64),
	}
}

// Post records a newly submitted resting order. At most one order may rest
// per index per side.
func (b *Book) Post(rec Record) error {
	k := key{rec.ID.Index, rec.ID.Side}
	if prev, ok := b.open[k]; ok {
		return fmt.Errorf("index %d already has a resting %s order %s",
			rec.ID.Index, rec.ID.Side, prev.ID.Encode())
	}
	b.open[k] = rec
	return nil
}

// Remove drops an order on fill, cancel-confirm, or confirmed rejection.
func (b *Book) Remove(id orderid.ID) (Record, bool) {
	k := key{id.Index, id.Side}
	rec, ok := b.open[k]
	if ok && rec.ID == id {
		delete(b.open, k)
		return rec, true
	}
	return Record{}, false
}

// Get returns the resting order at an index/side, if any.
func (b *Book) Get(index int, side orderid.Side) (Record, bool) {
	rec, ok := b.open[key{index, side}]
	return rec, ok
}

// Has reports whether any order rests at the index on the given side.
func (b *Book) Has(index int, side orderid.Side) bool {
	_, ok := b.open[key{index, side}]
	return ok
}

// Count returns the number of resting orders on one side.
func (b *Book) Count(side orderid.Side) int {
	n := 0
	for k := range b.open {
		if k.side == side {
			n++
		}
	}
	return n
}

// Indices returns the sorted ladder indices carrying a resting order on the
// given side.
func (b *Book) Indices(side orderid.Side) []int {
	out := make([]int, 0, len(b.open))
	for k := range b.open {
		if k.side == side {
			out = append(out, k.index)
		}
	}
	sort.Ints(out)
	return out
}

// All returns every resting record, unordered.
func (b *Book) All() []Record {
	out := make([]Record, 0, len(b.open))
	for _, rec := range b.open {
		out = append(out, rec)
	}
	return out
}

// ApplyPartialFill updates the ledger for a partial fill. The entry is
// created on the first partial fill from the order's full signed quantity.
// It reports resolved=true when the remaining quantity reaches zero, at
// which point the entry is removed and the order counts as fully filled.
func (b *Book) ApplyPartialFill(id orderid.ID, filled int64) (resolved bool, err error) {
	remaining, ok := b.partial[id]
	if !ok {
		rec, open := b.Get(id.Index, id.Side)
		if !open || rec.ID != id {
			return false, fmt.Errorf("partial fill on unknown order %s", id.Encode())
		}
		remaining = rec.Quantity
	}
	if magnitude(filled) > magnitude(remaining) || filled*remaining < 0 {
		return false, &ImpossibleFillError{ID: id, Remaining: remaining, Filled: filled}
	}
	remaining -= filled
	if remaining == 0 {
		delete(b.partial, id)
		return true, nil
	}
	b.partial[id] = remaining
	return false, nil
}

// AmendQuantity resizes the resting order at id by a signed delta, keeping
// any live partial-fill ledger entry in step so later increments validate
// against the amended size, not the original one.
func (b *Book) AmendQuantity(id orderid.ID, delta int64) bool {
	k := key{id.Index, id.Side}
	rec, ok := b.open[k]
	if !ok || rec.ID != id {
		return false
	}
	rec.Quantity += delta
	b.open[k] = rec
	if remaining, live := b.partial[id]; live {
		b.partial[id] = remaining + delta
	}
	return true
}

// DropPartial removes a ledger entry when its order is cancelled, returning
// the unaccounted remainder so the caller can fold it into accumulated
// deviation.
func (b *Book) DropPartial(id orderid.ID) (remaining int64, had bool) {
	remaining, had = b.partial[id]
	if had {
		delete(b.partial, id)
	}
	return remaining, had
}

// PartialRemaining returns the ledger's remaining quantity for an order and
// whether an entry exists.
func (b *Book) PartialRemaining(id orderid.ID) (int64, bool) {
	r, ok := b.partial[id]
	return r, ok
}

// PartialLen returns the number of live ledger entries.
func (b *Book) PartialLen() int { return len(b.partial) }

// Partials returns a copy of the partial-fill ledger.
func (b *Book) Partials() map[orderid.ID]int64 {
	out := make(map[orderid.ID]int64, len(b.partial))
	for id, remaining := range b.partial {
		out[id] = remaining
	}
	return out
}

// PartialNet sums the signed remaining quantities across the ledger. It is
// one term of the position identity the drift reconciler checks.
func (b *Book) PartialNet() int64 {
	var net int64
	for _, r := range b.partial {
		net += r
	}
	return net
}

func magnitude(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
