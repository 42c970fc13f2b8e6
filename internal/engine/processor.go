package engine

import (
	"errors"
	"time"

	"GridLadder/internal/book"
	"GridLadder/internal/event"
	"GridLadder/internal/fixed"
	"GridLadder/internal/ladder"
	"GridLadder/internal/orderid"
	"GridLadder/internal/report"
)

// onFilled handles a full-fill acknowledgement. Dispatch order matters:
// corrective orders first (distinguished adjusting slot), then fills with no
// book record (entry/stair inventory buys and close-position fills), then
// grid fills which drive the critical index and reversal posting.
func (e *Engine) onFilled(v event.OrderFilled) error {
	id := v.ID

	// Only this engine's own corrective orders settle here; in sharding
	// mode, per-account reconcilers use distinct tokens and their fills
	// land on the plain inventory path below.
	if id.IsAdjusting() && id.ShardToken == e.cfg.ShardToken {
		e.applyCorrectiveFill(v.Ack)
		return e.afterFill()
	}

	rec, open := e.bk.Get(id.Index, id.Side)
	if !open || rec.ID != id {
		// No book record: entry or stair inventory bought at market, or a
		// position close. Accounted directly, no reversal.
		e.theoreticalPosition += v.Quantity
		e.fees += e.fee(v.Price, v.Quantity)
		e.log.Info().Stringer("order", id).Int64("qty", v.Quantity).Int64("price", v.Price).
			Msg("inventory fill")
		e.emitFill(v.Ack, false)
		return e.afterFill()
	}

	e.bk.Remove(id)

	// If the order had partial fills, only the remainder is new position;
	// earlier increments were accounted as they arrived.
	increment := v.Quantity
	if remaining, had := e.bk.DropPartial(id); had {
		increment = remaining
	}
	e.theoreticalPosition += increment
	e.fees += e.fee(v.Price, increment)
	e.emitFill(v.Ack, false)

	e.applyGridFill(id, e.settleAmend(id, rec.Quantity))
	return e.afterFill()
}

// settleAmend finishes an amend-based drift correction once the amended
// order resolves: the extra lots drain the deviation they were sized
// against, and the grid math sees the order's original quantity. For an
// order that was never amended it returns the quantity unchanged.
func (e *Engine) settleAmend(id orderid.ID, gridQty int64) int64 {
	if e.pending == nil || !e.pending.amend || e.pending.id != id {
		return gridQty
	}
	e.accumulatedDeviation -= e.pending.extra
	gridQty = e.pending.gridQty
	e.pending = nil
	if e.metrics != nil {
		e.metrics.DriftCorrections.WithLabelValues(e.cfg.LadderID, "amend").Inc()
		e.metrics.AccumulatedDeviation.WithLabelValues(e.cfg.LadderID).Set(float64(e.accumulatedDeviation))
	}
	return gridQty
}

// applyGridFill shifts the critical index and posts reversals for a fill in
// the expected direction: buys fill below the critical index, sells above.
// A same-side fill on the wrong flank means a fast market already caught up;
// it is logged, never re-posted.
func (e *Engine) applyGridFill(id orderid.ID, gridQty int64) {
	crit := e.lad.CriticalIndex()
	i := id.Index

	expected := (id.Side == orderid.SideBuy && i < crit) ||
		(id.Side == orderid.SideSell && i > crit)
	if !expected {
		e.log.Warn().Stringer("order", id).Int("critical", crit).
			Msg("same-side fill beyond critical index, market caught up")
		return
	}

	if id.Side == orderid.SideSell && i > 0 {
		e.matchedProfit += fixed.Notional(e.lad.Price(i)-e.lad.Price(i-1), abs64(gridQty), e.cfg.Ladder.LotSize)
		if e.metrics != nil {
			e.metrics.MatchedProfit.WithLabelValues(e.cfg.LadderID).Set(float64(e.matchedProfit))
		}
	}

	e.lad.ShiftCritical(i)
	e.criticalPrice = e.lad.Price(i)
	e.submitReversals(crit, i, id.Side, false)
	e.applyPlan(e.bk.Maintain(e.lad, e.limits, e.cfg.ShardToken))
}

// submitReversals posts opposite-side orders at every index strictly between
// the old and new critical index; includeFill additionally covers the filled
// index itself (rejection path, where the venue never took the inventory).
func (e *Engine) submitReversals(oldCrit, fillIdx int, fillSide orderid.Side, includeFill bool) {
	lo, hi := oldCrit, fillIdx
	if lo > hi {
		lo, hi = hi, lo
	}
	side := fillSide.Opposite()

	var posts []book.Record
	for j := lo + 1; j < hi; j++ {
		posts = append(posts, e.reversalRecord(j, side)...)
	}
	if includeFill {
		posts = append(posts, e.reversalRecord(fillIdx, side)...)
	}
	if len(posts) == 0 {
		return
	}
	if e.metrics != nil {
		e.metrics.ReversalOrders.WithLabelValues(e.cfg.LadderID).Add(float64(len(posts)))
	}
	e.submitPosts(posts)
}

func (e *Engine) reversalRecord(idx int, side orderid.Side) []book.Record {
	if !e.lad.Orderable(idx) || e.bk.Has(idx, side) {
		return nil
	}
	qty := e.lad.Qty(idx)
	if side == orderid.SideSell {
		qty = -qty
	}
	return []book.Record{{
		ID:       orderid.New(e.cfg.ShardToken, idx, side),
		Price:    e.lad.Price(idx),
		Quantity: qty,
	}}
}

// applyCorrectiveFill settles a drift-correction order: the fill becomes
// real position and drains the deviation it was sized against.
func (e *Engine) applyCorrectiveFill(ack event.Ack) {
	e.theoreticalPosition += ack.Quantity
	e.accumulatedDeviation -= ack.Quantity
	e.fees += e.fee(ack.Price, ack.Quantity)
	if e.pending != nil && e.pending.id == ack.ID {
		e.pending = nil
	}
	if e.metrics != nil {
		e.metrics.DriftCorrections.WithLabelValues(e.cfg.LadderID, "order").Inc()
		e.metrics.AccumulatedDeviation.WithLabelValues(e.cfg.LadderID).Set(float64(e.accumulatedDeviation))
	}
	e.log.Info().Stringer("order", ack.ID).Int64("qty", ack.Quantity).
		Int64("deviation", e.accumulatedDeviation).Msg("corrective fill settled")
	e.emitFill(ack, false)
}

// afterFill runs the post-fill checks shared by every fill path: stair
// advance (an order-index crossing can reach the boundary between ticks)
// and the deferred graceful stop once no correction is outstanding.
func (e *Engine) afterFill() error {
	if e.metrics != nil {
		e.metrics.TheoreticalPosition.WithLabelValues(e.cfg.LadderID).Set(float64(e.theoreticalPosition))
	}
	if e.stopRequested && e.pending == nil && e.lad.State() == ladder.StateTerminating {
		return e.finishStop()
	}
	if e.lad.State() == ladder.StateTrading && e.lastPrice > 0 {
		return e.maybeAdvance(e.lastPrice)
	}
	return nil
}

// onPartialFill updates the partial-fill ledger with one increment. The
// increment is real position immediately; the order only counts as resolved
// (triggering reversal) when the remainder reaches zero.
func (e *Engine) onPartialFill(v event.OrderPartiallyFilled) error {
	id := v.ID

	if id.IsAdjusting() && id.ShardToken == e.cfg.ShardToken {
		// Corrective orders settle increment by increment.
		e.theoreticalPosition += v.Quantity
		e.accumulatedDeviation -= v.Quantity
		e.fees += e.fee(v.Price, v.Quantity)
		e.emitFill(v.Ack, true)
		return e.afterFill()
	}

	resolved, err := e.bk.ApplyPartialFill(id, v.Quantity)
	if err != nil {
		var impossible *book.ImpossibleFillError
		if errors.As(err, &impossible) {
			e.halt(err)
			return err
		}
		// Partial fill on an order the book never knew: account it like an
		// inventory fill rather than dropping position on the floor.
		e.log.Warn().Err(err).Stringer("order", id).Msg("partial fill on untracked order")
		e.theoreticalPosition += v.Quantity
		e.fees += e.fee(v.Price, v.Quantity)
		e.emitFill(v.Ack, true)
		return e.afterFill()
	}

	e.theoreticalPosition += v.Quantity
	e.fees += e.fee(v.Price, v.Quantity)
	e.emitFill(v.Ack, true)
	if e.metrics != nil {
		e.metrics.PartialLedgerSize.WithLabelValues(e.cfg.LadderID).Set(float64(e.bk.PartialLen()))
	}

	if resolved {
		if rec, ok := e.bk.Remove(id); ok {
			e.applyGridFill(id, e.settleAmend(id, rec.Quantity))
		}
	}
	return e.afterFill()
}

// onRejected handles a post-only order the venue cancelled for crossing the
// spread. It is a virtual fill: same critical shift and reversal posting as
// a real fill, but the venue never took the inventory, so the full intended
// quantity moves into accumulated deviation and the rejected index itself
// joins the reversal set. No fees, no matched profit.
func (e *Engine) onRejected(v event.PostOnlyRejected) error {
	id := v.ID

	if e.metrics != nil {
		e.metrics.EventsRejected.WithLabelValues(e.cfg.LadderID, "PostOnlyRejected", "price_cross").Inc()
	}

	if id.IsAdjusting() {
		if id.ShardToken != e.cfg.ShardToken {
			return nil
		}
		// The correction never traded; deviation stays and the next
		// maintenance cycle retries.
		e.pending = nil
		e.log.Warn().Stringer("order", id).Str("detail", v.Detail).
			Msg("corrective order rejected, will retry")
		return nil
	}

	e.bk.Remove(id)
	e.bk.DropPartial(id)
	e.accumulatedDeviation += v.Quantity
	if e.metrics != nil {
		e.metrics.AccumulatedDeviation.WithLabelValues(e.cfg.LadderID).Set(float64(e.accumulatedDeviation))
	}
	e.log.Info().Stringer("order", id).Int64("price", v.Price).Int64("qty", v.Quantity).
		Str("detail", v.Detail).Int64("deviation", e.accumulatedDeviation).
		Msg("post-only rejected, treating as virtual fill")

	oldCrit := e.lad.CriticalIndex()
	e.lad.ShiftCritical(id.Index)
	e.criticalPrice = e.lad.Price(id.Index)
	e.submitReversals(oldCrit, id.Index, id.Side, true)
	e.applyPlan(e.bk.Maintain(e.lad, e.limits, e.cfg.ShardToken))
	return e.afterFill()
}

// onCancelConfirmed removes the record; any unaccounted partial remainder is
// folded into accumulated deviation so the position identity holds.
func (e *Engine) onCancelConfirmed(v event.CancelConfirmed) {
	e.bk.Remove(v.ID)
	if remaining, had := e.bk.DropPartial(v.ID); had {
		e.accumulatedDeviation += remaining
		e.log.Info().Stringer("order", v.ID).Int64("remaining", remaining).
			Msg("cancelled order had partial fills, folded remainder into deviation")
	}
	if e.pending != nil && e.pending.id == v.ID {
		e.pending = nil
	}
	e.updateRestingMetrics()
}

// onCancelFailed is almost always "order not found": the order resolved
// before the cancel landed. The resolution ack carries the accounting; here
// the record just gets dropped.
func (e *Engine) onCancelFailed(v event.CancelFailed) {
	e.bk.Remove(v.ID)
	e.log.Debug().Stringer("order", v.ID).Str("detail", v.Detail).Msg("cancel failed")
}

// onAmendFailed reverts the book to the order's original quantity and clears
// the pending correction; the drift is still in accumulated deviation and
// the next maintenance cycle retries.
func (e *Engine) onAmendFailed(v event.AmendFailed) {
	if e.pending != nil && e.pending.amend && e.pending.id == v.ID {
		e.bk.AmendQuantity(v.ID, -e.pending.extra)
		e.pending = nil
	}
	e.log.Warn().Stringer("order", v.ID).Str("detail", v.Detail).Msg("amend failed, correction deferred")
}

func (e *Engine) emitFill(ack event.Ack, partial bool) {
	if e.fillsOut == nil {
		return
	}
	f := report.Fill{
		LadderID: e.cfg.LadderID,
		Symbol:   e.cfg.Symbol,
		OrderID:  ack.ID.Encode(),
		Index:    ack.ID.Index,
		Side:     ack.ID.Side.String(),
		Price:    ack.Price,
		Quantity: ack.Quantity,
		Account:  ack.Account,
		Partial:  partial,
		Ts:       time.Now(),
	}
	select {
	case e.fillsOut <- f:
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
	}
}
