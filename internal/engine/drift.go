package engine

import (
	"context"

	"GridLadder/internal/book"
	"GridLadder/internal/event"
	"GridLadder/internal/ladder"
	"GridLadder/internal/orderid"
)

// maintain is the out-of-band reconciliation pass, run from the idle
// debounce and the periodic fallback timer. It re-derives limits when the
// venue's rules tighten, squares the engine's open-order set against the
// venue's, and settles position drift. It runs synchronously on the loop
// goroutine, so passes never overlap.
func (e *Engine) maintain(ctx context.Context) {
	if e.lad.State() != ladder.StateTrading {
		return
	}

	if rules, err := e.gw.Rules(ctx, e.cfg.Symbol); err != nil {
		e.log.Warn().Err(err).Msg("rules refresh failed")
	} else if rules != e.rules {
		e.rules = rules
		spacing := e.lad.LocalSpacing(e.lad.CriticalIndex())
		derived := book.DeriveLimits(rules.OpenOrderLimit, rules.PriceDeviationLimit, e.lad.EntryPrice(), spacing)
		if derived.Tighter(e.limits) {
			e.limits = derived
			e.log.Info().Int("max_per_side", derived.MaxPerSide).Msg("venue rules tightened, limits re-derived")
		}
	}

	e.reconcileOrders(ctx)
	e.reconcileDrift(ctx)
	e.applyPlan(e.bk.Maintain(e.lad, e.limits, e.cfg.ShardToken))

	if e.metrics != nil {
		e.metrics.MaintenanceCycles.WithLabelValues(e.cfg.LadderID).Inc()
	}
}

// reconcileOrders squares the book against the venue's reported open
// orders. Beyond the relay threshold the per-order patching is pointless:
// everything is cancelled and the ladder re-laid at current price.
func (e *Engine) reconcileOrders(ctx context.Context) {
	open, err := e.gw.OpenOrders(ctx, e.cfg.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Msg("open-order query failed")
		return
	}

	spacing := e.lad.LocalSpacing(e.lad.CriticalIndex())
	if book.NeedRelay(e.lastPrice, e.criticalPrice, spacing, e.cfg.RelaySpacingMultiplier) {
		e.relay()
		return
	}

	// Corrective orders live outside the book; without this filter the diff
	// would cancel an outstanding correction as a stray.
	actual := make([]book.ExchangeOrder, 0, len(open))
	for _, ord := range open {
		if ord.ID.IsAdjusting() {
			continue
		}
		actual = append(actual, book.ExchangeOrder{ID: ord.ID, Price: ord.Price, Size: ord.Size, Left: ord.Left})
	}

	strays, missing := e.bk.Diff(actual)
	for _, ord := range strays {
		e.send(event.CancelOrder{ID: ord.ID})
	}
	for _, rec := range missing {
		e.send(event.SubmitOrder{Order: event.Order{
			ID:       rec.ID,
			Type:     event.OrderTypePostOnly,
			Price:    rec.Price,
			Quantity: abs64(rec.Quantity),
		}})
	}
	if e.metrics != nil {
		e.metrics.StrayCancels.WithLabelValues(e.cfg.LadderID).Add(float64(len(strays)))
		e.metrics.MissingReposts.WithLabelValues(e.cfg.LadderID).Add(float64(len(missing)))
	}
	if len(strays) > 0 || len(missing) > 0 {
		e.log.Info().Int("strays", len(strays)).Int("missing", len(missing)).Msg("open-order diff applied")
	}
}

// relay cancels the whole resting net and re-lays it around the index
// matching current price.
func (e *Engine) relay() {
	e.log.Warn().Int64("price", e.lastPrice).Int64("critical_price", e.criticalPrice).
		Msg("price drifted past relay threshold, re-laying ladder")

	e.send(event.CancelAll{})
	for _, rec := range e.bk.All() {
		e.bk.Remove(rec.ID)
	}

	idx := e.lad.NearestIndex(e.lastPrice)
	e.lad.ShiftCritical(idx)
	e.criticalPrice = e.lad.Price(idx)

	spacing := e.lad.LocalSpacing(idx)
	e.limits = book.DeriveLimits(e.rules.OpenOrderLimit, e.rules.PriceDeviationLimit, e.lad.EntryPrice(), spacing)

	e.applyPlan(e.bk.Maintain(e.lad, e.limits, e.cfg.ShardToken))
	if e.metrics != nil {
		e.metrics.FullRelays.WithLabelValues(e.cfg.LadderID).Inc()
	}
}

// reconcileDrift compares the venue's reported position against the model.
// Any residual is first made explicit by folding it into accumulated
// deviation; a deviation past the materiality threshold then gets one
// bounded correction. A failed correction is retried next cycle, never
// escalated.
func (e *Engine) reconcileDrift(ctx context.Context) {
	actual, err := e.gw.Position(ctx, e.cfg.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Msg("position query failed")
		return
	}

	residual := actual - e.theoreticalPosition
	if residual != 0 {
		e.theoreticalPosition += residual
		e.accumulatedDeviation -= residual
		e.log.Info().Int64("residual", residual).Int64("deviation", e.accumulatedDeviation).
			Msg("position drift folded into deviation")
		if e.metrics != nil {
			e.metrics.DriftResidual.WithLabelValues(e.cfg.LadderID).Set(float64(residual))
			e.metrics.DeviationFolded.WithLabelValues(e.cfg.LadderID).Inc()
		}
	}

	need := e.accumulatedDeviation
	if abs64(need) < e.cfg.DriftMateriality || e.pending != nil || e.stopRequested {
		return
	}
	e.correctDrift(need)
}

// correctDrift issues exactly one correction sized to absorb the deviation:
// preferably a quantity amendment of the nearest resting order, otherwise a
// fresh post-only order at best bid/ask in the distinguished adjusting slot.
func (e *Engine) correctDrift(need int64) {
	side := orderid.SideBuy
	if need < 0 {
		side = orderid.SideSell
	}

	if rec, ok := e.nearestResting(side); ok {
		// The book tracks the amended size immediately so partial fills
		// against the resized order validate; the original grid quantity
		// rides on the pending correction for settlement.
		e.pending = &correction{id: rec.ID, extra: need, gridQty: rec.Quantity, amend: true}
		e.bk.AmendQuantity(rec.ID, need)
		e.send(event.AmendOrder{ID: rec.ID, Quantity: abs64(rec.Quantity + need)})
		e.log.Info().Stringer("order", rec.ID).Int64("extra", need).Msg("amending nearest order to absorb drift")
		return
	}

	price := e.bestBid
	if side == orderid.SideSell {
		price = e.bestAsk
	}
	if price <= 0 {
		price = e.lastPrice
	}
	if price <= 0 {
		e.log.Warn().Msg("no reference price for corrective order, deferring")
		return
	}

	id := orderid.Adjusting(e.cfg.ShardToken, side)
	e.pending = &correction{id: id, extra: need}
	e.send(event.SubmitOrder{Order: event.Order{
		ID:       id,
		Type:     event.OrderTypePostOnly,
		Price:    price,
		Quantity: abs64(need),
	}})
	e.log.Info().Stringer("order", id).Int64("price", price).Int64("qty", abs64(need)).
		Msg("submitted corrective order")
}

// nearestResting finds the resting order on one side closest to the
// critical index: the highest buy below it or the lowest sell above it.
func (e *Engine) nearestResting(side orderid.Side) (book.Record, bool) {
	indices := e.bk.Indices(side)
	if len(indices) == 0 {
		return book.Record{}, false
	}
	var idx int
	if side == orderid.SideBuy {
		idx = indices[len(indices)-1]
	} else {
		idx = indices[0]
	}
	return e.bk.Get(idx, side)
}
