package shard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"GridLadder/internal/event"
	"GridLadder/internal/gateway"
	"GridLadder/internal/orderid"
)

// AccountDrift is the lightweight per-account drift reconciler. Each one
// models only what traded on its own account and issues its own corrective
// order directly on that account rather than through the coordinator, so
// one account's lagging correction never blocks the others.
type AccountDrift struct {
	account     int
	token       string
	symbol      string
	gw          gateway.Exchange
	materiality int64
	log         zerolog.Logger

	mu          sync.Mutex
	theoretical int64
	deviation   int64
	bestBid     int64
	bestAsk     int64
	pending     bool
}

// NewAccountDrift builds the reconciler for one account. token must be
// unique per account so its corrective orders are distinguishable from the
// engine's and from other accounts'.
func NewAccountDrift(account int, token, symbol string, gw gateway.Exchange, materiality int64, log zerolog.Logger) *AccountDrift {
	if materiality <= 0 {
		materiality = 1
	}
	return &AccountDrift{
		account:     account,
		token:       token,
		symbol:      symbol,
		gw:          gw,
		materiality: materiality,
		log:         log.With().Str("component", "shard_drift").Int("account", account).Logger(),
	}
}

// Token returns the account's corrective-order shard token.
func (d *AccountDrift) Token() string { return d.token }

// observe folds one relayed acknowledgement into the account's scoped
// model. Everything arriving here traded on this account's stream, so every
// fill counts, including entry-split shares carrying an index another
// account owns; foreign corrective orders are the one exclusion.
func (d *AccountDrift) observe(ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch v := ev.(type) {
	case event.BookTicker:
		d.bestBid, d.bestAsk = v.Bid, v.Ask
	case event.OrderFilled:
		d.applyFill(v.Ack)
	case event.OrderPartiallyFilled:
		d.applyFill(v.Ack)
	case event.PostOnlyRejected:
		if v.ID.IsAdjusting() {
			if v.ID.ShardToken == d.token {
				d.pending = false
			}
			return
		}
		d.deviation += v.Quantity
	}
}

func (d *AccountDrift) applyFill(ack event.Ack) {
	if ack.ID.IsAdjusting() {
		if ack.ID.ShardToken != d.token {
			return
		}
		d.theoretical += ack.Quantity
		d.deviation -= ack.Quantity
		d.pending = false
		return
	}
	d.theoretical += ack.Quantity
}

// Run reconciles on a fixed period until the context is cancelled.
func (d *AccountDrift) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Reconcile(ctx)
		}
	}
}

// Reconcile compares the account's reported position against its scoped
// model, folds the residual into deviation, and issues at most one bounded
// corrective order when the deviation is material.
func (d *AccountDrift) Reconcile(ctx context.Context) {
	actual, err := d.gw.Position(ctx, d.symbol)
	if err != nil {
		d.log.Warn().Err(err).Msg("position query failed")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	residual := actual - d.theoretical
	if residual != 0 {
		d.theoretical += residual
		d.deviation -= residual
		d.log.Info().Int64("residual", residual).Int64("deviation", d.deviation).
			Msg("account drift folded into deviation")
	}

	need := d.deviation
	if need == 0 || need > -d.materiality && need < d.materiality || d.pending {
		return
	}

	side := orderid.SideBuy
	price := d.bestBid
	qty := need
	if need < 0 {
		side = orderid.SideSell
		price = d.bestAsk
		qty = -need
	}
	if price <= 0 {
		d.log.Warn().Msg("no reference quote for corrective order, deferring")
		return
	}

	id := orderid.Adjusting(d.token, side)
	if err := d.gw.Send(event.SubmitOrder{Order: event.Order{
		ID:       id,
		Type:     event.OrderTypePostOnly,
		Price:    price,
		Quantity: qty,
	}}); err != nil {
		d.log.Warn().Err(err).Msg("corrective order send failed")
		return
	}
	d.pending = true
	d.log.Info().Stringer("order", id).Int64("price", price).Int64("qty", qty).
		Msg("submitted account corrective order")
}

// snapshot returns the scoped model for tests.
func (d *AccountDrift) snapshot() (theoretical, deviation int64, pending bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.theoretical, d.deviation, d.pending
}
