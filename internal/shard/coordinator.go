package shard

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"GridLadder/internal/event"
	"GridLadder/internal/gateway"
)

// Coordinator presents N per-account exchanges as one gateway.Exchange.
// Index-addressed commands route to the owning account; commands with no
// index fan out to every account. Acknowledgements from all accounts merge
// into one stream tagged with the originating account number. Only the
// primary account (account 0) subscribes to market data, so the engine never
// receives N duplicate quote streams.
type Coordinator struct {
	accounts []gateway.Exchange
	drift    []*AccountDrift
	out      chan event.Event
	log      zerolog.Logger

	startOnce sync.Once
}

func NewCoordinator(accounts []gateway.Exchange, log zerolog.Logger) (*Coordinator, error) {
	if len(accounts) == 0 {
		return nil, fmt.Errorf("coordinator needs at least one account")
	}
	return &Coordinator{
		accounts: accounts,
		out:      make(chan event.Event, 256*len(accounts)),
		log:      log.With().Str("component", "shard_coordinator").Logger(),
	}, nil
}

// Accounts returns the number of accounts under coordination.
func (c *Coordinator) Accounts() int { return len(c.accounts) }

// AttachDrift registers per-account drift reconcilers; each one then sees
// its account's acknowledgements as they are relayed. Must be called before
// Start.
func (c *Coordinator) AttachDrift(workers []*AccountDrift) {
	c.drift = workers
}

// Start launches one relay goroutine per account. It is called implicitly on
// the first Events() read but may be called eagerly.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		for i, acc := range c.accounts {
			go c.relay(ctx, i, acc)
		}
	})
}

// relay copies one account's acknowledgements into the merged stream. Fills
// are forwarded unchanged on the primary statistics path; everything gets
// the account number for audit.
func (c *Coordinator) relay(ctx context.Context, account int, acc gateway.Exchange) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-acc.Events():
			if !ok {
				c.log.Warn().Int("account", account).Msg("account event stream closed")
				return
			}
			tagged := tagAccount(ev, account)
			if account < len(c.drift) && c.drift[account] != nil {
				c.drift[account].observe(tagged)
			}
			select {
			case c.out <- tagged:
			case <-ctx.Done():
				return
			}
		}
	}
}

// tagAccount stamps the originating account onto acknowledgement events.
// Market-data events carry no account and pass through untouched.
func tagAccount(ev event.Event, account int) event.Event {
	switch v := ev.(type) {
	case event.OrderFilled:
		v.Account = account
		return v
	case event.OrderPartiallyFilled:
		v.Account = account
		return v
	case event.PostOnlyRejected:
		v.Account = account
		return v
	case event.PostAccepted:
		v.Account = account
		return v
	case event.CancelConfirmed:
		v.Account = account
		return v
	case event.CancelFailed:
		v.Account = account
		return v
	case event.AmendFailed:
		v.Account = account
		return v
	default:
		return ev
	}
}

func (c *Coordinator) primary() gateway.Exchange { return c.accounts[0] }

func (c *Coordinator) Rules(ctx context.Context, symbol string) (gateway.SymbolRules, error) {
	return c.primary().Rules(ctx, symbol)
}

func (c *Coordinator) CurrentPrice(ctx context.Context, symbol string) (int64, error) {
	return c.primary().CurrentPrice(ctx, symbol)
}

// Position sums every account's signed position.
func (c *Coordinator) Position(ctx context.Context, symbol string) (int64, error) {
	var total int64
	for i, acc := range c.accounts {
		pos, err := acc.Position(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("position account %d: %w", i, err)
		}
		total += pos
	}
	return total, nil
}

// OpenOrders unions every account's open-order list. Synthetic ids are
// globally unique across accounts because each account owns a disjoint
// index set.
func (c *Coordinator) OpenOrders(ctx context.Context, symbol string) ([]gateway.OpenOrder, error) {
	var all []gateway.OpenOrder
	for i, acc := range c.accounts {
		orders, err := acc.OpenOrders(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("open orders account %d: %w", i, err)
		}
		all = append(all, orders...)
	}
	return all, nil
}

// Send routes a command to the account owning its ladder index. Batches are
// split per item; index-less commands fan out to every account.
func (c *Coordinator) Send(cmd event.Command) error {
	n := len(c.accounts)
	switch v := cmd.(type) {
	case event.SubmitOrder:
		if v.Order.Type == event.OrderTypeMarket && n > 1 {
			return c.splitMarket(v.Order)
		}
		return c.accounts[AccountFor(v.Order.ID.Index, n)].Send(cmd)
	case event.CancelOrder:
		return c.accounts[AccountFor(v.ID.Index, n)].Send(cmd)
	case event.AmendOrder:
		return c.accounts[AccountFor(v.ID.Index, n)].Send(cmd)
	case event.SubmitBatch:
		return c.splitBatch(v)
	case event.CancelAll, event.ClosePosition:
		var firstErr error
		for i, acc := range c.accounts {
			if err := acc.Send(cmd); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("account %d: %w", i, err)
			}
		}
		return firstErr
	default:
		return fmt.Errorf("unhandled command kind %v", cmd.CommandKind())
	}
}

// splitMarket divides a market order's quantity as evenly as possible
// across every account, remainder to the first ones. All shares reuse the
// original synthetic id, so the engine sees N inventory fills summing to
// the requested quantity.
func (c *Coordinator) splitMarket(ord event.Order) error {
	shares := SplitQuantity(ord.Quantity, len(c.accounts))
	var firstErr error
	for a, qty := range shares {
		if qty == 0 {
			continue
		}
		part := ord
		part.Quantity = qty
		if err := c.accounts[a].Send(event.SubmitOrder{Order: part}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("account %d: %w", a, err)
		}
	}
	return firstErr
}

// splitBatch regroups a batch's orders by owning account and submits one
// sub-batch per account, reusing the batch id so logs correlate.
func (c *Coordinator) splitBatch(batch event.SubmitBatch) error {
	n := len(c.accounts)
	groups := make(map[int][]event.Order)
	for _, ord := range batch.Orders {
		a := AccountFor(ord.ID.Index, n)
		groups[a] = append(groups[a], ord)
	}
	var firstErr error
	for a, orders := range groups {
		var err error
		if len(orders) == 1 {
			err = c.accounts[a].Send(event.SubmitOrder{Order: orders[0]})
		} else {
			err = c.accounts[a].Send(event.SubmitBatch{BatchID: batch.BatchID, Orders: orders})
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("account %d: %w", a, err)
		}
	}
	return firstErr
}

func (c *Coordinator) Events() <-chan event.Event { return c.out }

// SubscribePrices subscribes on the primary account only; its relay
// goroutine forwards ticks for everyone.
func (c *Coordinator) SubscribePrices(ctx context.Context, symbol string) error {
	c.Start(ctx)
	return c.primary().SubscribePrices(ctx, symbol)
}

func (c *Coordinator) SubscribeBookTicker(ctx context.Context, symbol string) error {
	c.Start(ctx)
	return c.primary().SubscribeBookTicker(ctx, symbol)
}
