// Package gateway defines the exchange port the engine trades through and
// provides an in-memory implementation for tests plus a websocket market
// data feed. The real venue binding is a thin, swappable implementation of
// the Exchange interface.
package gateway

import (
	"context"

	"GridLadder/internal/event"
	"GridLadder/internal/orderid"
)

// SymbolRules are the per-symbol trading rules the exchange publishes.
// PriceDeviationLimit is ratio-scaled: how far from mark a post-only order
// may rest before the venue rejects it.
type SymbolRules struct {
	PriceStep           int64
	QtyStep             int64
	MaxLeverage         int64
	PriceDeviationLimit int64
	OpenOrderLimit      int
}

// OpenOrder is one entry of the venue's open-order list, decoded to a
// synthetic id. Orders whose client id is not a valid synthetic id are
// filtered out by the implementation before they reach the engine.
type OpenOrder struct {
	ID    orderid.ID
	Price int64
	Size  int64
	Left  int64
}

// Exchange is the engine's port to the venue. Command submission is
// fire-and-forget: Send returns once the command is accepted for delivery,
// and the outcome arrives later on Events, correlated by synthetic id.
type Exchange interface {
	Rules(ctx context.Context, symbol string) (SymbolRules, error)
	CurrentPrice(ctx context.Context, symbol string) (int64, error)
	Position(ctx context.Context, symbol string) (int64, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	Send(cmd event.Command) error
	Events() <-chan event.Event

	SubscribePrices(ctx context.Context, symbol string) error
	SubscribeBookTicker(ctx context.Context, symbol string) error
}
