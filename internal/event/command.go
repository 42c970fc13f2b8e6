package event

import (
	"github.com/google/uuid"

	"GridLadder/internal/orderid"
)

// CommandKind discriminates every command the engine issues to the gateway.
type CommandKind int32

const (
	CommandUnknown CommandKind = iota
	CommandSubmitOrder
	CommandCancelOrder
	CommandAmendOrder
	CommandSubmitBatch
	CommandCancelAll
	CommandClosePosition
)

func (ck CommandKind) String() string {
	switch ck {
	case CommandSubmitOrder:
		return "SubmitOrder"
	case CommandCancelOrder:
		return "CancelOrder"
	case CommandAmendOrder:
		return "AmendOrder"
	case CommandSubmitBatch:
		return "SubmitBatch"
	case CommandCancelAll:
		return "CancelAll"
	case CommandClosePosition:
		return "ClosePosition"
	default:
		return "Unknown"
	}
}

// OrderType selects the execution style of a submitted order.
type OrderType int32

const (
	// OrderTypePostOnly rests as a maker order and is rejected by the venue
	// instead of crossing the spread.
	OrderTypePostOnly OrderType = iota
	// OrderTypeIOC fills what it can immediately and cancels the rest.
	OrderTypeIOC
	// OrderTypeMarket takes liquidity at any price.
	OrderTypeMarket
)

func (ot OrderType) String() string {
	switch ot {
	case OrderTypeIOC:
		return "ioc"
	case OrderTypeMarket:
		return "market"
	default:
		return "post_only"
	}
}

// Order is the payload of a submit command. Price is ignored for market
// orders. Quantity is in whole lots, always positive; direction comes from
// the id's side.
type Order struct {
	ID       orderid.ID
	Type     OrderType
	Price    int64
	Quantity int64
}

// Command is the interface for gateway commands.
type Command interface {
	CommandKind() CommandKind
}

// SubmitOrder places a single order.
type SubmitOrder struct {
	Order Order
}

func (SubmitOrder) CommandKind() CommandKind { return CommandSubmitOrder }

// CancelOrder cancels a resting order by synthetic id.
type CancelOrder struct {
	ID orderid.ID
}

func (CancelOrder) CommandKind() CommandKind { return CommandCancelOrder }

// AmendOrder changes a resting order's quantity in place.
type AmendOrder struct {
	ID       orderid.ID
	Quantity int64
}

func (AmendOrder) CommandKind() CommandKind { return CommandAmendOrder }

// SubmitBatch places several orders in one venue request. BatchID ties the
// batch's acks together in logs.
type SubmitBatch struct {
	BatchID uuid.UUID
	Orders  []Order
}

func (SubmitBatch) CommandKind() CommandKind { return CommandSubmitBatch }

// CancelAll cancels every resting order for the symbol.
type CancelAll struct{}

func (CancelAll) CommandKind() CommandKind { return CommandCancelAll }

// ClosePosition flattens the position at market.
type ClosePosition struct{}

func (ClosePosition) CommandKind() CommandKind { return CommandClosePosition }
