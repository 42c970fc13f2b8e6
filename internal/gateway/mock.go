package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GridLadder/internal/event"
	"GridLadder/internal/orderid"
)

// Mock is an in-memory exchange for tests and dry runs. It keeps an open
// order set and a signed position, records every command, and lets the
// caller script fills, partial fills, and post-only rejections.
type Mock struct {
	mu       sync.Mutex
	rules    SymbolRules
	price    int64
	position int64
	open     map[orderid.ID]OpenOrder
	sent     []event.Command
	events   chan event.Event
	seq      int64

	// AutoAck emits PostAccepted / CancelConfirmed immediately on Send.
	// Disabled, the test scripts every acknowledgement itself.
	AutoAck bool
}

func NewMock(rules SymbolRules) *Mock {
	return &Mock{
		rules:  rules,
		open:   make(map[orderid.ID]OpenOrder),
		events: make(chan event.Event, 256),
	}
}

func (m *Mock) Rules(ctx context.Context, symbol string) (SymbolRules, error) {
	return m.rules, nil
}

// SetRules replaces the published rules, simulating the venue tightening
// its limits mid-run.
func (m *Mock) SetRules(rules SymbolRules) {
	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()
}

func (m *Mock) CurrentPrice(ctx context.Context, symbol string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.price, nil
}

func (m *Mock) Position(ctx context.Context, symbol string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, nil
}

// SetPosition overrides the reported position, simulating external drift.
func (m *Mock) SetPosition(qty int64) {
	m.mu.Lock()
	m.position = qty
	m.mu.Unlock()
}

func (m *Mock) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OpenOrder, 0, len(m.open))
	for _, ord := range m.open {
		out = append(out, ord)
	}
	return out, nil
}

func (m *Mock) Events() <-chan event.Event { return m.events }

func (m *Mock) SubscribePrices(ctx context.Context, symbol string) error     { return nil }
func (m *Mock) SubscribeBookTicker(ctx context.Context, symbol string) error { return nil }

// Send accepts a command, updates the mock book, and (with AutoAck)
// acknowledges it. Market orders fill immediately at the current price.
func (m *Mock) Send(cmd event.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, cmd)

	switch c := cmd.(type) {
	case event.SubmitOrder:
		m.accept(c.Order)
	case event.SubmitBatch:
		for _, ord := range c.Orders {
			m.accept(ord)
		}
	case event.CancelOrder:
		ord, ok := m.open[c.ID]
		if !ok {
			m.emit(event.CancelFailed{Ack: event.Ack{ID: c.ID, Detail: "order not found"}})
			return nil
		}
		delete(m.open, c.ID)
		if m.AutoAck {
			m.emit(event.CancelConfirmed{Ack: event.Ack{ID: c.ID, Price: ord.Price, Quantity: c.ID.Side.Sign() * ord.Left}})
		}
	case event.AmendOrder:
		ord, ok := m.open[c.ID]
		if !ok {
			m.emit(event.AmendFailed{Ack: event.Ack{ID: c.ID, Detail: "order not found"}})
			return nil
		}
		ord.Size = c.Quantity
		ord.Left = c.Quantity
		m.open[c.ID] = ord
	case event.CancelAll:
		for id := range m.open {
			delete(m.open, id)
		}
	case event.ClosePosition:
		m.position = 0
	default:
		return fmt.Errorf("mock: unhandled command kind %v", cmd.CommandKind())
	}
	return nil
}

func (m *Mock) accept(ord event.Order) {
	if ord.Type == event.OrderTypeMarket {
		m.position += ord.ID.Side.Sign() * ord.Quantity
		m.emit(event.OrderFilled{Ack: event.Ack{
			ID: ord.ID, Price: m.price, Quantity: ord.ID.Side.Sign() * ord.Quantity,
		}})
		return
	}
	m.open[ord.ID] = OpenOrder{ID: ord.ID, Price: ord.Price, Size: ord.Quantity, Left: ord.Quantity}
	if m.AutoAck {
		m.emit(event.PostAccepted{Ack: event.Ack{ID: ord.ID, Price: ord.Price, Quantity: ord.ID.Side.Sign() * ord.Quantity}})
	}
}

// Fill fully fills a resting order and emits OrderFilled.
func (m *Mock) Fill(id orderid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.open[id]
	if !ok {
		return fmt.Errorf("mock fill: no resting order %s", id.Encode())
	}
	delete(m.open, id)
	m.position += id.Side.Sign() * ord.Left
	m.emit(event.OrderFilled{Ack: event.Ack{ID: id, Price: ord.Price, Quantity: id.Side.Sign() * ord.Left}})
	return nil
}

// PartialFill fills part of a resting order and emits OrderPartiallyFilled.
func (m *Mock) PartialFill(id orderid.ID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.open[id]
	if !ok || qty <= 0 || qty > ord.Left {
		return fmt.Errorf("mock partial fill: invalid %s qty %d", id.Encode(), qty)
	}
	ord.Left -= qty
	m.position += id.Side.Sign() * qty
	if ord.Left == 0 {
		delete(m.open, id)
	} else {
		m.open[id] = ord
	}
	m.emit(event.OrderPartiallyFilled{Ack: event.Ack{ID: id, Price: ord.Price, Quantity: id.Side.Sign() * qty}})
	return nil
}

// RejectPostOnly removes a resting order as if the venue had refused it for
// crossing the spread.
func (m *Mock) RejectPostOnly(id orderid.ID, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.open[id]
	if !ok {
		return fmt.Errorf("mock reject: no resting order %s", id.Encode())
	}
	delete(m.open, id)
	m.emit(event.PostOnlyRejected{Ack: event.Ack{ID: id, Price: ord.Price, Quantity: id.Side.Sign() * ord.Size, Detail: detail}})
	return nil
}

// Tick sets the current price and emits a PriceTick.
func (m *Mock) Tick(price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
	m.seq++
	m.emit(event.PriceTick{Price: price, Sequence: m.seq, Ts: time.Now()})
}

// Advance sets the price, emits a PriceTick, and fills every resting order
// the move crossed. This is the paper-trading venue: post-only orders rest
// until a tick trades through their price.
func (m *Mock) Advance(price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
	m.seq++
	m.emit(event.PriceTick{Price: price, Sequence: m.seq, Ts: time.Now()})
	m.cross(price)
}

// AdvanceQuiet moves the price and fills crossed orders without emitting a
// tick. Secondary sharded accounts use it so the engine sees exactly one
// quote stream from the primary.
func (m *Mock) AdvanceQuiet(price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.price = price
	m.cross(price)
}

// Quote publishes a book-ticker update.
func (m *Mock) Quote(bid, ask int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit(event.BookTicker{Bid: bid, Ask: ask, Ts: time.Now()})
}

// cross fills resting orders traded through by a move to price. Lock held.
func (m *Mock) cross(price int64) {
	for id, ord := range m.open {
		crossed := (id.Side == orderid.SideBuy && price <= ord.Price) ||
			(id.Side == orderid.SideSell && price >= ord.Price)
		if !crossed {
			continue
		}
		delete(m.open, id)
		m.position += id.Side.Sign() * ord.Left
		m.emit(event.OrderFilled{Ack: event.Ack{ID: id, Price: ord.Price, Quantity: id.Side.Sign() * ord.Left}})
	}
}

// Sent returns every command received so far.
func (m *Mock) Sent() []event.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Command, len(m.sent))
	copy(out, m.sent)
	return out
}

// Resting reports whether an order currently rests on the mock book.
func (m *Mock) Resting(id orderid.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[id]
	return ok
}

func (m *Mock) emit(ev event.Event) {
	select {
	case m.events <- ev:
	default:
		// A test that never drains the channel gets what it asked for.
	}
}
