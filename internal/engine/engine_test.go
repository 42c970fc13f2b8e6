package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"GridLadder/internal/event"
	"GridLadder/internal/fixed"
	"GridLadder/internal/gateway"
	"GridLadder/internal/ladder"
	"GridLadder/internal/orderid"
)

func newTestEngine(t *testing.T) (*Engine, *gateway.Mock) {
	t.Helper()
	m := gateway.NewMock(gateway.SymbolRules{
		PriceStep:      10_000,
		QtyStep:        1,
		MaxLeverage:    20,
		OpenOrderLimit: 20,
	})
	m.AutoAck = true

	cfg := Config{
		LadderID:   "lad-1",
		Symbol:     "TESTUSDT",
		ShardToken: "t1",
		Ladder: ladder.Config{
			Symbol:       "TESTUSDT",
			Ratio:        10_000,  // 1% per level
			FillingStep:  200_000, // 20% stair height
			LowerSpace:   300_000, // 30% below entry
			UpperBound:   200 * fixed.PriceConfig.Scale,
			Fund:         100_000 * fixed.QuoteConfig.Scale,
			LotSize:      fixed.RatioOne,
			PriceTick:    10_000,
			BufferStairs: 2,
		},
	}
	e := New(cfg, m, nil, zerolog.Nop(), nil, nil)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return e, m
}

// drain feeds every pending mock acknowledgement back through the engine
// until the channel is empty, returning the first Handle error.
func drain(t *testing.T, e *Engine, m *gateway.Mock) error {
	t.Helper()
	for {
		select {
		case ev := <-m.Events():
			if err := e.Handle(context.Background(), ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// enterTrading ticks the engine into the trading state and settles the
// resulting entry fill and post acks.
func enterTrading(t *testing.T, e *Engine, m *gateway.Mock) {
	t.Helper()
	m.Tick(100 * fixed.PriceConfig.Scale)
	if err := drain(t, e, m); err != nil {
		t.Fatalf("entry drain: %v", err)
	}
	if got, want := e.Ladder().State(), ladder.StateTrading; got != want {
		t.Fatalf("state after entry = %v, want %v", got, want)
	}
}

func countCommands(m *gateway.Mock, kind event.CommandKind) int {
	n := 0
	for _, cmd := range m.Sent() {
		if cmd.CommandKind() == kind {
			n++
		}
	}
	return n
}

func TestEntryBuysInventoryAndLaysNet(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	if e.theoreticalPosition <= 0 {
		t.Errorf("theoretical position after entry = %d, want > 0", e.theoreticalPosition)
	}
	if got := e.theoreticalPosition; got != e.Ladder().EntryQty() {
		t.Errorf("theoretical position = %d, want entry quantity %d", got, e.Ladder().EntryQty())
	}

	crit := e.Ladder().CriticalIndex()
	for _, idx := range e.bk.Indices(orderid.SideBuy) {
		if idx >= crit {
			t.Errorf("buy resting at index %d, want all below critical %d", idx, crit)
		}
	}
	for _, idx := range e.bk.Indices(orderid.SideSell) {
		if idx <= crit {
			t.Errorf("sell resting at index %d, want all above critical %d", idx, crit)
		}
	}
	if buys := e.bk.Count(orderid.SideBuy); buys < e.limits.MinPerSide {
		t.Errorf("buy count = %d, want >= %d", buys, e.limits.MinPerSide)
	}
}

func TestSellFillShiftsCriticalAndBooksMatchedProfit(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	crit := e.Ladder().CriticalIndex()
	posBefore := e.theoreticalPosition

	id := orderid.New("t1", crit+1, orderid.SideSell)
	rec, ok := e.bk.Get(crit+1, orderid.SideSell)
	if !ok {
		t.Fatalf("no sell resting at critical+1")
	}
	if err := m.Fill(id); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got, want := e.Ladder().CriticalIndex(), crit+1; got != want {
		t.Errorf("critical index = %d, want %d", got, want)
	}
	if e.matchedProfit <= 0 {
		t.Errorf("matched profit = %d, want > 0", e.matchedProfit)
	}
	if got, want := e.theoreticalPosition, posBefore+rec.Quantity; got != want {
		t.Errorf("theoretical position = %d, want %d", got, want)
	}
	// Replenishment keeps a sell above the new critical index.
	if sells := e.bk.Indices(orderid.SideSell); len(sells) == 0 || sells[0] != crit+2 {
		t.Errorf("sells after fill = %v, want lowest at %d", sells, crit+2)
	}
}

func TestPostOnlyRejectionIsVirtualFill(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	crit := e.Ladder().CriticalIndex()
	target := crit + 8
	qty := e.Ladder().Qty(crit + 1)
	if qty <= 0 {
		t.Fatalf("no funded quantity above critical")
	}

	ev := event.PostOnlyRejected{Ack: event.Ack{
		ID:       orderid.New("t1", target, orderid.SideBuy),
		Price:    e.Ladder().Price(target),
		Quantity: qty,
		Detail:   "would cross",
	}}
	if err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got, want := e.accumulatedDeviation, qty; got != want {
		t.Errorf("accumulated deviation = %d, want %d", got, want)
	}
	if got, want := e.Ladder().CriticalIndex(), target; got != want {
		t.Errorf("critical index = %d, want %d", got, want)
	}
	// The reversal sequence covers old critical+1 up to and including the
	// rejected index.
	for idx := crit + 1; idx <= target; idx++ {
		if !e.bk.Has(idx, orderid.SideSell) {
			t.Errorf("no sell resting at index %d after rejection reversal", idx)
		}
	}
}

func TestPartialFillLedgerResolvesAtZero(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	crit := e.Ladder().CriticalIndex()
	id := orderid.New("t1", crit+1, orderid.SideSell)
	rec, ok := e.bk.Get(crit+1, orderid.SideSell)
	if !ok {
		t.Fatalf("no sell resting at critical+1")
	}
	full := -rec.Quantity // sell records are negative
	if full < 2 {
		t.Skipf("quantity %d too small to split", full)
	}

	if err := m.PartialFill(id, 1); err != nil {
		t.Fatalf("PartialFill: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got, want := e.bk.PartialNet(), -(full - 1); got != want {
		t.Errorf("partial net = %d, want %d", got, want)
	}
	if got, want := e.Ladder().CriticalIndex(), crit; got != want {
		t.Errorf("critical moved to %d on unresolved partial, want %d", got, want)
	}

	if err := m.Fill(id); err != nil {
		t.Fatalf("Fill remainder: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := e.bk.PartialLen(); got != 0 {
		t.Errorf("partial ledger size = %d, want 0", got)
	}
	if got, want := e.Ladder().CriticalIndex(), crit+1; got != want {
		t.Errorf("critical index = %d, want %d after resolution", got, want)
	}
}

func TestCancelledPartialFoldsRemainderIntoDeviation(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	crit := e.Ladder().CriticalIndex()
	id := orderid.New("t1", crit+1, orderid.SideSell)
	rec, _ := e.bk.Get(crit+1, orderid.SideSell)
	full := -rec.Quantity
	if full < 2 {
		t.Skipf("quantity %d too small to split", full)
	}

	if err := m.PartialFill(id, 1); err != nil {
		t.Fatalf("PartialFill: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	ev := event.CancelConfirmed{Ack: event.Ack{ID: id, Quantity: -(full - 1)}}
	if err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got, want := e.accumulatedDeviation, -(full - 1); got != want {
		t.Errorf("accumulated deviation = %d, want %d", got, want)
	}
	if got := e.bk.PartialLen(); got != 0 {
		t.Errorf("partial ledger size = %d, want 0", got)
	}
}

func TestImpossibleFillHaltsLadder(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	crit := e.Ladder().CriticalIndex()
	id := orderid.New("t1", crit+1, orderid.SideSell)

	// A buy-signed fill on a sell order is a sign flip the ledger must
	// refuse.
	ev := event.OrderPartiallyFilled{Ack: event.Ack{ID: id, Quantity: 5}}
	if err := e.Handle(context.Background(), ev); err == nil {
		t.Fatalf("Handle accepted an impossible fill")
	}
	if got, want := e.Ladder().State(), ladder.StateStopped; got != want {
		t.Errorf("state = %v, want %v", got, want)
	}
	if e.Ladder().Fatal() == nil {
		t.Errorf("no fatal error recorded after impossible fill")
	}
	_ = m
}

func TestDriftCorrectionAmendsNearestOrder(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	posBefore := e.theoreticalPosition

	// A rejected buy leaves the engine owed inventory.
	crit := e.Ladder().CriticalIndex()
	qty := e.Ladder().Qty(crit + 1)
	ev := event.PostOnlyRejected{Ack: event.Ack{
		ID:       orderid.New("t1", crit+2, orderid.SideBuy),
		Quantity: qty,
	}}
	if err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if err := e.Handle(context.Background(), event.TimerFired{Timer: event.TimerMaintenance, Ts: time.Now()}); err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if e.pending == nil || !e.pending.amend {
		t.Fatalf("no amend correction pending, deviation = %d", e.accumulatedDeviation)
	}
	amendID := e.pending.id

	if err := m.Fill(amendID); err != nil {
		t.Fatalf("Fill amended order: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got := e.accumulatedDeviation; got != 0 {
		t.Errorf("accumulated deviation after correction = %d, want 0", got)
	}
	if e.pending != nil {
		t.Errorf("correction still pending after fill")
	}
	if e.theoreticalPosition <= posBefore {
		t.Errorf("theoretical position = %d, want > %d after absorbing drift", e.theoreticalPosition, posBefore)
	}
}

func TestAmendedOrderSettlesAcrossPartialFills(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	posBefore := e.theoreticalPosition

	// A rejected buy leaves the engine owed inventory; maintenance absorbs
	// it by amending the nearest resting buy.
	crit := e.Ladder().CriticalIndex()
	qty := e.Ladder().Qty(crit + 1)
	ev := event.PostOnlyRejected{Ack: event.Ack{
		ID:       orderid.New("t1", crit+2, orderid.SideBuy),
		Quantity: qty,
	}}
	if err := e.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := e.Handle(context.Background(), event.TimerFired{Timer: event.TimerMaintenance, Ts: time.Now()}); err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if e.pending == nil || !e.pending.amend {
		t.Fatalf("no amend correction pending, deviation = %d", e.accumulatedDeviation)
	}
	amendID := e.pending.id

	rec, ok := e.bk.Get(amendID.Index, amendID.Side)
	if !ok {
		t.Fatalf("amended order %s missing from book", amendID.Encode())
	}
	amended := abs64(rec.Quantity)
	if amended <= qty {
		t.Fatalf("book quantity %d not resized past grid quantity %d", amended, qty)
	}

	// The venue fills the amended size in two increments; the first alone
	// exceeds the original grid quantity.
	first := amended/2 + 1
	if err := m.PartialFill(amendID, first); err != nil {
		t.Fatalf("PartialFill: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain first increment: %v", err)
	}
	if err := m.PartialFill(amendID, amended-first); err != nil {
		t.Fatalf("PartialFill remainder: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain remainder: %v", err)
	}

	if err := e.Ladder().Fatal(); err != nil {
		t.Fatalf("ladder halted: %v", err)
	}
	if got, want := e.Ladder().State(), ladder.StateTrading; got != want {
		t.Errorf("state = %v, want %v", got, want)
	}
	if got := e.accumulatedDeviation; got != 0 {
		t.Errorf("accumulated deviation = %d, want 0 after settlement", got)
	}
	if e.pending != nil {
		t.Errorf("correction still pending after amended order resolved")
	}
	if got, want := e.theoreticalPosition, posBefore+amended; got != want {
		t.Errorf("theoretical position = %d, want %d", got, want)
	}
}

func TestDriftCorrectionSubmitsAdjustingOrder(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	// No resting buys to amend: force the fresh-order path.
	for _, idx := range e.bk.Indices(orderid.SideBuy) {
		if rec, ok := e.bk.Get(idx, orderid.SideBuy); ok {
			e.bk.Remove(rec.ID)
		}
	}
	e.accumulatedDeviation = 7
	e.bestBid = 99 * fixed.PriceConfig.Scale
	e.bestAsk = 101 * fixed.PriceConfig.Scale

	if err := e.Handle(context.Background(), event.TimerFired{Timer: event.TimerMaintenance, Ts: time.Now()}); err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if e.pending == nil || e.pending.amend {
		t.Fatalf("no adjusting-order correction pending")
	}
	if !e.pending.id.IsAdjusting() {
		t.Errorf("corrective order id %s is not in the adjusting slot", e.pending.id.Encode())
	}
	if !m.Resting(e.pending.id) {
		t.Fatalf("corrective order not resting on the venue")
	}

	id := e.pending.id
	if err := m.Fill(id); err != nil {
		t.Fatalf("Fill corrective: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := e.accumulatedDeviation; got != 0 {
		t.Errorf("accumulated deviation = %d, want 0 after corrective fill", got)
	}
	if e.pending != nil {
		t.Errorf("correction still pending after corrective fill")
	}
}

func TestStairAdvanceOnBoundary(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	posBefore := e.theoreticalPosition

	m.Tick(120 * fixed.PriceConfig.Scale)
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got, want := e.Ladder().PresentStair(), 2; got != want {
		t.Errorf("present stair = %d, want %d", got, want)
	}
	if e.Ladder().RealizedProfit() <= 0 {
		t.Errorf("realized profit = %d, want > 0 after completed stair", e.Ladder().RealizedProfit())
	}
	if e.theoreticalPosition <= posBefore {
		t.Errorf("theoretical position = %d, want > %d after stair inventory buy", e.theoreticalPosition, posBefore)
	}
}

func TestStopIsTwoPhase(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	// An outstanding correction defers the unwind.
	e.pending = &correction{id: orderid.Adjusting("t1", orderid.SideBuy), extra: 3}

	if err := e.Handle(context.Background(), event.StopRequested{}); err != nil {
		t.Fatalf("first stop request: %v", err)
	}
	if got, want := e.Ladder().State(), ladder.StateTerminating; got != want {
		t.Errorf("state = %v, want %v while correction outstanding", got, want)
	}
	if n := countCommands(m, event.CommandCancelAll); n != 0 {
		t.Errorf("cancel-all issued %d times before correction settled, want 0", n)
	}

	fill := event.OrderFilled{Ack: event.Ack{ID: e.pending.id, Quantity: 3, Price: 100 * fixed.PriceConfig.Scale}}
	if err := e.Handle(context.Background(), fill); err == nil {
		t.Fatalf("expected stop sentinel after correction settled")
	}
	if got, want := e.Ladder().State(), ladder.StateStopped; got != want {
		t.Errorf("state = %v, want %v", got, want)
	}
	if n := countCommands(m, event.CommandCancelAll); n != 1 {
		t.Errorf("cancel-all issued %d times, want 1", n)
	}
	if n := countCommands(m, event.CommandClosePosition); n != 1 {
		t.Errorf("close-position issued %d times, want 1", n)
	}
}

func TestForcedStopSkipsUnwind(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	if err := e.Handle(context.Background(), event.StopRequested{Force: true}); err == nil {
		t.Fatalf("expected stop sentinel on forced stop")
	}
	if got, want := e.Ladder().State(), ladder.StateStopped; got != want {
		t.Errorf("state = %v, want %v", got, want)
	}
	if n := countCommands(m, event.CommandCancelAll); n != 0 {
		t.Errorf("forced stop issued cancel-all %d times, want 0", n)
	}
}

func TestMaintenanceCancelsStrayOrders(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	stray := orderid.New("t1", 990, orderid.SideBuy)
	if err := m.Send(event.SubmitOrder{Order: event.Order{
		ID:       stray,
		Type:     event.OrderTypePostOnly,
		Price:    90 * fixed.PriceConfig.Scale,
		Quantity: 1,
	}}); err != nil {
		t.Fatalf("seed stray: %v", err)
	}
	if !m.Resting(stray) {
		t.Fatalf("stray not resting before maintenance")
	}

	if err := e.Handle(context.Background(), event.TimerFired{Timer: event.TimerMaintenance, Ts: time.Now()}); err != nil {
		t.Fatalf("maintenance: %v", err)
	}
	if m.Resting(stray) {
		t.Errorf("stray order still resting after maintenance diff")
	}
}

func TestPositionIdentityHoldsAcrossEventMix(t *testing.T) {
	e, m := newTestEngine(t)
	enterTrading(t, e, m)

	crit := e.Ladder().CriticalIndex()

	if err := m.Fill(orderid.New("t1", crit+1, orderid.SideSell)); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := m.PartialFill(orderid.New("t1", crit-1, orderid.SideBuy), 1); err != nil {
		t.Fatalf("PartialFill: %v", err)
	}
	if err := m.RejectPostOnly(orderid.New("t1", crit-2, orderid.SideBuy), "would cross"); err != nil {
		t.Fatalf("RejectPostOnly: %v", err)
	}
	if err := drain(t, e, m); err != nil {
		t.Fatalf("drain: %v", err)
	}

	if got, want := e.validPosition(), e.theoreticalPosition+e.accumulatedDeviation+e.bk.PartialNet(); got != want {
		t.Errorf("valid position = %d, want identity value %d", got, want)
	}
	// With every trade acknowledged, the model position matches the venue's
	// modulo the rejection deviation and partial remainder.
	actual, _ := m.Position(context.Background(), "TESTUSDT")
	if got := e.theoreticalPosition; got != actual {
		t.Errorf("theoretical position = %d, venue reports %d", got, actual)
	}
}

func TestDebounceFiresOnlyAfterQuiet(t *testing.T) {
	out := make(chan event.Event, 1)
	db := NewDebounce(30*time.Millisecond, event.TimerIdle, out)
	db.Reset()

	select {
	case ev := <-out:
		tf, ok := ev.(event.TimerFired)
		if !ok || tf.Timer != event.TimerIdle {
			t.Errorf("fired event = %#v, want idle TimerFired", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("debounce never fired")
	}

	db.Reset()
	db.Stop()
	select {
	case <-out:
		t.Errorf("debounce fired after Stop")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	e, _ := newTestEngine(t)

	if err := r.Add(e); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(e); err == nil {
		t.Errorf("duplicate Add accepted")
	}
	if _, ok := r.Get("lad-1"); !ok {
		t.Errorf("Get missed registered engine")
	}
	if got := r.IDs(); len(got) != 1 || got[0] != "lad-1" {
		t.Errorf("IDs = %v, want [lad-1]", got)
	}

	r.StopAll(false)
	select {
	case ev := <-e.inbox:
		if _, ok := ev.(event.StopRequested); !ok {
			t.Errorf("inbox event = %#v, want StopRequested", ev)
		}
	default:
		t.Errorf("StopAll queued nothing")
	}

	r.Remove("lad-1")
	if _, ok := r.Get("lad-1"); ok {
		t.Errorf("engine still registered after Remove")
	}
}
