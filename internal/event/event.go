package event

import (
	"time"

	"GridLadder/internal/orderid"
)

// Kind discriminates every message the control loop consumes. The set is
// closed: the engine's dispatch switch covers every member and treats an
// unknown kind as a programming error.
type Kind int32

const (
	KindUnknown Kind = iota

	// Acknowledgements from the exchange gateway.
	KindOrderFilled
	KindOrderPartiallyFilled
	KindPostOnlyRejected
	KindPostAccepted
	KindCancelConfirmed
	KindCancelFailed
	KindAmendFailed

	// Market data and control.
	KindPriceTick
	KindBookTicker
	KindTimerFired
	KindStopRequested
)

func (k Kind) String() string {
	switch k {
	case KindOrderFilled:
		return "OrderFilled"
	case KindOrderPartiallyFilled:
		return "OrderPartiallyFilled"
	case KindPostOnlyRejected:
		return "PostOnlyRejected"
	case KindPostAccepted:
		return "PostAccepted"
	case KindCancelConfirmed:
		return "CancelConfirmed"
	case KindCancelFailed:
		return "CancelFailed"
	case KindAmendFailed:
		return "AmendFailed"
	case KindPriceTick:
		return "PriceTick"
	case KindBookTicker:
		return "BookTicker"
	case KindTimerFired:
		return "TimerFired"
	case KindStopRequested:
		return "StopRequested"
	default:
		return "Unknown"
	}
}

// Event is the interface all loop messages implement.
type Event interface {
	Kind() Kind
}

// Ack is the common shape of every exchange acknowledgement. Quantity is
// signed by side: positive for buys, negative for sells. Account is the
// originating sub-account in sharding mode (0 otherwise). Detail carries the
// exchange's raw failure label when the ack reports a failure.
type Ack struct {
	ID       orderid.ID
	Price    int64
	Quantity int64
	Account  int
	Detail   string
}

// OrderFilled reports a fully filled resting order.
type OrderFilled struct{ Ack }

func (OrderFilled) Kind() Kind { return KindOrderFilled }

// OrderPartiallyFilled reports a partial fill; Quantity is the increment
// filled by this ack, not the cumulative amount.
type OrderPartiallyFilled struct{ Ack }

func (OrderPartiallyFilled) Kind() Kind { return KindOrderPartiallyFilled }

// PostOnlyRejected reports a maker-only order cancelled by the venue because
// it would have crossed the spread. Quantity is the full intended quantity.
type PostOnlyRejected struct{ Ack }

func (PostOnlyRejected) Kind() Kind { return KindPostOnlyRejected }

// PostAccepted confirms a resting order was accepted onto the book.
type PostAccepted struct{ Ack }

func (PostAccepted) Kind() Kind { return KindPostAccepted }

// CancelConfirmed confirms a cancel. Quantity is the unfilled remainder
// released by the cancel.
type CancelConfirmed struct{ Ack }

func (CancelConfirmed) Kind() Kind { return KindCancelConfirmed }

// CancelFailed reports a failed cancel (typically "order not found" because
// the order already resolved).
type CancelFailed struct{ Ack }

func (CancelFailed) Kind() Kind { return KindCancelFailed }

// AmendFailed reports a failed quantity amendment.
type AmendFailed struct{ Ack }

func (AmendFailed) Kind() Kind { return KindAmendFailed }

// PriceTick is a last-trade price update.
type PriceTick struct {
	Price    int64
	Sequence int64
	Ts       time.Time
}

func (PriceTick) Kind() Kind { return KindPriceTick }

// BookTicker is a best bid/ask update.
type BookTicker struct {
	Bid int64
	Ask int64
	Ts  time.Time
}

func (BookTicker) Kind() Kind { return KindBookTicker }

// TimerKind discriminates the engine's internal timers.
type TimerKind int32

const (
	TimerIdle TimerKind = iota
	TimerMaintenance
	TimerReport
)

func (tk TimerKind) String() string {
	switch tk {
	case TimerIdle:
		return "idle"
	case TimerMaintenance:
		return "maintenance"
	case TimerReport:
		return "report"
	default:
		return "unknown"
	}
}

// TimerFired is delivered when a debounce or periodic timer elapses.
type TimerFired struct {
	Timer TimerKind
	Ts    time.Time
}

func (TimerFired) Kind() Kind { return KindTimerFired }

// StopRequested asks the engine to unwind. A repeated request escalates to
// Force, which skips the graceful cancel/close sequence.
type StopRequested struct {
	Force bool
}

func (StopRequested) Kind() Kind { return KindStopRequested }
