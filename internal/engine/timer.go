package engine

import (
	"sync"
	"time"

	"GridLadder/internal/event"
)

// Debounce is the reset-on-tick idle timer: every price tick restarts it,
// and it fires only when no tick arrived for the full duration. Firing
// delivers a TimerFired event into the engine inbox; if the inbox is full
// the fire is dropped, since the backed-up events will reset it anyway.
type Debounce struct {
	d    time.Duration
	kind event.TimerKind
	out  chan<- event.Event

	mu    sync.Mutex
	timer *time.Timer
}

func NewDebounce(d time.Duration, kind event.TimerKind, out chan<- event.Event) *Debounce {
	return &Debounce{d: d, kind: kind, out: out}
}

// Reset cancels any pending fire and starts the countdown over.
func (db *Debounce) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.d, db.fire)
}

// Stop cancels the timer without firing.
func (db *Debounce) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}

func (db *Debounce) fire() {
	select {
	case db.out <- event.TimerFired{Timer: db.kind, Ts: time.Now()}:
	default:
	}
}
