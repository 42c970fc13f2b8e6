// Package persistence saves run state and fill audit rows to Postgres so a
// crashed or stopped ladder can be inspected and reconciled by an operator.
// The orchestrator builds RunState from live engine accessors; this package
// never imports the engine.
package persistence

import (
	"context"
	"time"
)

// RunState is one ladder's durable state at a point in time: everything an
// operator needs to reconcile a stopped run against the venue.
type RunState struct {
	LadderID      string `json:"ladder_id"`
	Symbol        string `json:"symbol"`
	State         string `json:"state"`
	EntryPrice    int64  `json:"entry_price"`
	EntryQty      int64  `json:"entry_qty"`
	CriticalIndex int    `json:"critical_index"`
	PresentStair  int    `json:"present_stair"`
	StairsTotal   int    `json:"stairs_total"`

	Prices []int64 `json:"prices"`
	Qtys   []int64 `json:"qtys"`

	// PartialLedger maps encoded synthetic order ids to signed remaining
	// quantities.
	PartialLedger map[string]int64 `json:"partial_ledger"`

	TheoreticalPosition  int64 `json:"theoretical_position"`
	AccumulatedDeviation int64 `json:"accumulated_deviation"`
	MatchedProfit        int64 `json:"matched_profit"`
	RealizedProfit       int64 `json:"realized_profit"`
	Fees                 int64 `json:"fees"`

	CreatedAt time.Time `json:"created_at"`
}

// Store is the run-state port. Saves upsert by ladder id: only the latest
// state per ladder is kept, history lives in the fill audit table.
type Store interface {
	SaveRunState(ctx context.Context, state *RunState) error
	LoadRunState(ctx context.Context, ladderID string) (*RunState, error)
	DeleteRunState(ctx context.Context, ladderID string) error
}
