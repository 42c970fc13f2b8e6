// Package report defines the periodic run snapshot and publishes it, plus
// per-fill audit events, to NATS JetStream for downstream consumers.
package report

import "time"

// Snapshot is the periodic reporting record for one ladder run.
// Positions are in lots; profit figures are quote-scaled.
type Snapshot struct {
	LadderID             string    `json:"ladder_id"`
	Symbol               string    `json:"symbol"`
	CriticalIndex        int       `json:"critical_index"`
	TheoreticalPosition  int64     `json:"theoretical_position"`
	ValidPosition        int64     `json:"valid_position"`
	AccumulatedDeviation int64     `json:"accumulated_deviation"`
	MatchedProfit        int64     `json:"matched_profit"`
	RealizedProfit       int64     `json:"realized_profit"`
	UnrealizedProfit     int64     `json:"unrealized_profit"`
	Fees                 int64     `json:"fees"`
	FinalProfit          int64     `json:"final_profit"`
	Timestamp            time.Time `json:"timestamp"`
}

// Fill is the audit record for one confirmed fill, published as it happens.
type Fill struct {
	LadderID string    `json:"ladder_id"`
	Symbol   string    `json:"symbol"`
	OrderID  string    `json:"order_id"`
	Index    int       `json:"index"`
	Side     string    `json:"side"`
	Price    int64     `json:"price"`
	Quantity int64     `json:"quantity"`
	Account  int       `json:"account"`
	Partial  bool      `json:"partial"`
	Ts       time.Time `json:"ts"`
}
