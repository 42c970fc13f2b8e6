// Package engine runs the single-threaded control loop for one ladder: it
// sequences price ticks, exchange acknowledgements, and timers, drives the
// ladder state machine and stair advances, and keeps the exchange's actual
// orders and position consistent with the model.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"GridLadder/internal/book"
	"GridLadder/internal/event"
	"GridLadder/internal/fixed"
	"GridLadder/internal/gateway"
	"GridLadder/internal/grid"
	"GridLadder/internal/ladder"
	"GridLadder/internal/observability"
	"GridLadder/internal/orderid"
	"GridLadder/internal/persistence"
	"GridLadder/internal/report"
)

// errStopped signals a clean loop exit after a stop request completed.
var errStopped = errors.New("engine stopped")

// Config carries one engine's run parameters. The reconciliation constants
// are tuned values preserved as configuration; the defaults mirror the
// strategy they were tuned for.
type Config struct {
	LadderID   string
	Symbol     string
	ShardToken string
	Account    int

	Ladder ladder.Config

	// IdleTimeout is the debounce: maintenance runs when no tick arrived
	// for this long. MaintenanceEvery is the periodic fallback.
	IdleTimeout      time.Duration
	MaintenanceEvery time.Duration
	ReportEvery      time.Duration

	// RelaySpacingMultiplier: price drift beyond this many local grid
	// spacings triggers a full cancel-and-re-lay.
	RelaySpacingMultiplier int64
	// DriftMateriality: corrections smaller than this many lots are folded
	// into accumulated deviation instead of traded.
	DriftMateriality int64
	// ReversalBatchThreshold: reversal submissions above this count go out
	// as one batch command.
	ReversalBatchThreshold int
	// FeeRatio is the per-fill fee on notional, ratio-scaled.
	FeeRatio int64

	InboxSize int
}

func (c *Config) withDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaintenanceEvery <= 0 {
		c.MaintenanceEvery = 5 * time.Minute
	}
	if c.ReportEvery <= 0 {
		c.ReportEvery = time.Minute
	}
	if c.RelaySpacingMultiplier <= 0 {
		c.RelaySpacingMultiplier = 5
	}
	if c.DriftMateriality <= 0 {
		c.DriftMateriality = 1
	}
	if c.ReversalBatchThreshold <= 0 {
		c.ReversalBatchThreshold = 3
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.ShardToken == "" {
		c.ShardToken = c.LadderID
	}
}

// correction tracks the one outstanding drift correction: either an amended
// resting order (amend=true) or a dedicated order in the adjusting slot.
// Extra is the signed lot count the correction absorbs on top of any grid
// quantity the order already carried; gridQty preserves that original
// quantity so reversal math stays unaware of the amend.
type correction struct {
	id      orderid.ID
	extra   int64
	gridQty int64
	amend   bool
}

// Engine owns all mutable state for one ladder run. Every field is touched
// only from the Run goroutine; tests drive Handle directly.
type Engine struct {
	cfg     Config
	lad     *ladder.Ladder
	bk      *book.Book
	gw      gateway.Exchange
	log     zerolog.Logger
	metrics *observability.Metrics

	inbox chan event.Event
	idle  *Debounce

	rules  gateway.SymbolRules
	limits book.Limits

	lastPrice     int64
	bestBid       int64
	bestAsk       int64
	criticalPrice int64

	theoreticalPosition  int64
	accumulatedDeviation int64
	matchedProfit        int64
	fees                 int64

	pending       *correction
	stopRequested bool

	snapshots chan<- report.Snapshot
	fillsOut  chan<- report.Fill
	statesOut chan<- persistence.RunState
}

// New builds an engine. Snapshot and fill channels may be nil when no
// reporting sink is attached.
func New(cfg Config, gw gateway.Exchange, metrics *observability.Metrics, log zerolog.Logger,
	snapshots chan<- report.Snapshot, fills chan<- report.Fill) *Engine {

	cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		lad:       ladder.New(cfg.Ladder),
		bk:        book.New(),
		gw:        gw,
		log:       log.With().Str("component", "engine").Str("ladder", cfg.LadderID).Logger(),
		metrics:   metrics,
		inbox:     make(chan event.Event, cfg.InboxSize),
		snapshots: snapshots,
		fillsOut:  fills,
	}
	e.idle = NewDebounce(cfg.IdleTimeout, event.TimerIdle, e.inbox)
	return e
}

// Ladder exposes the ladder for inspection; the caller must not mutate it
// while Run is live.
func (e *Engine) Ladder() *ladder.Ladder { return e.lad }

// SetStateSink attaches the run-state persistence channel. Call before Run;
// every report tick and the final stop then push a durable state.
func (e *Engine) SetStateSink(ch chan<- persistence.RunState) { e.statesOut = ch }

// RequestStop asks the loop to unwind. A second non-forced request, or any
// forced one, escalates to a stop that skips the graceful sequence.
func (e *Engine) RequestStop(force bool) {
	select {
	case e.inbox <- event.StopRequested{Force: force}:
	default:
	}
}

// Init fetches the symbol rules, derives the resting limits, and arms the
// ladder. Call once before Run.
func (e *Engine) Init(ctx context.Context) error {
	rules, err := e.gw.Rules(ctx, e.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch symbol rules: %w", err)
	}
	e.rules = rules
	e.limits = book.DeriveLimits(rules.OpenOrderLimit, rules.PriceDeviationLimit, 0, 0)

	if err := e.lad.Arm(); err != nil {
		return err
	}
	if err := e.gw.SubscribePrices(ctx, e.cfg.Symbol); err != nil {
		return fmt.Errorf("subscribe prices: %w", err)
	}
	if err := e.gw.SubscribeBookTicker(ctx, e.cfg.Symbol); err != nil {
		return fmt.Errorf("subscribe book ticker: %w", err)
	}
	e.log.Info().Str("state", e.lad.State().String()).Msg("engine armed")
	return nil
}

// Run consumes events until the ladder stops or the context is cancelled.
// Acknowledgements, ticks, and timers are strictly serialized through one
// goroutine; ladder state is never touched from anywhere else.
func (e *Engine) Run(ctx context.Context) error {
	maint := time.NewTicker(e.cfg.MaintenanceEvery)
	defer maint.Stop()
	reports := time.NewTicker(e.cfg.ReportEvery)
	defer reports.Stop()
	e.idle.Reset()
	defer e.idle.Stop()

	for {
		var ev event.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case got, ok := <-e.gw.Events():
			if !ok {
				return fmt.Errorf("gateway event stream closed")
			}
			ev = got
		case ev = <-e.inbox:
		case t := <-maint.C:
			ev = event.TimerFired{Timer: event.TimerMaintenance, Ts: t}
		case t := <-reports.C:
			ev = event.TimerFired{Timer: event.TimerReport, Ts: t}
		}

		if err := e.Handle(ctx, ev); err != nil {
			if errors.Is(err, errStopped) {
				e.log.Info().Msg("engine stopped")
				return nil
			}
			e.log.Error().Err(err).Msg("engine halted")
			return err
		}
		if e.metrics != nil {
			e.metrics.SetInboxMetrics(e.cfg.LadderID, len(e.inbox), cap(e.inbox))
		}
	}
}

// Handle processes one loop event. It is the dispatch point for the closed
// event union; an unknown kind is a programming error.
func (e *Engine) Handle(ctx context.Context, ev event.Event) error {
	start := time.Now()
	var err error
	switch v := ev.(type) {
	case event.PriceTick:
		err = e.onTick(ctx, v)
	case event.BookTicker:
		e.bestBid, e.bestAsk = v.Bid, v.Ask
	case event.OrderFilled:
		err = e.onFilled(v)
	case event.OrderPartiallyFilled:
		err = e.onPartialFill(v)
	case event.PostOnlyRejected:
		err = e.onRejected(v)
	case event.PostAccepted:
		e.log.Debug().Stringer("order", v.ID).Int64("price", v.Price).Msg("post accepted")
	case event.CancelConfirmed:
		e.onCancelConfirmed(v)
	case event.CancelFailed:
		e.onCancelFailed(v)
	case event.AmendFailed:
		e.onAmendFailed(v)
	case event.TimerFired:
		err = e.onTimer(ctx, v)
	case event.StopRequested:
		err = e.onStop(v)
	default:
		return fmt.Errorf("unhandled event kind %T", ev)
	}

	if e.metrics != nil {
		kind := ev.Kind().String()
		e.metrics.EventsApplied.WithLabelValues(e.cfg.LadderID, kind).Inc()
		e.metrics.EventDuration.WithLabelValues(e.cfg.LadderID, kind).Observe(time.Since(start).Seconds())
	}
	return err
}

func (e *Engine) onTick(ctx context.Context, v event.PriceTick) error {
	e.lastPrice = v.Price
	e.idle.Reset()

	switch e.lad.State() {
	case ladder.StateWaitingTrigger:
		if v.Price <= e.cfg.Ladder.TriggerPrice {
			e.lad.TriggerReached()
			return e.enter(v.Price)
		}
	case ladder.StateLayingNet:
		return e.enter(v.Price)
	case ladder.StateTrading:
		return e.maybeAdvance(v.Price)
	}
	return nil
}

// enter computes the ladder, buys the entry inventory at market, and lays
// the initial resting net around the base index.
func (e *Engine) enter(price int64) error {
	res, err := e.lad.EnterTrading(price)
	if err != nil {
		e.halt(err)
		return err
	}
	e.criticalPrice = e.lad.Price(e.lad.CriticalIndex())

	spacing := e.lad.LocalSpacing(e.lad.CriticalIndex())
	e.limits = book.DeriveLimits(e.rules.OpenOrderLimit, e.rules.PriceDeviationLimit, e.lad.EntryPrice(), spacing)

	if res.EntryQty > 0 {
		e.send(event.SubmitOrder{Order: event.Order{
			ID:       orderid.New(e.cfg.ShardToken, res.BaseIndex, orderid.SideBuy),
			Type:     event.OrderTypeMarket,
			Quantity: res.EntryQty,
		}})
	}
	if res.QtyClamped {
		e.log.Warn().Msg("per-level quantity clamped to one lot; fund is thin for this ladder")
	}

	e.applyPlan(e.bk.Maintain(e.lad, e.limits, e.cfg.ShardToken))
	e.log.Info().
		Int64("entry_price", e.lad.EntryPrice()).
		Int("base_index", res.BaseIndex).
		Int("stairs_total", e.lad.StairsTotal()).
		Int64("entry_qty", res.EntryQty).
		Msg("entered trading")
	return nil
}

// maybeAdvance runs stair advances while price sits at or above the
// current boundary. The loop form tolerates a fast market that jumped
// several boundaries between ticks.
func (e *Engine) maybeAdvance(price int64) error {
	for e.lad.ShouldAdvance(price) {
		trigger := e.lad.StepUpIndex()
		res, err := e.lad.Advance(trigger)
		if err != nil {
			var overrun *ladder.StairOverrunError
			if errors.As(err, &overrun) {
				if e.metrics != nil {
					e.metrics.StairOverruns.WithLabelValues(e.cfg.LadderID).Inc()
				}
				e.halt(err)
				return err
			}
			e.log.Error().Err(err).Msg("stair advance failed")
			return err
		}
		if e.metrics != nil {
			e.metrics.StairAdvances.WithLabelValues(e.cfg.LadderID).Inc()
			e.metrics.RealizedProfit.WithLabelValues(e.cfg.LadderID).Set(float64(e.lad.RealizedProfit()))
		}

		// Buy the new stair's inventory at market.
		e.send(event.SubmitOrder{Order: event.Order{
			ID:       orderid.New(e.cfg.ShardToken, res.NewBase, orderid.SideBuy),
			Type:     event.OrderTypeMarket,
			Quantity: res.MarketBuyQty,
		}})

		// Buys below the old base are priced for the old stair: cancel them
		// all and let the hysteresis pass repost against the new window.
		if res.RepostBuys {
			for _, idx := range e.bk.Indices(orderid.SideBuy) {
				if rec, ok := e.bk.Get(idx, orderid.SideBuy); ok {
					e.send(event.CancelOrder{ID: rec.ID})
				}
			}
		}

		if e.lad.CriticalIndex() < res.NewBase {
			e.lad.ShiftCritical(res.NewBase)
			e.criticalPrice = e.lad.Price(res.NewBase)
		}
		e.applyPlan(e.bk.Maintain(e.lad, e.limits, e.cfg.ShardToken))

		e.log.Info().
			Int("stair", res.StairNum).
			Int("new_base", res.NewBase).
			Int64("market_buy_qty", res.MarketBuyQty).
			Int64("stair_profit", res.StairProfit).
			Msg("stair advanced")

		if res.TerminalReach {
			break
		}
	}

	if e.lad.AtTop() {
		e.log.Info().Msg("top of range reached, unwinding")
		return e.finishStop()
	}
	return nil
}

func (e *Engine) onTimer(ctx context.Context, v event.TimerFired) error {
	switch v.Timer {
	case event.TimerIdle, event.TimerMaintenance:
		e.maintain(ctx)
	case event.TimerReport:
		e.publishSnapshot(v.Ts)
	}
	return nil
}

// onStop implements the two-phase shutdown: the first request lets an
// outstanding drift correction resolve before cancel-all/close-position;
// a repeat or forced request skips the unwind (documented data-loss risk).
func (e *Engine) onStop(v event.StopRequested) error {
	if v.Force || e.stopRequested {
		e.log.Warn().Msg("forced stop, skipping graceful unwind")
		e.lad.Stop()
		return errStopped
	}
	e.stopRequested = true
	e.lad.Terminate()
	if e.pending != nil {
		e.log.Info().Msg("stop requested, waiting for outstanding drift correction")
		return nil
	}
	return e.finishStop()
}

func (e *Engine) finishStop() error {
	e.send(event.CancelAll{})
	e.send(event.ClosePosition{})
	e.lad.Stop()
	e.publishSnapshot(time.Now())
	return errStopped
}

// halt freezes the ladder on a structural invariant violation. State is
// preserved for operator inspection; no auto-recovery.
func (e *Engine) halt(err error) {
	e.log.Error().Err(err).Msg("structural violation, halting ladder")
	e.lad.Halt(err)
}

func (e *Engine) send(cmd event.Command) {
	if err := e.gw.Send(cmd); err != nil {
		e.log.Warn().Err(err).Stringer("kind", cmd.CommandKind()).Msg("command send failed")
	}
}

// applyPlan issues a reconciliation plan: cancels first, then posts,
// batching posts above the reversal threshold.
func (e *Engine) applyPlan(plan book.Plan) {
	for _, id := range plan.Cancels {
		e.send(event.CancelOrder{ID: id})
	}
	e.submitPosts(plan.Posts)
	e.updateRestingMetrics()
}

// submitPosts records and submits post-only orders, as one batch when the
// count exceeds the threshold.
func (e *Engine) submitPosts(posts []book.Record) {
	orders := make([]event.Order, 0, len(posts))
	for _, rec := range posts {
		if err := e.bk.Post(rec); err != nil {
			e.log.Warn().Err(err).Stringer("order", rec.ID).Msg("skipping conflicting post")
			continue
		}
		orders = append(orders, event.Order{
			ID:       rec.ID,
			Type:     event.OrderTypePostOnly,
			Price:    rec.Price,
			Quantity: abs64(rec.Quantity),
		})
	}
	if len(orders) == 0 {
		return
	}
	if len(orders) > e.cfg.ReversalBatchThreshold {
		e.send(event.SubmitBatch{BatchID: uuid.New(), Orders: orders})
		if e.metrics != nil {
			e.metrics.ReversalBatches.WithLabelValues(e.cfg.LadderID).Inc()
		}
	} else {
		for _, ord := range orders {
			e.send(event.SubmitOrder{Order: ord})
		}
	}
}

func (e *Engine) updateRestingMetrics() {
	if e.metrics == nil {
		return
	}
	e.metrics.RestingOrders.WithLabelValues(e.cfg.LadderID, "buy").
		Set(float64(e.bk.Count(orderid.SideBuy)))
	e.metrics.RestingOrders.WithLabelValues(e.cfg.LadderID, "sell").
		Set(float64(e.bk.Count(orderid.SideSell)))
	e.metrics.CriticalIndex.WithLabelValues(e.cfg.LadderID).Set(float64(e.lad.CriticalIndex()))
}

// validPosition is the position the exchange should report: the model
// position plus inventory owed (deviation) plus in-flight partials.
func (e *Engine) validPosition() int64 {
	return e.theoreticalPosition + e.accumulatedDeviation + e.bk.PartialNet()
}

func (e *Engine) publishSnapshot(ts time.Time) {
	e.publishRunState(ts)
	if e.snapshots == nil {
		return
	}
	snap := e.Snapshot()
	snap.Timestamp = ts
	select {
	case e.snapshots <- snap:
		if e.metrics != nil {
			e.metrics.ReportsPublished.WithLabelValues(e.cfg.LadderID).Inc()
		}
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
	}
}

func (e *Engine) publishRunState(ts time.Time) {
	if e.statesOut == nil {
		return
	}
	state := e.RunState()
	state.CreatedAt = ts
	select {
	case e.statesOut <- state:
	default:
		if e.metrics != nil {
			e.metrics.PublishDrops.Inc()
		}
	}
}

// RunState assembles the durable view of the run. Loop-goroutine only.
func (e *Engine) RunState() persistence.RunState {
	partials := make(map[string]int64)
	for id, remaining := range e.bk.Partials() {
		partials[id.Encode()] = remaining
	}
	return persistence.RunState{
		LadderID:             e.cfg.LadderID,
		Symbol:               e.cfg.Symbol,
		State:                e.lad.State().String(),
		EntryPrice:           e.lad.EntryPrice(),
		EntryQty:             e.lad.EntryQty(),
		CriticalIndex:        e.lad.CriticalIndex(),
		PresentStair:         e.lad.PresentStair(),
		StairsTotal:          e.lad.StairsTotal(),
		Prices:               e.lad.Prices(),
		Qtys:                 e.lad.Qtys(),
		PartialLedger:        partials,
		TheoreticalPosition:  e.theoreticalPosition,
		AccumulatedDeviation: e.accumulatedDeviation,
		MatchedProfit:        e.matchedProfit,
		RealizedProfit:       e.lad.RealizedProfit(),
		Fees:                 e.fees,
	}
}

// Snapshot assembles the current reporting view.
func (e *Engine) Snapshot() report.Snapshot {
	var unrealized int64
	if e.lad.State() == ladder.StateTrading && e.lastPrice > 0 {
		entryIdx := e.lad.NearestIndex(e.lad.EntryPrice())
		unrealized = grid.SegmentUnmatchedPnL(
			entryIdx, e.lad.CriticalIndex(),
			e.lad.Prices(), e.lad.Qtys(),
			e.lad.EntryPrice(), e.lad.EntryQty(),
			e.lastPrice, e.cfg.Ladder.LotSize,
		)
	}
	realized := e.lad.RealizedProfit()
	final := e.matchedProfit + realized + unrealized - e.fees
	return report.Snapshot{
		LadderID:             e.cfg.LadderID,
		Symbol:               e.cfg.Symbol,
		CriticalIndex:        e.lad.CriticalIndex(),
		TheoreticalPosition:  e.theoreticalPosition,
		ValidPosition:        e.validPosition(),
		AccumulatedDeviation: e.accumulatedDeviation,
		MatchedProfit:        e.matchedProfit,
		RealizedProfit:       realized,
		UnrealizedProfit:     unrealized,
		Fees:                 e.fees,
		FinalProfit:          final,
	}
}

func (e *Engine) fee(price, qty int64) int64 {
	if e.cfg.FeeRatio <= 0 || price <= 0 {
		return 0
	}
	notional := fixed.Notional(price, abs64(qty), e.cfg.Ladder.LotSize)
	return fixed.ApplyRatio(notional, e.cfg.FeeRatio, fixed.RoundDown)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
