package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"GridLadder/internal/observability"
)

// Worker drains the run-state channel and writes each state through the
// Store. Saves are periodic and each one supersedes the last, so a failed
// save is logged and dropped rather than retried; the next tick covers it.
// The final state at shutdown is the one operators reconcile against, so it
// is written with a background context after the run context ends.
type Worker struct {
	store   Store
	in      <-chan RunState
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewWorker(store Store, in <-chan RunState, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		store:   store,
		in:      in,
		metrics: metrics,
		log:     log.With().Str("component", "runstate_worker").Logger(),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.drainFinal()
		case state, ok := <-w.in:
			if !ok {
				return nil
			}
			w.save(ctx, &state)
		}
	}
}

// drainFinal writes whatever is still buffered, keeping only the newest state
// per ladder.
func (w *Worker) drainFinal() error {
	latest := make(map[string]RunState)
	for {
		select {
		case state, ok := <-w.in:
			if !ok {
				return w.saveAll(latest)
			}
			latest[state.LadderID] = state
		default:
			return w.saveAll(latest)
		}
	}
}

func (w *Worker) saveAll(latest map[string]RunState) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, state := range latest {
		w.save(ctx, &state)
	}
	return nil
}

func (w *Worker) save(ctx context.Context, state *RunState) {
	if err := w.store.SaveRunState(ctx, state); err != nil {
		if w.metrics != nil {
			w.metrics.SnapshotErrors.Inc()
		}
		w.log.Warn().Err(err).Str("ladder", state.LadderID).Msg("run state save failed")
		return
	}
	if w.metrics != nil {
		w.metrics.SnapshotsSaved.Inc()
	}
}
