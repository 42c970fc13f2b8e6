package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"GridLadder/internal/report"
)

// FillWriter drains the fill channel and batch-inserts rows into grid.fills.
// Fills are the audit trail for reconciling profit figures against the venue,
// so the writer retries with backoff instead of dropping a batch.
type FillWriter struct {
	db           *sql.DB
	in           <-chan report.Fill
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
}

func NewFillWriter(db *sql.DB, in <-chan report.Fill, batchSize int, flushTimeout time.Duration, log zerolog.Logger) *FillWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushTimeout <= 0 {
		flushTimeout = time.Second
	}
	return &FillWriter{
		db:           db,
		in:           in,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log.With().Str("component", "fill_writer").Logger(),
	}
}

// Run accumulates fills until the batch is full or the flush timer fires.
// On shutdown the remaining batch is flushed with a background context so an
// engine's final fills are not lost to cancellation.
func (w *FillWriter) Run(ctx context.Context) error {
	batch := make([]report.Fill, 0, w.batchSize)
	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	finalFlush := func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.flushWithRetry(flushCtx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			return finalFlush()

		case fill, ok := <-w.in:
			if !ok {
				return finalFlush()
			}
			batch = append(batch, fill)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if err := w.flushWithRetry(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff, capped at 30s, until the
// insert lands or the context ends.
func (w *FillWriter) flushWithRetry(ctx context.Context, batch []report.Fill) error {
	if len(batch) == 0 {
		return nil
	}
	backoff := 100 * time.Millisecond
	for {
		err := w.insert(ctx, batch)
		if err == nil {
			return nil
		}
		w.log.Warn().Err(err).Int("batch", len(batch)).Dur("backoff", backoff).
			Msg("fill insert failed, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush %d fills: %w", len(batch), err)
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (w *FillWriter) insert(ctx context.Context, batch []report.Fill) error {
	query, args := buildFillInsert(batch)
	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// buildFillInsert renders a multi-row INSERT. Conflicts on (order_id, ts) are
// ignored so a replayed batch after a retried flush stays idempotent.
func buildFillInsert(batch []report.Fill) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO grid.fills
		(ladder_id, symbol, order_id, idx, side, price, quantity, account, partial, ts)
		VALUES `)

	args := make([]interface{}, 0, len(batch)*10)
	for i, f := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			f.LadderID, f.Symbol, f.OrderID, f.Index, f.Side,
			f.Price, f.Quantity, f.Account, f.Partial, f.Ts,
		)
	}
	sb.WriteString(" ON CONFLICT (order_id, ts) DO NOTHING")
	return sb.String(), args
}
