package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher drains snapshot and fill channels and publishes them to
// JetStream. Subjects: grid.report.{symbol} and grid.fills.{symbol}.
// Publish failures are non-fatal; the next snapshot supersedes a lost one.
type Publisher struct {
	js        jetstream.JetStream
	snapshots <-chan Snapshot
	fills     <-chan Fill
	log       zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, snapshots <-chan Snapshot, fills <-chan Fill, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		snapshots: snapshots,
		fills:     fills,
		log:       log.With().Str("component", "report_publisher").Logger(),
	}
}

// Run publishes until the context is cancelled or both channels close.
func (p *Publisher) Run(ctx context.Context) error {
	snapshots, fills := p.snapshots, p.fills
	for snapshots != nil || fills != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case snap, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			subject := fmt.Sprintf("grid.report.%s", snap.Symbol)
			if err := p.publish(ctx, subject, snap); err != nil {
				p.log.Warn().Err(err).Str("ladder", snap.LadderID).Msg("snapshot publish failed")
			}

		case fill, ok := <-fills:
			if !ok {
				fills = nil
				continue
			}
			subject := fmt.Sprintf("grid.fills.%s", fill.Symbol)
			if err := p.publish(ctx, subject, fill); err != nil {
				p.log.Warn().Err(err).Str("order_id", fill.OrderID).Msg("fill publish failed")
			}
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureStreams creates the report and fill streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "GRID_REPORTS",
		Subjects:  []string{"grid.report.>", "grid.fills.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create report stream: %w", err)
	}
	return nil
}
