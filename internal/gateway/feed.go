package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"GridLadder/internal/event"
	"GridLadder/internal/fixed"
)

const (
	feedBaseDelay   = 1 * time.Second
	feedMaxDelay    = 60 * time.Second
	feedReadTimeout = 60 * time.Second
)

// feedBackoff returns the reconnect delay for a retry count: exponential
// from feedBaseDelay, capped at feedMaxDelay.
func feedBackoff(retry int) time.Duration {
	if retry < 0 {
		return feedBaseDelay
	}
	if retry > 30 {
		return feedMaxDelay
	}
	d := feedBaseDelay * time.Duration(1<<retry)
	if d > feedMaxDelay {
		return feedMaxDelay
	}
	return d
}

// feedFrame is the wire shape of one market-data message. Prices arrive as
// decimal strings and are converted to scaled integers at this boundary;
// no floats cross into the engine.
type feedFrame struct {
	Type string `json:"type"` // "tick" or "book"
	Px   string `json:"px"`
	Bid  string `json:"bid"`
	Ask  string `json:"ask"`
	Seq  int64  `json:"seq"`
	Ts   int64  `json:"ts"` // unix milliseconds
}

// Feed is a reconnecting websocket market-data worker. It decodes tick and
// book-ticker frames into events on Out; the engine's loop consumes them
// like any other event source.
type Feed struct {
	URL    string
	Symbol string
	Out    chan<- event.Event

	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFeed(url, symbol string, out chan<- event.Event, log zerolog.Logger) *Feed {
	return &Feed{
		URL:    url,
		Symbol: symbol,
		Out:    out,
		log:    log.With().Str("component", "price_feed").Str("symbol", symbol).Logger(),
		done:   make(chan struct{}),
	}
}

// Start runs the connect/read loop until Stop or context cancellation.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	go f.run(ctx)
}

// Stop terminates the worker and waits for the read loop to exit.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	<-f.done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	retry := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := f.connect(ctx)
		if err != nil {
			f.log.Warn().Err(err).Int("retry", retry).Msg("feed connect failed")
			delay := feedBackoff(retry)
			retry++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		f.log.Info().Msg("feed connected")
		f.read(ctx, conn)
		conn.Close()
	}
}

func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	return conn, err
}

func (f *Feed) read(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.log.Warn().Err(err).Msg("feed read error, reconnecting")
			return
		}
		f.dispatch(msg)
	}
}

func (f *Feed) dispatch(msg []byte) {
	var frame feedFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		f.log.Warn().Err(err).Msg("feed frame decode failed")
		return
	}
	ts := time.UnixMilli(frame.Ts)

	switch frame.Type {
	case "tick":
		price, err := parsePrice(frame.Px)
		if err != nil {
			f.log.Warn().Err(err).Str("px", frame.Px).Msg("bad tick price")
			return
		}
		f.Out <- event.PriceTick{Price: price, Sequence: frame.Seq, Ts: ts}
	case "book":
		bid, err := parsePrice(frame.Bid)
		if err != nil {
			f.log.Warn().Err(err).Str("bid", frame.Bid).Msg("bad book bid")
			return
		}
		ask, err := parsePrice(frame.Ask)
		if err != nil {
			f.log.Warn().Err(err).Str("ask", frame.Ask).Msg("bad book ask")
			return
		}
		f.Out <- event.BookTicker{Bid: bid, Ask: ask, Ts: ts}
	default:
		// Heartbeats and subscription confirms are not the engine's business.
	}
}

// parsePrice converts a decimal price string to the engine's price scale.
func parsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(fixed.PriceConfig.Scale)).IntPart(), nil
}
