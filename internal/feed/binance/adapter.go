// Package binance implements the Binance-style feed.Adapter: a diff-only
// websocket stream plus an on-demand REST snapshot, following the same
// go-binance/v2 wiring the teacher's orderbook package uses to drive
// WsDepthServe100Ms and NewDepthService. Reconciliation of the buffered
// diffs against the snapshot is the session's job (see internal/session);
// this adapter only normalizes raw exchange messages into feed.BookEvent.
package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/marketdepth/orderbookd/internal/book"
	"github.com/marketdepth/orderbookd/internal/feed"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MaxSnapshotDepth mirrors the teacher's MaxSpotLayerRequest: the largest
// depth Binance's spot REST endpoint accepts in one call.
const MaxSnapshotDepth = 5000

// Adapter drives one Binance-style diff stream for one symbol.
type Adapter struct {
	symbol string
	client *binance.Client
	logger zerolog.Logger

	doneC chan struct{}
	stopC chan struct{}
	stop  context.CancelFunc
}

// New returns an adapter for symbol (e.g. "BTCUSDT"). client may be a
// shared *binance.Client; Binance's public depth endpoints need no keys.
func New(symbol string, client *binance.Client, logger zerolog.Logger) *Adapter {
	if client == nil {
		client = binance.NewClient("", "")
	}
	return &Adapter{symbol: symbol, client: client, logger: logger.With().Str("exchange", "binance").Str("symbol", symbol).Logger()}
}

// Start subscribes to the 100ms diff stream and forwards every event as a
// feed.BookEvent Diff, tagged with its first/last update IDs. It never
// buffers or reconciles — that is the session's responsibility.
func (a *Adapter) Start(ctx context.Context, onEvent func(feed.BookEvent)) error {
	_, cancel := context.WithCancel(ctx)
	a.stop = cancel

	handler := func(ev *binance.WsDepthEvent) {
		onEvent(toDiffEvent(a.symbol, ev))
	}
	errHandler := func(err error) {
		a.logger.Warn().Err(err).Msg("depth stream error")
		onEvent(feed.BookEvent{Kind: feed.KindAdapterError, Err: feed.ErrTransportDisconnect})
	}

	doneC, stopC, err := binance.WsDepthServe100Ms(a.symbol, handler, errHandler)
	if err != nil {
		return fmt.Errorf("binance: subscribe depth stream: %w", err)
	}
	a.doneC, a.stopC = doneC, stopC
	return nil
}

// Stop halts the stream. Idempotent.
func (a *Adapter) Stop() {
	if a.stop != nil {
		a.stop()
	}
	if a.stopC != nil {
		select {
		case a.stopC <- struct{}{}:
		default:
		}
	}
}

// FetchSnapshot pulls a fresh REST depth snapshot, as used by the session
// during Snapshotting and on every resync.
func (a *Adapter) FetchSnapshot(ctx context.Context) (feed.BookEvent, error) {
	resp, err := a.client.NewDepthService().Symbol(a.symbol).Limit(MaxSnapshotDepth).Do(ctx)
	if err != nil {
		return feed.BookEvent{}, fmt.Errorf("binance: fetch snapshot: %w", err)
	}
	bids := make([]book.PriceLevel, len(resp.Bids))
	for i, lv := range resp.Bids {
		bids[i] = book.PriceLevel{Price: decimal.RequireFromString(lv.Price), Size: decimal.RequireFromString(lv.Quantity)}
	}
	asks := make([]book.PriceLevel, len(resp.Asks))
	for i, lv := range resp.Asks {
		asks[i] = book.PriceLevel{Price: decimal.RequireFromString(lv.Price), Size: decimal.RequireFromString(lv.Quantity)}
	}
	return feed.BookEvent{
		Kind:       feed.KindSnapshot,
		SnapshotID: resp.LastUpdateID,
		Bids:       bids,
		Asks:       asks,
	}, nil
}

func toDiffEvent(symbol string, ev *binance.WsDepthEvent) feed.BookEvent {
	changes := make([]feed.LevelChange, 0, len(ev.Asks)+len(ev.Bids))
	for _, lv := range ev.Asks {
		changes = append(changes, feed.LevelChange{
			Side:  book.Ask,
			Level: book.PriceLevel{Price: decimal.RequireFromString(lv.Price), Size: decimal.RequireFromString(lv.Quantity)},
		})
	}
	for _, lv := range ev.Bids {
		changes = append(changes, feed.LevelChange{
			Side:  book.Bid,
			Level: book.PriceLevel{Price: decimal.RequireFromString(lv.Price), Size: decimal.RequireFromString(lv.Quantity)},
		})
	}
	return feed.BookEvent{
		Kind:      feed.KindDiff,
		FirstID:   ev.FirstUpdateID,
		LastID:    ev.LastUpdateID,
		EventTime: time.UnixMilli(ev.Time),
		Symbol:    symbol,
		Changes:   changes,
	}
}
