// Package coinbase implements the Coinbase-style feed.Adapter: a single
// websocket channel that delivers an initial "snapshot" message followed
// by strictly ordered "l2update" diffs, with no sequence-gap detection
// required because the transport preserves order. The dial, read and ping
// loops below follow the gorilla/websocket wiring the teacher's
// pkg/exchange/binance/ws.go uses for its own raw-websocket connection. A
// read error is reported as ErrTransportDisconnect and ends the read loop;
// the adapter does not redial.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marketdepth/orderbookd/internal/book"
	"github.com/marketdepth/orderbookd/internal/feed"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrSnapshotOnStream is returned by FetchSnapshot: Coinbase-style feeds
// deliver their snapshot as the first message on the subscribed channel
// rather than via a separate REST call.
var ErrSnapshotOnStream = errors.New("coinbase: snapshot is delivered on the l2 stream, not fetched out of band")

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

type subscribeMsg struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// rawFrame peeks only the "type" discriminator; the rest is decoded per
// variant once the type is known.
type rawFrame struct {
	Type      string     `json:"type"`
	ProductID string     `json:"product_id"`
	Time      string     `json:"time"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Changes   [][]string `json:"changes"`
}

// Adapter drives one Coinbase-style level2 websocket channel for one
// product.
type Adapter struct {
	endpoint  string
	productID string
	logger    zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	onEvent   func(feed.BookEvent)
	stopC     chan struct{}
	stopped   bool
	seq       int64
	snapshotC chan struct{}
}

// New returns an adapter dialing endpoint (a wss:// URL) and subscribing
// to the level2 channel for productID (e.g. "BTC-USD").
func New(endpoint, productID string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		endpoint:  endpoint,
		productID: productID,
		logger:    logger.With().Str("exchange", "coinbase").Str("product_id", productID).Logger(),
		stopC:     make(chan struct{}),
		snapshotC: make(chan struct{}),
	}
}

// Start dials, subscribes, and begins forwarding normalized events. The
// first "snapshot" frame on the wire becomes a Kind=Snapshot BookEvent;
// every "l2update" after it becomes a Kind=Diff BookEvent with a synthetic
// monotonic (first_id, last_id) pair, since Coinbase assigns none.
func (a *Adapter) Start(ctx context.Context, onEvent func(feed.BookEvent)) error {
	a.mu.Lock()
	a.onEvent = onEvent
	a.mu.Unlock()

	u, err := url.Parse(a.endpoint)
	if err != nil {
		return fmt.Errorf("coinbase: parse endpoint: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("coinbase: dial: %w", err)
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	sub := subscribeMsg{Type: "subscribe", ProductIDs: []string{a.productID}, Channels: []string{"level2"}}
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("coinbase: marshal subscribe: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("coinbase: send subscribe: %w", err)
	}

	go a.readLoop(ctx)
	go a.pingLoop()
	return nil
}

// Stop closes the connection. Idempotent.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	close(a.stopC)
	if a.conn != nil {
		a.conn.Close()
	}
}

// FetchSnapshot always fails for this adapter; see ErrSnapshotOnStream.
func (a *Adapter) FetchSnapshot(ctx context.Context) (feed.BookEvent, error) {
	return feed.BookEvent{}, ErrSnapshotOnStream
}

func (a *Adapter) readLoop(ctx context.Context) {
	for {
		select {
		case <-a.stopC:
			return
		case <-ctx.Done():
			a.Stop()
			return
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			a.logger.Warn().Err(err).Msg("l2 stream read error")
			a.emit(feed.BookEvent{Kind: feed.KindAdapterError, Err: feed.ErrTransportDisconnect})
			return
		}

		var frame rawFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			a.logger.Warn().Err(err).Msg("malformed l2 frame")
			continue
		}
		a.dispatch(frame)
	}
}

func (a *Adapter) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopC:
			return
		case <-ticker.C:
			a.mu.Lock()
			conn := a.conn
			a.mu.Unlock()
			if conn == nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				a.logger.Warn().Err(err).Msg("ping failed")
			}
		}
	}
}

func (a *Adapter) dispatch(frame rawFrame) {
	switch frame.Type {
	case "snapshot":
		a.emit(toSnapshotEvent(frame))
	case "l2update":
		a.mu.Lock()
		a.seq++
		id := a.seq
		a.mu.Unlock()
		a.emit(toDiffEvent(frame, id))
	default:
		// subscriptions acks, heartbeats, errors — ignored.
	}
}

func (a *Adapter) emit(ev feed.BookEvent) {
	a.mu.Lock()
	onEvent := a.onEvent
	a.mu.Unlock()
	if onEvent != nil {
		onEvent(ev)
	}
}

func toSnapshotEvent(frame rawFrame) feed.BookEvent {
	bids := make([]book.PriceLevel, 0, len(frame.Bids))
	for _, lv := range frame.Bids {
		if len(lv) < 2 {
			continue
		}
		bids = append(bids, book.PriceLevel{Price: decimal.RequireFromString(lv[0]), Size: decimal.RequireFromString(lv[1])})
	}
	asks := make([]book.PriceLevel, 0, len(frame.Asks))
	for _, lv := range frame.Asks {
		if len(lv) < 2 {
			continue
		}
		asks = append(asks, book.PriceLevel{Price: decimal.RequireFromString(lv[0]), Size: decimal.RequireFromString(lv[1])})
	}
	return feed.BookEvent{Kind: feed.KindSnapshot, SnapshotID: 0, Bids: bids, Asks: asks}
}

func toDiffEvent(frame rawFrame, syntheticID int64) feed.BookEvent {
	changes := make([]feed.LevelChange, 0, len(frame.Changes))
	for _, c := range frame.Changes {
		if len(c) < 3 {
			continue
		}
		side := book.Bid
		if c[0] == "sell" {
			side = book.Ask
		}
		changes = append(changes, feed.LevelChange{
			Side:  side,
			Level: book.PriceLevel{Price: decimal.RequireFromString(c[1]), Size: decimal.RequireFromString(c[2])},
		})
	}
	eventTime, _ := time.Parse(time.RFC3339Nano, frame.Time)
	return feed.BookEvent{
		Kind:      feed.KindDiff,
		FirstID:   syntheticID,
		LastID:    syntheticID,
		EventTime: eventTime,
		Symbol:    frame.ProductID,
		Changes:   changes,
	}
}
