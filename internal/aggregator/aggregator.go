// Package aggregator implements the Aggregator/Emitter: the ~1 Hz
// heartbeat loop that reads every session's book under a read lock,
// bucketizes depth, assembles the EmittedDocument, hands it to the Sink,
// and drives the HealthSupervisor.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/marketdepth/orderbookd/internal/book"
	"github.com/marketdepth/orderbookd/internal/depth"
	"github.com/marketdepth/orderbookd/internal/health"
	"github.com/marketdepth/orderbookd/internal/sink"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultInterval is the spec's default emission cadence (§6).
const DefaultInterval = time.Second

// sessionHandle is a live session slotted under its wire exchange id and
// base-currency symbol.
type sessionHandle struct {
	exchangeID string
	symbol     string
	session    Session
}

// Session is the subset of session.Session the Aggregator needs. Kept as
// an interface, mirroring internal/health, so this package has no
// dependency on internal/session.
type Session interface {
	Book() *book.Book
	LastUpdateAt() time.Time
	IsResyncing() bool
}

// Aggregator runs the fixed-interval fan-in/emit/supervise loop.
type Aggregator struct {
	mu       sync.RWMutex
	sessions []sessionHandle

	interval   time.Duration
	bandEdges  []decimal.Decimal
	sink       sink.Sink
	supervisor *health.Supervisor
	sessionID  string
	logger     zerolog.Logger
}

// New returns an Aggregator. interval <= 0 uses DefaultInterval; edges ==
// nil uses depth.DefaultBandEdges.
func New(interval time.Duration, edges []decimal.Decimal, sk sink.Sink, supervisor *health.Supervisor, sessionID string, logger zerolog.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if edges == nil {
		edges = depth.DefaultBandEdges
	}
	return &Aggregator{
		interval:   interval,
		bandEdges:  edges,
		sink:       sk,
		supervisor: supervisor,
		sessionID:  sessionID,
		logger:     logger,
	}
}

// AddSession registers a session under its wire exchange id (e.g. "bi")
// and the symbol it is keyed by in the emitted document. cmd/orderbookd
// passes the configured pair unchanged (e.g. "BTCUSDT"); no base-currency
// code is derived from it.
func (a *Aggregator) AddSession(exchangeID, symbol string, s Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, sessionHandle{exchangeID: exchangeID, symbol: symbol, session: s})
}

// Run blocks, ticking every interval until ctx is cancelled. Timing is
// best-effort: a slow tick narrows the following sleep rather than
// skipping or batching (§4.6, resolved per SPEC_FULL.md §9).
func (a *Aggregator) Run(ctx context.Context) {
	for {
		start := time.Now()
		a.tick(ctx, start)

		elapsed := time.Since(start)
		remaining := a.interval - elapsed
		if remaining <= 0 {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}

func (a *Aggregator) tick(ctx context.Context, now time.Time) {
	doc := a.assemble(now)

	if err := a.sink.Insert(ctx, doc); err != nil {
		a.logger.Warn().Err(err).Msg("sink insert failed for this tick; next tick supersedes it")
	}

	if a.supervisor != nil {
		a.supervisor.Check(now, a.healthSnapshot())
	}
}

func (a *Aggregator) assemble(now time.Time) Document {
	a.mu.RLock()
	handles := make([]sessionHandle, len(a.sessions))
	copy(handles, a.sessions)
	a.mu.RUnlock()

	exchanges := make(map[string]map[string]SessionRecord)
	for _, h := range handles {
		record := a.buildRecord(h.session)
		if exchanges[h.exchangeID] == nil {
			exchanges[h.exchangeID] = make(map[string]SessionRecord)
		}
		exchanges[h.exchangeID][h.symbol] = record
	}

	return Document{
		Metadata:       Metadata{Version: SchemaVersion, SessionID: a.sessionID},
		TimestampMilli: now.UnixMilli(),
		Exchanges:      exchanges,
	}
}

func (a *Aggregator) buildRecord(s Session) SessionRecord {
	b := s.Book()
	bids, asks := b.Snapshot()

	var record SessionRecord
	record.LastUpdateAtMillis = s.LastUpdateAt().UnixMilli()

	if bestBid, _, err := b.Best(book.Bid); err == nil {
		record.BestBid = bestBid
		record.BidBands = depth.Bucketize(book.Bid, bestBid, bids, a.bandEdges)
	}
	if bestAsk, _, err := b.Best(book.Ask); err == nil {
		record.BestAsk = bestAsk
		record.AskBands = depth.Bucketize(book.Ask, bestAsk, asks, a.bandEdges)
	}
	return record
}

func (a *Aggregator) healthSnapshot() map[string]health.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]health.Session, len(a.sessions))
	for _, h := range a.sessions {
		out[h.exchangeID+"/"+h.symbol] = h.session
	}
	return out
}
