// Package session implements BookSession: the per-(exchange,symbol) state
// machine that reconciles a FeedAdapter's snapshot+diff stream into an
// OrderedBook, detects de-synchronization, and drives resync. The single
// consumer worker and drain+sentinel shutdown protocol follow the same
// shape as the teacher's internal/orderbook.BinanceOrderBook.listen/Close,
// generalized to cover both Coinbase-style and Binance-style adapters
// behind the feed.Adapter capability.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marketdepth/orderbookd/internal/book"
	"github.com/marketdepth/orderbookd/internal/feed"
	"github.com/rs/zerolog"
)

// State is one point in the session's lifecycle (spec §3/§4.4).
type State int

const (
	Initializing State = iota
	Snapshotting
	Live
	Degraded
	Resyncing
	Destroyed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Snapshotting:
		return "snapshotting"
	case Live:
		return "live"
	case Degraded:
		return "degraded"
	case Resyncing:
		return "resyncing"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ErrorEvent is reported to the owner-supplied error taxonomy hook,
// one per §7 occurrence. It never blocks the worker.
type ErrorEvent struct {
	Exchange string
	Symbol   string
	Kind     string
	Detail   string
	At       time.Time
}

const queueCapacity = 4096

// exitSentinel is the poison pill the shutdown protocol enqueues after
// draining the producer; the worker observes it and returns.
var exitSentinel = feed.BookEvent{Kind: feed.EventKind(-1)}

// Session is one (exchange, symbol) book reconciliation process.
type Session struct {
	Exchange     string
	Symbol       string
	GapDetection bool // false for Coinbase-style: transport guarantees order

	adapter feed.Adapter
	book    *book.Book
	logger  zerolog.Logger

	onError      func(ErrorEvent)
	onDegraded   func(*Session)
	onTransition func(from, to State)

	queue chan feed.BookEvent

	mu           sync.RWMutex
	state        State
	prevLastID   int64
	lastUpdateAt time.Time
	loggedCross  bool

	buffered []feed.BookEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a session around adapter for one (exchange, symbol) pair.
// gapDetection selects the Binance-style sequence-continuity rule; pass
// false for Coinbase-style feeds, which guarantee transport ordering.
func New(exchange, symbol string, adapter feed.Adapter, gapDetection bool, logger zerolog.Logger, onError func(ErrorEvent), onDegraded func(*Session)) *Session {
	return &Session{
		Exchange:     exchange,
		Symbol:       symbol,
		GapDetection: gapDetection,
		adapter:      adapter,
		book:         book.New(),
		logger:       logger.With().Str("exchange", exchange).Str("symbol", symbol).Logger(),
		onError:      onError,
		onDegraded:   onDegraded,
		queue:        make(chan feed.BookEvent, queueCapacity),
		state:        Initializing,
	}
}

// OnTransition registers a hook invoked every time setState actually
// changes the state, used by the engine to feed the audit trail. Must be
// called before Start.
func (s *Session) OnTransition(fn func(from, to State)) {
	s.onTransition = fn
}

// Book exposes the underlying ladders for the Aggregator's read-only
// snapshot pass.
func (s *Session) Book() *book.Book { return s.book }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastUpdateAt returns the event time of the most recently applied diff,
// or the wall-clock time of the last snapshot load (or of a diff carrying
// no event time) if that came later; used by HealthSupervisor's staleness
// check.
func (s *Session) LastUpdateAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateAt
}

// IsResyncing reports whether the session is currently restarting
// reconciliation in place, so HealthSupervisor can skip it rather than
// cascading a second reset on top of the one already in flight.
func (s *Session) IsResyncing() bool {
	return s.State() == Resyncing
}

// Start begins adapter delivery and launches the consumer worker.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.setState(Initializing)

	if err := s.adapter.Start(s.ctx, s.push); err != nil {
		return fmt.Errorf("session %s/%s: start adapter: %w", s.Exchange, s.Symbol, err)
	}
	s.setState(Snapshotting)

	s.wg.Add(1)
	go s.worker()

	s.spawnSnapshotFetch()
	return nil
}

func (s *Session) spawnSnapshotFetch() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fetchAndPushSnapshot()
	}()
}

// Shutdown runs the ordered drain+sentinel protocol (§4.4): stop the
// producer, let the worker drain what is already queued, enqueue the exit
// sentinel, then join the worker.
func (s *Session) Shutdown() {
	s.adapter.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	// The worker is still draining whatever is already queued, so this
	// send only blocks until it works through the backlog ahead of the
	// sentinel — that backlog drain is exactly step 2 of the shutdown
	// protocol.
	s.queue <- exitSentinel
	s.wg.Wait()
	s.setState(Destroyed)
}

func (s *Session) fetchAndPushSnapshot() {
	ev, err := s.adapter.FetchSnapshot(s.ctx)
	if err != nil {
		// Coinbase-style adapters deliver their snapshot on the stream
		// itself (feed.coinbase.ErrSnapshotOnStream); nothing to do.
		return
	}
	s.push(ev)
}

// push is the callback handed to the adapter as onEvent. It never blocks
// indefinitely: on a full queue it drops the incoming event and logs once,
// per §5's "implementers may bound [the queue] and drop... reporting one
// diagnostic per drop" allowance (we drop the newest arrival rather than
// evict the channel's head, which Go's channels cannot do without a second
// lock-protected buffer).
func (s *Session) push(ev feed.BookEvent) {
	select {
	case s.queue <- ev:
	default:
		s.reportError("QueueOverflow", "staging queue full, dropping incoming event")
	}
}

func (s *Session) worker() {
	defer s.wg.Done()
	for ev := range s.queue {
		if ev.Kind == exitSentinel.Kind {
			return
		}
		s.handle(ev)
	}
}

func (s *Session) handle(ev feed.BookEvent) {
	switch ev.Kind {
	case feed.KindAdapterError:
		s.handleAdapterError(ev)
		return
	case feed.KindHeartbeat:
		return
	}

	switch s.State() {
	case Snapshotting, Resyncing:
		s.handleDuringReconciliation(ev)
	case Live:
		s.handleLive(ev)
	case Degraded:
		// Awaiting external reset; drop further events quietly.
	}
}

func (s *Session) handleAdapterError(ev feed.BookEvent) {
	switch ev.Err {
	case feed.ErrTransportDisconnect:
		s.reportError("TransportDisconnect", "adapter signalled a transport error; the adapter does not reconnect")
	default:
		s.reportError("AdapterError", ev.Err.String())
	}
}

func (s *Session) handleDuringReconciliation(ev feed.BookEvent) {
	switch ev.Kind {
	case feed.KindSnapshot:
		s.reconcile(ev)
	case feed.KindDiff:
		if ev.Symbol != "" && ev.Symbol != s.Symbol {
			s.reportError("SymbolMismatch", fmt.Sprintf("got %s while buffering for %s", ev.Symbol, s.Symbol))
			return
		}
		s.buffered = append(s.buffered, ev)
	}
}

// reconcile applies the Binance-style resync rule (§4.3/§4.4): discard
// buffered diffs at or before the snapshot, verify the first retained diff
// straddles snapshot_id+1, then replay. Coinbase-style sessions reach here
// with an empty buffer, so the check is vacuously satisfied.
func (s *Session) reconcile(snap feed.BookEvent) {
	retained := s.buffered[:0:0]
	for _, d := range s.buffered {
		if d.LastID <= snap.SnapshotID {
			continue
		}
		retained = append(retained, d)
	}
	s.buffered = nil

	if len(retained) > 0 {
		first := retained[0]
		want := snap.SnapshotID + 1
		if !(first.FirstID <= want && want <= first.LastID) {
			s.reportError("SnapshotReconcileFail", "first retained diff does not straddle snapshot_id+1; restarting reconciliation")
			s.restartReconciliation()
			return
		}
	}

	s.book.LoadSnapshot(snap.Bids, snap.Asks)
	s.mu.Lock()
	s.prevLastID = snap.SnapshotID
	s.mu.Unlock()
	s.touch(time.Now())
	s.setState(Live)

	for _, d := range retained {
		s.handleLive(d)
	}
}

// restartReconciliation re-enters reconciliation in place — it does not
// tear down the adapter or session, only the buffered state and the
// snapshot fetch — which is what distinguishes Resyncing from a full
// supervisor-driven destroy+create.
func (s *Session) restartReconciliation() {
	s.buffered = nil
	s.setState(Resyncing)
	s.spawnSnapshotFetch()
}

func (s *Session) handleLive(ev feed.BookEvent) {
	if ev.Kind != feed.KindDiff {
		return
	}
	if ev.Symbol != "" && ev.Symbol != s.Symbol {
		s.reportError("SymbolMismatch", fmt.Sprintf("got %s while live on %s", ev.Symbol, s.Symbol))
		return
	}

	s.mu.RLock()
	prev := s.prevLastID
	s.mu.RUnlock()

	if ev.LastID <= prev {
		return // stale, drop
	}

	if s.GapDetection && ev.FirstID != prev+1 {
		s.reportError("SequenceGap", fmt.Sprintf("expected first_id=%d, got %d", prev+1, ev.FirstID))
		s.enterDegraded()
		return
	}

	for _, chg := range ev.Changes {
		s.book.Upsert(chg.Side, chg.Level.Price, chg.Level.Size)
	}
	s.mu.Lock()
	s.prevLastID = ev.LastID
	s.mu.Unlock()
	s.touch(ev.EventTime)

	if s.book.Crossed() {
		s.mu.Lock()
		already := s.loggedCross
		s.loggedCross = true
		s.mu.Unlock()
		if !already {
			s.reportError("CrossBook", "best_bid >= best_ask; leaving book as-is pending a consistent diff")
		}
	} else {
		s.mu.Lock()
		s.loggedCross = false
		s.mu.Unlock()
	}
}

func (s *Session) enterDegraded() {
	s.setState(Degraded)
	if s.onDegraded != nil {
		go s.onDegraded(s)
	}
}

func (s *Session) touch(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	s.lastUpdateAt = at
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st && s.onTransition != nil {
		s.onTransition(prev, st)
	}
}

func (s *Session) reportError(kind, detail string) {
	s.logger.Warn().Str("kind", kind).Str("detail", detail).Msg("session error")
	if s.onError != nil {
		s.onError(ErrorEvent{Exchange: s.Exchange, Symbol: s.Symbol, Kind: kind, Detail: detail, At: time.Now()})
	}
}
