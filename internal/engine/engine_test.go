package engine

import (
	"context"
	"testing"
	"time"

	"github.com/marketdepth/orderbookd/internal/config"
	"github.com/marketdepth/orderbookd/internal/feed"
	"github.com/marketdepth/orderbookd/internal/session"
	"github.com/rs/zerolog"
)

// noopAdapter never dials anything, so sessions built from it are safe to
// Start/Shutdown in a test without touching the network.
type noopAdapter struct{}

func (noopAdapter) Start(ctx context.Context, onEvent func(feed.BookEvent)) error { return nil }
func (noopAdapter) Stop()                                                        {}
func (noopAdapter) FetchSnapshot(ctx context.Context) (feed.BookEvent, error) {
	return feed.BookEvent{}, context.Canceled
}

func testConfig() *config.Config {
	return &config.Config{
		Exchanges: []config.ExchangeConfig{
			{ID: "bi", Kind: config.KindBinanceLike, Endpoint: "wss://example", Pairs: []string{"BTC", "ETH"}},
			{ID: "cb", Kind: config.KindCoinbaseLike, Endpoint: "wss://example", Pairs: []string{"BTC"}},
		},
	}
}

func TestNewBuildsOneFactoryPerPair(t *testing.T) {
	e, err := New(testConfig(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(e.factory) != 3 {
		t.Fatalf("expected 3 factory entries, got %d", len(e.factory))
	}
	want := map[key]bool{
		{exchangeID: "bi", symbol: "BTC"}: true,
		{exchangeID: "bi", symbol: "ETH"}: true,
		{exchangeID: "cb", symbol: "BTC"}: true,
	}
	for k := range want {
		if _, ok := e.factory[k]; !ok {
			t.Errorf("missing factory entry for %+v", k)
		}
	}
}

func TestSessionsEmptyBeforeStart(t *testing.T) {
	e, err := New(testConfig(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := e.Sessions(); len(got) != 0 {
		t.Fatalf("expected no sessions before Start, got %d", len(got))
	}
}

func TestRecreateSwapsInTheSessionMap(t *testing.T) {
	e := &Engine{
		logger:   zerolog.Nop(),
		sessions: make(map[key]*session.Session),
		factory:  make(map[key]func() *session.Session),
		ctx:      context.Background(),
	}
	k := key{exchangeID: "bi", symbol: "BTC"}

	build := func() *session.Session {
		return session.New("bi", "BTC", noopAdapter{}, true, zerolog.Nop(), nil, nil)
	}
	e.factory[k] = build

	original := build()
	if err := original.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.sessions[k] = original

	e.recreate(k)

	e.mu.RLock()
	fresh := e.sessions[k]
	e.mu.RUnlock()

	if fresh == original {
		t.Fatal("expected recreate to swap in a new session")
	}
	if original.State() != session.Destroyed {
		t.Fatalf("expected old session to be Destroyed, got %s", original.State())
	}
	fresh.Shutdown()
}

func TestOnStaleMatchesByExchangeSlashSymbol(t *testing.T) {
	e := &Engine{
		logger:   zerolog.Nop(),
		sessions: make(map[key]*session.Session),
		factory:  make(map[key]func() *session.Session),
		ctx:      context.Background(),
	}
	k := key{exchangeID: "bi", symbol: "BTC"}
	build := func() *session.Session {
		return session.New("bi", "BTC", noopAdapter{}, true, zerolog.Nop(), nil, nil)
	}
	e.factory[k] = build
	original := build()
	if err := original.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.sessions[k] = original

	e.OnStale("bi/BTC")

	e.mu.RLock()
	fresh := e.sessions[k]
	e.mu.RUnlock()
	if fresh == original {
		t.Fatal("expected OnStale to trigger a recreate for a matching id")
	}
	fresh.Shutdown()
}

func TestOnStaleIgnoresUnknownID(t *testing.T) {
	e := &Engine{
		logger:   zerolog.Nop(),
		sessions: make(map[key]*session.Session),
		factory:  make(map[key]func() *session.Session),
		ctx:      context.Background(),
	}
	// Should not panic when no session matches.
	e.OnStale("nonexistent/SYM")
}

func TestSessionTransitionsWithoutTrailErrors(t *testing.T) {
	e := &Engine{logger: zerolog.Nop()}
	if _, err := e.SessionTransitions("bi", "BTC"); err == nil {
		t.Fatal("expected an error when no audit trail is configured")
	}
}

func TestForEachSessionVisitsEveryLiveSession(t *testing.T) {
	e := &Engine{
		logger:   zerolog.Nop(),
		sessions: make(map[key]*session.Session),
		factory:  make(map[key]func() *session.Session),
		ctx:      context.Background(),
	}
	s := session.New("bi", "BTC", noopAdapter{}, true, zerolog.Nop(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.sessions[key{exchangeID: "bi", symbol: "BTC"}] = s

	seen := 0
	e.ForEachSession(func(exchangeID, symbol string, got *session.Session) {
		seen++
		if exchangeID != "bi" || symbol != "BTC" {
			t.Errorf("unexpected key %s/%s", exchangeID, symbol)
		}
	})
	if seen != 1 {
		t.Fatalf("expected 1 visit, got %d", seen)
	}
	s.Shutdown()
}

func TestShutdownJoinsEveryLiveSession(t *testing.T) {
	e := &Engine{
		logger:   zerolog.Nop(),
		sessions: make(map[key]*session.Session),
		factory:  make(map[key]func() *session.Session),
		ctx:      context.Background(),
	}
	s := session.New("bi", "BTC", noopAdapter{}, true, zerolog.Nop(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.sessions[key{exchangeID: "bi", symbol: "BTC"}] = s

	done := make(chan struct{})
	go func() {
		e.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
	if s.State() != session.Destroyed {
		t.Fatalf("expected session Destroyed after engine shutdown, got %s", s.State())
	}
}
