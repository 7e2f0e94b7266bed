// Package engine wires every configured (exchange, symbol) pair into a
// running session.Session, owns the destroy+create lifecycle HealthSupervisor
// and SequenceGap recovery drive, and exposes the live set to the
// Aggregator and the ops HTTP surface.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/marketdepth/orderbookd/internal/audit"
	"github.com/marketdepth/orderbookd/internal/config"
	"github.com/marketdepth/orderbookd/internal/feed"
	binancefeed "github.com/marketdepth/orderbookd/internal/feed/binance"
	coinbasefeed "github.com/marketdepth/orderbookd/internal/feed/coinbase"
	"github.com/marketdepth/orderbookd/internal/session"
	"github.com/rs/zerolog"
)

// key identifies one session by exchange id and trading pair.
type key struct {
	exchangeID string
	symbol     string
}

// Engine owns the full set of live sessions and the factory that can
// recreate any one of them (used by both HealthSupervisor's staleness
// reset and a session's own SequenceGap Degraded transition).
type Engine struct {
	logger zerolog.Logger
	trail  *audit.Trail

	mu       sync.RWMutex
	sessions map[key]*session.Session
	factory  map[key]func() *session.Session

	ctx context.Context
}

// New builds an Engine from configuration but does not start anything.
func New(cfg *config.Config, trail *audit.Trail, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger:   logger,
		trail:    trail,
		sessions: make(map[key]*session.Session),
		factory:  make(map[key]func() *session.Session),
	}

	binanceClient := binance.NewClient("", "")

	for _, ex := range cfg.Exchanges {
		for _, pair := range ex.Pairs {
			k := key{exchangeID: ex.ID, symbol: pair}
			ex, pair := ex, pair // capture
			e.factory[k] = func() *session.Session {
				return e.newSession(ex, pair, binanceClient)
			}
		}
	}
	return e, nil
}

func (e *Engine) newSession(ex config.ExchangeConfig, symbol string, binanceClient *binance.Client) *session.Session {
	var adapter feed.Adapter
	gapDetection := false

	switch ex.Kind {
	case config.KindBinanceLike:
		adapter = binancefeed.New(symbol, binanceClient, e.logger)
		gapDetection = true
	case config.KindCoinbaseLike:
		adapter = coinbasefeed.New(ex.Endpoint, symbol, e.logger)
		gapDetection = false
	default:
		panic(fmt.Sprintf("engine: unknown exchange kind %q", ex.Kind))
	}

	s := session.New(ex.ID, symbol, adapter, gapDetection, e.logger,
		func(ev session.ErrorEvent) {
			if e.trail != nil {
				go func() {
					if err := e.trail.RecordError(ev.Exchange, ev.Symbol, ev.Kind, ev.Detail, ev.At); err != nil {
						e.logger.Warn().Err(err).Msg("audit: record error failed")
					}
				}()
			}
		},
		func(degraded *session.Session) {
			e.logger.Warn().Str("exchange", degraded.Exchange).Str("symbol", degraded.Symbol).Msg("session degraded, recreating")
			e.recreate(key{exchangeID: degraded.Exchange, symbol: degraded.Symbol})
		},
	)
	s.OnTransition(func(from, to session.State) {
		if e.trail != nil {
			at := time.Now()
			go func() {
				if err := e.trail.RecordTransition(ex.ID, symbol, from.String(), to.String(), at); err != nil {
					e.logger.Warn().Err(err).Msg("audit: record transition failed")
				}
			}()
		}
	})
	return s
}

// Start launches every configured session under ctx.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx = ctx
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, make := range e.factory {
		s := make()
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("engine: start session %s/%s: %w", k.exchangeID, k.symbol, err)
		}
		e.sessions[k] = s
	}
	return nil
}

// Shutdown tears down every live session.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	sessions := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Shutdown()
		}(s)
	}
	wg.Wait()
}

// recreate destroys the named session and starts a fresh one in its
// place — the destroy+create recovery loop §4.5 and §4.4's Degraded
// transition both drive.
func (e *Engine) recreate(k key) {
	e.mu.Lock()
	old, ok := e.sessions[k]
	factory := e.factory[k]
	e.mu.Unlock()
	if !ok || factory == nil {
		return
	}

	old.Shutdown()

	fresh := factory()
	if err := fresh.Start(e.ctx); err != nil {
		e.logger.Error().Err(err).Str("exchange", k.exchangeID).Str("symbol", k.symbol).Msg("engine: failed to recreate session")
		return
	}

	e.mu.Lock()
	e.sessions[k] = fresh
	e.mu.Unlock()
}

// OnStale adapts Engine to health.Supervisor's onStale callback: id is
// formatted "exchange/symbol", as the Aggregator keys its health snapshot.
// The destroy+create runs inline on the caller's goroutine.
func (e *Engine) OnStale(id string) {
	for k := range e.snapshotKeys() {
		if k.exchangeID+"/"+k.symbol == id {
			e.recreate(k)
			return
		}
	}
}

func (e *Engine) snapshotKeys() map[key]struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[key]struct{}, len(e.sessions))
	for k := range e.sessions {
		out[k] = struct{}{}
	}
	return out
}

// Sessions returns the current state of every live session; cmd/orderbookd
// adapts it to httpserver.SessionProvider.
func (e *Engine) Sessions() []SessionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SessionSnapshot, 0, len(e.sessions))
	for k, s := range e.sessions {
		out = append(out, SessionSnapshot{
			Exchange:     k.exchangeID,
			Symbol:       k.symbol,
			State:        s.State().String(),
			LastUpdateAt: s.LastUpdateAt(),
		})
	}
	return out
}

// SessionSnapshot is the ops-surface/aggregator-facing read of one
// session's current lifecycle state.
type SessionSnapshot struct {
	Exchange     string
	Symbol       string
	State        string
	LastUpdateAt time.Time
}

// SessionTransitions returns the audit trail's recorded history for one
// (exchange, symbol) pair, for the ops HTTP surface's session detail
// endpoint. Returns an error if no audit trail was configured.
func (e *Engine) SessionTransitions(exchangeID, symbol string) ([]audit.StateTransition, error) {
	if e.trail == nil {
		return nil, fmt.Errorf("engine: no audit trail configured")
	}
	return e.trail.QueryTransitions(exchangeID, symbol)
}

// ForEachSession hands every live *session.Session to fn, for the
// Aggregator and HealthSupervisor to register against without this
// package depending on either.
func (e *Engine) ForEachSession(fn func(exchangeID, symbol string, s *session.Session)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for k, s := range e.sessions {
		fn(k.exchangeID, k.symbol, s)
	}
}
