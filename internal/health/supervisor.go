// Package health implements the per-session freshness watchdog: on every
// Aggregator heartbeat tick it compares now against each session's
// last_update_at and tears down anything that has gone stale, mirroring
// the destroy+recreate recovery loop spec'd for supervisor-driven resets.
package health

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultStalenessThreshold is the spec's default (§4.5).
const DefaultStalenessThreshold = 10 * time.Second

// Session is the subset of session.Session the supervisor needs. Kept as
// an interface so this package never imports internal/session directly —
// the dependency runs the other way, from the engine that wires both.
type Session interface {
	LastUpdateAt() time.Time

	// IsResyncing reports whether the session is already mid-reconciliation.
	// Resyncing freezes LastUpdateAt at its pre-resync value, so without
	// this check a long resync would otherwise look stale forever and
	// Check would keep calling onStale on top of an in-flight reset.
	IsResyncing() bool
}

// Supervisor watches a set of sessions and resets whichever goes stale.
type Supervisor struct {
	threshold time.Duration
	logger    zerolog.Logger
	onStale   func(id string)
}

// New returns a supervisor using threshold (pass 0 for the spec default).
func New(threshold time.Duration, logger zerolog.Logger, onStale func(id string)) *Supervisor {
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}
	return &Supervisor{threshold: threshold, logger: logger, onStale: onStale}
}

// Check runs one heartbeat pass over sessions, keyed by an opaque session
// id (exchange/symbol) for logging and the onStale callback. Check does no
// I/O itself, but it calls onStale inline: with Engine.OnStale that is a
// full destroy+create, including the new adapter's dial, before Check
// moves on to the next session.
func (s *Supervisor) Check(now time.Time, sessions map[string]Session) {
	for id, sess := range sessions {
		if sess.IsResyncing() {
			continue // reset already in flight; don't cascade onto it
		}
		last := sess.LastUpdateAt()
		if last.IsZero() {
			continue // still Initializing/Snapshotting, not yet live
		}
		delta := now.Sub(last)
		if delta <= s.threshold {
			continue
		}
		s.logger.Warn().Str("session", id).Dur("since_last_update", delta).Msg("session stale, requesting reset")
		if s.onStale != nil {
			s.onStale(id)
		}
	}
}
