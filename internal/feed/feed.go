// Package feed defines the canonical event contract every exchange
// adapter normalizes into, and the capability interface BookSession
// consumes. Adapters only normalize exchange messages into this shape; the
// sequencing rules (Binance-style snapshot+diff reconciliation and gap
// detection, Coinbase-style in-order application) are applied by
// internal/session, not by the adapters. This package only names the
// wire-level shape they all produce.
package feed

import (
	"context"
	"time"

	"github.com/marketdepth/orderbookd/internal/book"
)

// EventKind tags a BookEvent's variant.
type EventKind int

const (
	KindSnapshot EventKind = iota
	KindDiff
	KindHeartbeat
	KindAdapterError
)

// ErrorKind enumerates the taxonomy an adapter can surface via an
// AdapterError event. Recovery policy for each lives in the session and
// supervisor, not here.
type ErrorKind int

const (
	ErrTransportDisconnect ErrorKind = iota
	ErrSequenceGap
	ErrSnapshotReconcileFail
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTransportDisconnect:
		return "transport_disconnect"
	case ErrSequenceGap:
		return "sequence_gap"
	case ErrSnapshotReconcileFail:
		return "snapshot_reconcile_fail"
	default:
		return "unknown"
	}
}

// LevelChange is one (side, price, size) mutation carried by a Diff.
type LevelChange struct {
	Side  book.Side
	Level book.PriceLevel
}

// BookEvent is the canonical, tagged-union message every adapter emits.
// Only the fields relevant to Kind are meaningful.
type BookEvent struct {
	Kind EventKind

	// Snapshot
	SnapshotID int64
	Bids       []book.PriceLevel
	Asks       []book.PriceLevel

	// Diff
	FirstID   int64
	LastID    int64
	EventTime time.Time
	Symbol    string
	Changes   []LevelChange

	// Heartbeat carries EventTime only.

	// AdapterError
	Err ErrorKind
}

// Adapter is the capability BookSession drives. Implementations own their
// own transport (websocket dial, REST snapshot fetch); the session only
// ever sees normalized BookEvents. Neither adapter in this repository
// redials after a transport error: it reports ErrTransportDisconnect and
// its stream ends.
type Adapter interface {
	// Start begins delivery; onEvent is called from the adapter's own
	// goroutine(s) for every normalized event until Stop returns. Start
	// must not block past initial dial/subscribe.
	Start(ctx context.Context, onEvent func(BookEvent)) error

	// Stop halts delivery. No further onEvent calls occur after Stop
	// returns.
	Stop()

	// FetchSnapshot is used by snapshot+diff style adapters to obtain (or
	// re-obtain, on resync) a REST snapshot out of band from the stream.
	FetchSnapshot(ctx context.Context) (BookEvent, error)
}
