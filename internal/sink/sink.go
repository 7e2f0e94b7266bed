// Package sink defines the Sink capability the Aggregator hands each
// tick's EmittedDocument to, plus a fan-out composition of the durable
// Mongo sink and the supplementary NATS publish.
package sink

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrInsertFailed wraps any insert failure for callers that want to
// distinguish sink errors from other failures, per the SinkInsertFailed
// taxonomy entry (§7) — the Aggregator logs it and does not retry the
// tick.
var ErrInsertFailed = errors.New("sink: insert failed")

// Document is the minimal shape Sink needs: something that marshals to
// the bit-compatible wire schema. Kept as an interface here so this
// package has no dependency on internal/aggregator.
type Document interface {
	MarshalJSON() ([]byte, error)
}

// Sink is the fire-and-forget persistence capability (§6).
type Sink interface {
	Insert(ctx context.Context, doc Document) error
}

// FanOut composes a required durable sink with zero or more supplementary
// sinks whose failures are logged but never surfaced — matching §4.6's
// contract that only the Sink.insert call in the hot path can fail the
// tick, and the SPEC_FULL.md decision that the NATS leg never does.
type FanOut struct {
	primary       Sink
	supplementary []Sink
	logger        zerolog.Logger
}

// NewFanOut returns a Sink that always calls primary and best-effort
// calls every supplementary sink.
func NewFanOut(primary Sink, logger zerolog.Logger, supplementary ...Sink) *FanOut {
	return &FanOut{primary: primary, supplementary: supplementary, logger: logger}
}

func (f *FanOut) Insert(ctx context.Context, doc Document) error {
	err := f.primary.Insert(ctx, doc)
	for _, s := range f.supplementary {
		if serr := s.Insert(ctx, doc); serr != nil {
			f.logger.Warn().Err(serr).Msg("supplementary sink insert failed, ignoring")
		}
	}
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}
