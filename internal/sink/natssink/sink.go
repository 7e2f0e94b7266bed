// Package natssink is the supplementary, best-effort Sink: it publishes
// each EmittedDocument onto a JetStream subject, grounded on
// internal/jetstream's Conn/JetStreamContext publisher wrapper.
package natssink

import (
	"context"
	"fmt"

	"github.com/marketdepth/orderbookd/internal/sink"
	"github.com/nats-io/nats.go"
)

// Sink publishes each document onto a fixed JetStream subject. It is
// meant to sit behind sink.FanOut as a supplementary leg: its errors are
// never fatal to the Aggregator's tick.
type Sink struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// New connects to the comma-separated NATS URIs, ensures stream exists
// (creating it if not), and returns a Sink bound to subject.
func New(uris []string, stream, subject string) (*Sink, error) {
	conn, err := nats.Connect(natsURLList(uris))
	if err != nil {
		return nil, fmt.Errorf("natssink: connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("natssink: jetstream context: %w", err)
	}
	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{subject},
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("natssink: add stream %s: %w", stream, err)
		}
	}
	return &Sink{conn: conn, js: js, subject: subject}, nil
}

func natsURLList(uris []string) string {
	out := uris[0]
	for _, u := range uris[1:] {
		out += "," + u
	}
	return out
}

// Insert implements sink.Sink.
func (s *Sink) Insert(ctx context.Context, doc sink.Document) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("natssink: marshal document: %w", err)
	}
	_, err = s.js.Publish(s.subject, raw)
	if err != nil {
		return fmt.Errorf("natssink: publish: %w", err)
	}
	return nil
}

// Close drains and closes the underlying connection.
func (s *Sink) Close() {
	_ = s.conn.Drain()
}
