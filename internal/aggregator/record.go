package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/marketdepth/orderbookd/internal/depth"
	"github.com/shopspring/decimal"
)

// SchemaVersion is stamped into every EmittedDocument's metadata.
const SchemaVersion = "1"

// SessionRecord is the per-(exchange,symbol) shape assembled once per
// heartbeat tick (§3/§6). Band fields are JSON-marshaled under the exact
// bit-compatible labels B9..B0 / A0..A9 required by downstream readers.
type SessionRecord struct {
	LastUpdateAtMillis int64
	BestBid            decimal.Decimal
	BestAsk            decimal.Decimal
	BidBands           depth.Bands // index 0 = B0 (nearest top) .. index 9 = B9 (furthest)
	AskBands           depth.Bands // index 0 = A0 (nearest top) .. index 9 = A9 (furthest)
}

// MarshalJSON renders {"u":...,"b":...,"a":...,"bd":{"B9":...,"B0":...},"ad":{"A0":...,"A9":...}}.
func (r SessionRecord) MarshalJSON() ([]byte, error) {
	bd := make(map[string]decimal.Decimal, depth.NumBands)
	for i := 0; i < depth.NumBands; i++ {
		bd[fmt.Sprintf("B%d", i)] = r.BidBands[i]
	}
	ad := make(map[string]decimal.Decimal, depth.NumBands)
	for i := 0; i < depth.NumBands; i++ {
		ad[fmt.Sprintf("A%d", i)] = r.AskBands[i]
	}
	return json.Marshal(struct {
		U  int64                      `json:"u"`
		B  decimal.Decimal            `json:"b"`
		A  decimal.Decimal            `json:"a"`
		BD map[string]decimal.Decimal `json:"bd"`
		AD map[string]decimal.Decimal `json:"ad"`
	}{U: r.LastUpdateAtMillis, B: r.BestBid, A: r.BestAsk, BD: bd, AD: ad})
}

// UnmarshalJSON is the inverse of MarshalJSON, used by the round-trip
// property test (§8).
func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		U  int64                      `json:"u"`
		B  decimal.Decimal            `json:"b"`
		A  decimal.Decimal            `json:"a"`
		BD map[string]decimal.Decimal `json:"bd"`
		AD map[string]decimal.Decimal `json:"ad"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.LastUpdateAtMillis = wire.U
	r.BestBid = wire.B
	r.BestAsk = wire.A
	for i := 0; i < depth.NumBands; i++ {
		r.BidBands[i] = wire.BD[fmt.Sprintf("B%d", i)]
		r.AskBands[i] = wire.AD[fmt.Sprintf("A%d", i)]
	}
	return nil
}

// Metadata is the "m" envelope: schema version plus the process-wide
// session_id generated once per process (§9).
type Metadata struct {
	Version   string `json:"v"`
	SessionID string `json:"s"`
}

// Document is one heartbeat tick's full emitted payload: per-exchange maps
// of symbol (as registered with AddSession) to SessionRecord, keyed by the exchange's
// configured short id ("cb", "bi", "bu", ...).
type Document struct {
	Metadata       Metadata
	TimestampMilli int64
	Exchanges      map[string]map[string]SessionRecord
}

// MarshalJSON renders {"m":{...},"t":...,"<exch_id>":{...}, ...}.
func (d Document) MarshalJSON() ([]byte, error) {
	fields := map[string]interface{}{
		"m": d.Metadata,
		"t": d.TimestampMilli,
	}
	for exchID, symbols := range d.Exchanges {
		fields[exchID] = symbols
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(fields); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	return out[:len(out)-1], nil // strip the trailing newline json.Encoder adds
}

// UnmarshalJSON is the inverse of MarshalJSON, used by the round-trip
// property test (§8): every key other than "m"/"t" is an exchange map.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw["m"]; ok {
		if err := json.Unmarshal(m, &d.Metadata); err != nil {
			return err
		}
		delete(raw, "m")
	}
	if t, ok := raw["t"]; ok {
		if err := json.Unmarshal(t, &d.TimestampMilli); err != nil {
			return err
		}
		delete(raw, "t")
	}
	d.Exchanges = make(map[string]map[string]SessionRecord, len(raw))
	for exchID, body := range raw {
		var symbols map[string]SessionRecord
		if err := json.Unmarshal(body, &symbols); err != nil {
			return err
		}
		d.Exchanges[exchID] = symbols
	}
	return nil
}
