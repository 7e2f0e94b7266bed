// Package book implements the sorted bid/ask price ladders each session
// reconciles against a snapshot+diff feed.
package book

import (
	"errors"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/shopspring/decimal"
)

// Side identifies one rail of the ladder.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// PriceLevel is a single resting level: an exact price and the total size
// resting there. A Size of zero means "delete this level" at the call site
// that produced it; the ladder itself never retains a zero-size level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func decimalComparator(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

// Ladder is one side of an order book: a red-black tree keyed by exact
// decimal price, giving O(log n) upsert/delete and O(1) best-price lookup.
type Ladder struct {
	prices treemap.Map
}

func newLadder() *Ladder {
	return &Ladder{prices: *treemap.NewWith(decimalComparator)}
}

func (l *Ladder) upsert(price, size decimal.Decimal) {
	if size.Sign() <= 0 {
		l.prices.Remove(price)
		return
	}
	l.prices.Put(price, size)
}

func (l *Ladder) delete(price decimal.Decimal) {
	l.prices.Remove(price)
}

func (l *Ladder) clear() {
	l.prices.Clear()
}

// min and max return the lowest and highest level of the ladder. The inside
// of the book is the max key for bids and the min key for asks; Book.Best
// and Book.Crossed pick accordingly.
func (l *Ladder) min() (decimal.Decimal, decimal.Decimal, bool) {
	if l.prices.Empty() {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	p, s := l.prices.Min()
	return p.(decimal.Decimal), s.(decimal.Decimal), true
}

func (l *Ladder) max() (decimal.Decimal, decimal.Decimal, bool) {
	if l.prices.Empty() {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	p, s := l.prices.Max()
	return p.(decimal.Decimal), s.(decimal.Decimal), true
}

// ascending walks prices low to high.
func (l *Ladder) ascending(limit int, fn func(price, size decimal.Decimal) bool) {
	it := l.prices.Iterator()
	count := 0
	for it.Next() {
		if limit > 0 && count >= limit {
			return
		}
		if !fn(it.Key().(decimal.Decimal), it.Value().(decimal.Decimal)) {
			return
		}
		count++
	}
}

// descending walks prices high to low.
func (l *Ladder) descending(limit int, fn func(price, size decimal.Decimal) bool) {
	it := l.prices.Iterator()
	it.End()
	count := 0
	for it.Prev() {
		if limit > 0 && count >= limit {
			return
		}
		if !fn(it.Key().(decimal.Decimal), it.Value().(decimal.Decimal)) {
			return
		}
		count++
	}
}

func (l *Ladder) size() int {
	return l.prices.Size()
}

// ErrEmptySide is returned by Best when the requested side has no levels.
var ErrEmptySide = errors.New("book: side has no resting levels")

// Book holds both ladders for one (exchange, symbol) session behind a
// single RWMutex. Writers (the session worker) take the write lock for the
// duration of exactly one apply; readers (the aggregator heartbeat) take
// the read lock for the duration of one snapshot read. Neither side ever
// performs I/O while holding the lock.
type Book struct {
	mu   sync.RWMutex
	bids *Ladder
	asks *Ladder
}

// New returns an empty book.
func New() *Book {
	return &Book{bids: newLadder(), asks: newLadder()}
}

// Upsert sets price/size on one side. size == 0 is equivalent to Delete.
// Validation of price/size sign is the adapter's responsibility (§4.1);
// Upsert trusts its caller.
func (b *Book) Upsert(side Side, price, size decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ladder(side).upsert(price, size)
}

// Delete removes a level outright.
func (b *Book) Delete(side Side, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ladder(side).delete(price)
}

// LoadSnapshot atomically replaces both ladders. Zero-size levels in the
// input are skipped rather than inserted and immediately removed.
func (b *Book) LoadSnapshot(bids, asks []PriceLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.clear()
	b.asks.clear()
	for _, lv := range bids {
		if lv.Size.Sign() > 0 {
			b.bids.upsert(lv.Price, lv.Size)
		}
	}
	for _, lv := range asks {
		if lv.Size.Sign() > 0 {
			b.asks.upsert(lv.Price, lv.Size)
		}
	}
}

// Clear empties both ladders.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.clear()
	b.asks.clear()
}

// Best returns the inside price for a side: the highest bid or the lowest
// ask. ErrEmptySide is returned when that side currently has no levels.
func (b *Book) Best(side Side) (decimal.Decimal, decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var price, size decimal.Decimal
	var ok bool
	if side == Bid {
		price, size, ok = b.bids.max()
	} else {
		price, size, ok = b.asks.min()
	}
	if !ok {
		return decimal.Decimal{}, decimal.Decimal{}, ErrEmptySide
	}
	return price, size, nil
}

// IterFromTop yields up to limit levels starting from the inside of the
// book outward: bids strictly decreasing, asks strictly increasing.
// limit <= 0 means unbounded.
func (b *Book) IterFromTop(side Side, limit int, fn func(price, size decimal.Decimal) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == Bid {
		b.bids.descending(limit, fn)
	} else {
		b.asks.ascending(limit, fn)
	}
}

// Snapshot returns a consistent point-in-time copy of both ladders, taken
// under a single read-lock acquisition — the Aggregator's hot-path read.
func (b *Book) Snapshot() (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = make([]PriceLevel, 0, b.bids.size())
	b.bids.descending(0, func(p, s decimal.Decimal) bool {
		bids = append(bids, PriceLevel{Price: p, Size: s})
		return true
	})
	asks = make([]PriceLevel, 0, b.asks.size())
	b.asks.ascending(0, func(p, s decimal.Decimal) bool {
		asks = append(asks, PriceLevel{Price: p, Size: s})
		return true
	})
	return bids, asks
}

// Crossed reports whether best_bid >= best_ask while both sides are
// non-empty — the CrossBook protocol violation (§7). Never mutates.
func (b *Book) Crossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, _, bidOK := b.bids.max()
	ask, _, askOK := b.asks.min()
	if !bidOK || !askOK {
		return false
	}
	return bid.Cmp(ask) >= 0
}

func (b *Book) ladder(side Side) *Ladder {
	if side == Bid {
		return b.bids
	}
	return b.asks
}
