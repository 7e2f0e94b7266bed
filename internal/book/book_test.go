package book

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUpsertZeroSizeDeletes(t *testing.T) {
	t.Parallel()
	b := New()
	b.Upsert(Ask, d("100"), d("1"))
	b.Upsert(Ask, d("100"), d("0"))
	if _, _, err := b.Best(Ask); err != ErrEmptySide {
		t.Fatalf("expected empty side after zero-size upsert, got err=%v", err)
	}
}

func TestBestBidAsk(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot(
		[]PriceLevel{{Price: d("99"), Size: d("3")}, {Price: d("98"), Size: d("4")}},
		[]PriceLevel{{Price: d("100"), Size: d("1")}, {Price: d("101"), Size: d("2")}},
	)
	bid, _, err := b.Best(Bid)
	if err != nil || !bid.Equal(d("99")) {
		t.Fatalf("best bid = %v, err = %v", bid, err)
	}
	ask, _, err := b.Best(Ask)
	if err != nil || !ask.Equal(d("100")) {
		t.Fatalf("best ask = %v, err = %v", ask, err)
	}
}

func TestIterFromTopOrdering(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot(
		[]PriceLevel{{Price: d("99"), Size: d("1")}, {Price: d("97"), Size: d("1")}, {Price: d("98"), Size: d("1")}},
		[]PriceLevel{{Price: d("102"), Size: d("1")}, {Price: d("100"), Size: d("1")}, {Price: d("101"), Size: d("1")}},
	)
	var bids []string
	b.IterFromTop(Bid, 0, func(p, _ decimal.Decimal) bool {
		bids = append(bids, p.String())
		return true
	})
	want := []string{"99", "98", "97"}
	for i, w := range want {
		if bids[i] != w {
			t.Fatalf("bids[%d] = %s, want %s", i, bids[i], w)
		}
	}

	var asks []string
	b.IterFromTop(Ask, 0, func(p, _ decimal.Decimal) bool {
		asks = append(asks, p.String())
		return true
	})
	wantAsks := []string{"100", "101", "102"}
	for i, w := range wantAsks {
		if asks[i] != w {
			t.Fatalf("asks[%d] = %s, want %s", i, asks[i], w)
		}
	}
}

func TestLoadSnapshotAtomicReplace(t *testing.T) {
	t.Parallel()
	b := New()
	b.Upsert(Bid, d("1"), d("1"))
	b.LoadSnapshot(nil, []PriceLevel{{Price: d("5"), Size: d("1")}})
	if _, _, err := b.Best(Bid); err != ErrEmptySide {
		t.Fatalf("expected bids cleared by snapshot, err=%v", err)
	}
	ask, _, err := b.Best(Ask)
	if err != nil || !ask.Equal(d("5")) {
		t.Fatalf("best ask = %v, err = %v", ask, err)
	}
}

func TestLoadSnapshotSkipsZeroLevels(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot([]PriceLevel{{Price: d("1"), Size: d("0")}}, nil)
	if _, _, err := b.Best(Bid); err != ErrEmptySide {
		t.Fatalf("zero-size level in snapshot should not be retained")
	}
}

func TestCrossedDetection(t *testing.T) {
	t.Parallel()
	b := New()
	b.LoadSnapshot([]PriceLevel{{Price: d("101"), Size: d("1")}}, []PriceLevel{{Price: d("100"), Size: d("1")}})
	if !b.Crossed() {
		t.Fatal("expected crossed book (bid >= ask)")
	}
	if !b.Crossed() {
		t.Fatal("Crossed must not mutate state")
	}
}

func TestApplyDeleteIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	b.Upsert(Ask, d("100"), d("1"))
	b.Upsert(Ask, d("100"), d("0"))
	b.Upsert(Ask, d("100"), d("0"))
	_, asks := b.Snapshot()
	if len(asks) != 0 {
		t.Fatalf("expected no ask levels after repeated delete, got %v", asks)
	}
}
