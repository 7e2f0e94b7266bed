package depth

import (
	"testing"

	"github.com/marketdepth/orderbookd/internal/book"
	"github.com/shopspring/decimal"
)

func TestBucketizeScenarioOne(t *testing.T) {
	t.Parallel()
	top := decimal.NewFromInt(100)
	levels := []book.PriceLevel{
		{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)},
		{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(2)},
	}
	bands := Bucketize(book.Ask, top, levels, DefaultBandEdges)
	if !bands[0].Equal(decimal.NewFromInt(3)) {
		t.Fatalf("A0 = %v, want 3 (both 100 and 101 fall in the first 0-2%% band)", bands[0])
	}
	for i := 1; i < NumBands; i++ {
		if !bands[i].IsZero() {
			t.Fatalf("A%d = %v, want 0", i, bands[i])
		}
	}
}

func TestBucketizeDropsOutOfWindowLevels(t *testing.T) {
	t.Parallel()
	top := decimal.NewFromInt(100)
	levels := []book.PriceLevel{
		{Price: decimal.NewFromInt(130), Size: decimal.NewFromInt(5)}, // 30% away, outside window
	}
	bands := Bucketize(book.Ask, top, levels, DefaultBandEdges)
	for i, b := range bands {
		if !b.IsZero() {
			t.Fatalf("band %d = %v, want 0 for out-of-window level", i, b)
		}
	}
}

func TestBucketizeBidIndexCountsOutwardFromTop(t *testing.T) {
	t.Parallel()
	top := decimal.NewFromInt(100)
	// 19% below top lands in the outermost band, furthest from top -> B9.
	levels := []book.PriceLevel{
		{Price: decimal.NewFromInt(81), Size: decimal.NewFromInt(7)},
	}
	bands := Bucketize(book.Bid, top, levels, DefaultBandEdges)
	if !bands[NumBands-1].Equal(decimal.NewFromInt(7)) {
		t.Fatalf("B9 = %v, want 7", bands[NumBands-1])
	}
	for i := 0; i < NumBands-1; i++ {
		if !bands[i].IsZero() {
			t.Fatalf("B%d = %v, want 0", i, bands[i])
		}
	}
}

func TestBucketizeBidNearestTopIsIndexZero(t *testing.T) {
	t.Parallel()
	top := decimal.NewFromInt(100)
	// Right at top (0% away) lands in the innermost band -> B0.
	levels := []book.PriceLevel{
		{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(3)},
	}
	bands := Bucketize(book.Bid, top, levels, DefaultBandEdges)
	if !bands[0].Equal(decimal.NewFromInt(3)) {
		t.Fatalf("B0 = %v, want 3", bands[0])
	}
	for i := 1; i < NumBands; i++ {
		if !bands[i].IsZero() {
			t.Fatalf("B%d = %v, want 0", i, bands[i])
		}
	}
}

func TestBucketizeOutermostEdgeInclusiveBothSides(t *testing.T) {
	t.Parallel()
	top := decimal.NewFromInt(100)
	levels := []book.PriceLevel{
		{Price: decimal.NewFromInt(120), Size: decimal.NewFromInt(4)}, // exactly top*(1+0.20)
	}
	bands := Bucketize(book.Ask, top, levels, DefaultBandEdges)
	if !bands[NumBands-1].Equal(decimal.NewFromInt(4)) {
		t.Fatalf("A9 = %v, want 4 (outermost edge inclusive)", bands[NumBands-1])
	}
}

func TestBucketizeConservation(t *testing.T) {
	t.Parallel()
	top := decimal.NewFromInt(100)
	levels := []book.PriceLevel{
		{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)},
		{Price: decimal.NewFromInt(105), Size: decimal.NewFromInt(2)},
		{Price: decimal.NewFromInt(115), Size: decimal.NewFromInt(3)},
		{Price: decimal.NewFromInt(125), Size: decimal.NewFromInt(99)}, // outside window, excluded
	}
	bands := Bucketize(book.Ask, top, levels, DefaultBandEdges)
	sum := decimal.Zero
	for _, b := range bands {
		sum = sum.Add(b)
	}
	if !sum.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("band sum = %v, want 6 (excludes the out-of-window level)", sum)
	}
}
