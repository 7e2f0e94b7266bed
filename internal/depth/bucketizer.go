// Package depth bucketizes a price ladder into fixed percentage bands
// around top-of-book, using exact decimal arithmetic throughout so the
// result is bitwise reproducible for a given top and level set.
package depth

import (
	"github.com/marketdepth/orderbookd/internal/book"
	"github.com/shopspring/decimal"
)

// NumBands is the number of bands produced per side.
const NumBands = 10

// DefaultBandEdges are the percentage offsets from top-of-book, ascending,
// length NumBands+1 (11 edges bound 10 bands).
var DefaultBandEdges = []decimal.Decimal{
	decimal.NewFromFloat(0.00),
	decimal.NewFromFloat(0.02),
	decimal.NewFromFloat(0.04),
	decimal.NewFromFloat(0.06),
	decimal.NewFromFloat(0.08),
	decimal.NewFromFloat(0.10),
	decimal.NewFromFloat(0.12),
	decimal.NewFromFloat(0.14),
	decimal.NewFromFloat(0.16),
	decimal.NewFromFloat(0.18),
	decimal.NewFromFloat(0.20),
}

// Bands holds the NumBands sums for one side. Index 0 is the band closest
// to top-of-book on both sides, index NumBands-1 the furthest — A0/B0 sit
// adjacent to top-of-book per §4.2.
type Bands [NumBands]decimal.Decimal

// Bucketize aggregates levels into NumBands sums. edges must have
// NumBands+1 ascending entries starting at 0, expressed as a fraction of
// top-of-book distance. Levels are converted to a distance ratio r — for
// asks r = price/top - 1, for bids r = 1 - price/top — then located in the
// raw band i where r in [edges[i], edges[i+1]) (both ends inclusive for
// the outermost band). The raw index is the band index directly: A_i = raw
// i and B_i = raw i, both counting outward from top-of-book at i=0.
func Bucketize(side book.Side, top decimal.Decimal, levels []book.PriceLevel, edges []decimal.Decimal) Bands {
	var out Bands
	for i := range out {
		out[i] = decimal.Zero
	}
	if top.Sign() <= 0 || len(edges) != NumBands+1 {
		return out
	}

	one := decimal.NewFromInt(1)
	for _, lv := range levels {
		var r decimal.Decimal
		if side == book.Ask {
			r = lv.Price.Div(top).Sub(one)
		} else {
			r = one.Sub(lv.Price.Div(top))
		}
		raw, ok := locateRawBand(r, edges)
		if !ok {
			continue
		}
		out[raw] = out[raw].Add(lv.Size)
	}
	return out
}

// locateRawBand finds which of the NumBands [edges[i], edges[i+1]) windows
// r falls into, with the final window closed on both ends.
func locateRawBand(r decimal.Decimal, edges []decimal.Decimal) (int, bool) {
	for i := 0; i < NumBands; i++ {
		lo, hi := edges[i], edges[i+1]
		last := i == NumBands-1
		inLower := r.Cmp(lo) >= 0
		inUpper := r.Cmp(hi) < 0
		if last {
			inUpper = r.Cmp(hi) <= 0
		}
		if inLower && inUpper {
			return i, true
		}
	}
	return 0, false
}
