// Package pricing provides USD valuation for portfolio assets. Prices are
// keyed by FTSO feed name ("FLR/USD"); unavailability is a normal outcome
// reported through the ok flag, never an error.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Provider returns the USD-per-unit price for a feed. ok is false when the
// provider has no price for that feed; err is reserved for transport-level
// failures.
type Provider interface {
	Price(ctx context.Context, feed string) (decimal.Decimal, bool, error)
}

// Static serves fixed prices from a map. Used in tests and as a last-resort
// source for assets with a known hard peg.
type Static struct {
	prices map[string]decimal.Decimal
}

func NewStatic(prices map[string]decimal.Decimal) *Static {
	copied := make(map[string]decimal.Decimal, len(prices))
	for feed, price := range prices {
		copied[feed] = price
	}
	return &Static{prices: copied}
}

func (s *Static) Price(_ context.Context, feed string) (decimal.Decimal, bool, error) {
	price, ok := s.prices[feed]
	return price, ok, nil
}

// Fallback tries each provider in order and returns the first available
// price. A provider error moves on to the next source; only the last error
// is surfaced when every source fails.
type Fallback struct {
	sources []Provider
}

func NewFallback(sources ...Provider) *Fallback {
	return &Fallback{sources: sources}
}

func (f *Fallback) Price(ctx context.Context, feed string) (decimal.Decimal, bool, error) {
	var lastErr error
	for _, source := range f.sources {
		price, ok, err := source.Price(ctx, feed)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return price, true, nil
		}
	}
	return decimal.Zero, false, lastErr
}
