// Package adapters defines the contract every position source implements.
package adapters

import (
	"context"

	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/pricing"
	"github.com/shopspring/decimal"
)

// Request carries the per-invocation fetch parameters.
type Request struct {
	// Address is the normalized (lower-case) account address.
	Address string
	// IncludePrices controls whether the adapter attaches USD values.
	IncludePrices bool
}

// Result is a successful fetch. A non-empty Failed list is the partial-data
// outcome: the positions that were retrieved are present and each failed
// sub-query is named, never silently rendered as a zero balance.
type Result struct {
	Positions []model.Position
	Failed    []string
}

// Adapter fetches the positions of one category for an address. Adapters are
// stateless between calls and independent of each other; a returned error
// means the whole category source was unreachable.
type Adapter interface {
	Name() string
	Category() model.Category
	FetchPositions(ctx context.Context, req Request) (Result, error)
}

// PriceOrNil resolves a USD value for quantity, returning nil when pricing
// is disabled or the feed is unavailable. failed is set only on
// transport-level pricing errors so callers can flag the sub-query.
func PriceOrNil(ctx context.Context, provider pricing.Provider, feed string, quantity decimal.Decimal, includePrices bool) (value *decimal.Decimal, failed bool) {
	if !includePrices || feed == "" || provider == nil {
		return nil, false
	}
	price, ok, err := provider.Price(ctx, feed)
	if err != nil {
		return nil, true
	}
	if !ok {
		return nil, false
	}
	v := quantity.Mul(price)
	return &v, false
}
