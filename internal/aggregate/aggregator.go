// Package aggregate fans out to every position source concurrently and
// merges the results into a deterministic portfolio snapshot.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ncastellan/flare-portfolio/internal/adapters"
	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Options controls one snapshot build.
type Options struct {
	// IncludePrices attaches USD values via the valuation provider.
	IncludePrices bool
	// Categories restricts the fetch to a subset; empty means all.
	Categories []model.Category
}

// DefaultOptions fetches every category with pricing enabled.
func DefaultOptions() Options {
	return Options{IncludePrices: true}
}

type Aggregator struct {
	adapters       []adapters.Adapter
	adapterTimeout time.Duration
	now            func() time.Time
	log            zerolog.Logger
}

func New(list []adapters.Adapter, adapterTimeout time.Duration, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		adapters:       list,
		adapterTimeout: adapterTimeout,
		now:            time.Now,
		log:            log,
	}
}

// adapterOutcome is the per-slot fan-out result. Slots are indexed by
// adapter position so the merge never depends on completion order.
type adapterOutcome struct {
	result adapters.Result
	err    error
	took   time.Duration
}

// BuildSnapshot queries all enabled adapters concurrently and merges their
// positions into one immutable snapshot. A failed or timed-out adapter
// contributes an unavailable category, not an error; cancellation of the
// parent context is a hard failure with no partial snapshot.
func (a *Aggregator) BuildSnapshot(ctx context.Context, address string, opts Options) (model.PortfolioSnapshot, []model.SourceStatus, error) {
	enabled := a.enabledAdapters(opts.Categories)

	outcomes := make([]adapterOutcome, len(enabled))
	var wg sync.WaitGroup
	for i, adapter := range enabled {
		wg.Add(1)
		go func(slot int, adapter adapters.Adapter) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, a.adapterTimeout)
			defer cancel()

			start := time.Now()
			result, err := adapter.FetchPositions(callCtx, adapters.Request{
				Address:       address,
				IncludePrices: opts.IncludePrices,
			})
			outcomes[slot] = adapterOutcome{result: result, err: err, took: time.Since(start)}
		}(i, adapter)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return model.PortfolioSnapshot{}, nil, clierr.Wrap(clierr.CodeUnavailable, "snapshot cancelled", err)
	}

	snap := model.PortfolioSnapshot{
		Address:   address,
		Timestamp: a.now().UTC(),
	}
	statuses := make([]model.SourceStatus, 0, len(enabled))

	for i, adapter := range enabled {
		outcome := outcomes[i]
		status := model.SourceStatus{
			Name:      adapter.Name(),
			Category:  string(adapter.Category()),
			Status:    "ok",
			LatencyMS: outcome.took.Milliseconds(),
		}
		if outcome.err != nil {
			status.Status = "unavailable"
			snap.UnavailableCategories = append(snap.UnavailableCategories, adapter.Category())
			a.log.Warn().
				Err(outcome.err).
				Str("adapter", adapter.Name()).
				Str("category", string(adapter.Category())).
				Msg("position source unavailable")
			statuses = append(statuses, status)
			continue
		}
		if len(outcome.result.Failed) > 0 {
			status.Status = "partial"
			for _, failure := range outcome.result.Failed {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("%s: %s", adapter.Name(), failure))
			}
		}
		snap.Positions = append(snap.Positions, outcome.result.Positions...)
		statuses = append(statuses, status)
	}

	sort.SliceStable(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Less(snap.Positions[j])
	})
	sort.Slice(snap.UnavailableCategories, func(i, j int) bool {
		return snap.UnavailableCategories[i].Rank() < snap.UnavailableCategories[j].Rank()
	})

	snap.TotalValueUSD, snap.PricedFraction = totals(snap.Positions)
	return snap, statuses, nil
}

// AllUnavailable reports whether every enabled category failed, the total
// fetch failure the CLI maps to a distinct exit code.
func AllUnavailable(snap model.PortfolioSnapshot, statuses []model.SourceStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	return len(snap.UnavailableCategories) == len(statuses)
}

func (a *Aggregator) enabledAdapters(categories []model.Category) []adapters.Adapter {
	if len(categories) == 0 {
		return a.adapters
	}
	wanted := make(map[model.Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}
	var enabled []adapters.Adapter
	for _, adapter := range a.adapters {
		if wanted[adapter.Category()] {
			enabled = append(enabled, adapter)
		}
	}
	return enabled
}

// totals sums every non-nil USD value exactly and computes the fraction of
// positions that carry a price. Unpriced positions contribute zero to the
// sum but reduce the fraction, so partial pricing stays visible.
func totals(positions []model.Position) (decimal.Decimal, decimal.Decimal) {
	total := decimal.Zero
	priced := 0
	for _, pos := range positions {
		if pos.ValueUSD != nil {
			total = total.Add(*pos.ValueUSD)
			priced++
		}
	}
	if len(positions) == 0 {
		return total, decimal.NewFromInt(1)
	}
	fraction := decimal.NewFromInt(int64(priced)).DivRound(decimal.NewFromInt(int64(len(positions))), 4)
	return total, fraction
}
