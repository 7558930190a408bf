// Package compare computes portfolio deltas between a freshly built
// snapshot and the nearest historical record.
package compare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncastellan/flare-portfolio/internal/aggregate"
	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/store"
	"github.com/shopspring/decimal"
)

var decimalHundred = decimal.NewFromInt(100)

// SnapshotBuilder is the slice of the aggregator the comparator consumes.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, address string, opts aggregate.Options) (model.PortfolioSnapshot, []model.SourceStatus, error)
}

// HistoryReader is the slice of the snapshot store the comparator consumes.
type HistoryReader interface {
	NearestBefore(address string, targetTime time.Time) (model.SnapshotRecord, error)
}

type Comparator struct {
	builder SnapshotBuilder
	history HistoryReader
	now     func() time.Time
}

func New(builder SnapshotBuilder, history HistoryReader) *Comparator {
	return &Comparator{builder: builder, history: history, now: time.Now}
}

// Compare builds a live snapshot and diffs it against the most recent stored
// record at or before now-offset. The current side is never served from the
// store; the baseline is never fabricated when history is missing.
func (c *Comparator) Compare(ctx context.Context, address string, offset time.Duration, opts aggregate.Options) (model.ComparisonResult, []model.SourceStatus, error) {
	targetTime := c.now().Add(-offset)

	baseline, err := c.history.NearestBefore(address, targetTime)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.ComparisonResult{}, nil, clierr.New(clierr.CodeNoBaseline, fmt.Sprintf(
				"no snapshot found before %s for %s; run `portfolio track` to start a history",
				targetTime.UTC().Format(time.RFC3339), address))
		}
		return model.ComparisonResult{}, nil, err
	}

	snap, statuses, err := c.builder.BuildSnapshot(ctx, address, opts)
	if err != nil {
		return model.ComparisonResult{}, statuses, err
	}
	if aggregate.AllUnavailable(snap, statuses) {
		return model.ComparisonResult{}, statuses, clierr.New(clierr.CodeNoCurrent,
			"every position source is unavailable; cannot build a current snapshot to compare")
	}

	result := model.ComparisonResult{
		Current:  model.RecordFromSnapshot(snap),
		Baseline: baseline,
	}
	for _, metric := range model.AllMetrics() {
		current := result.Current.MetricValue(metric)
		base := baseline.MetricValue(metric)
		delta := model.MetricDelta{
			Metric:        metric,
			Current:       current,
			Baseline:      base,
			DeltaAbsolute: current.Sub(base),
		}
		if !base.IsZero() {
			pct := delta.DeltaAbsolute.DivRound(base, 6).Mul(decimalHundred)
			delta.DeltaPercent = &pct
		}
		result.Deltas = append(result.Deltas, delta)
	}
	return result, statuses, nil
}
