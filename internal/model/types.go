package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Command   string         `json:"command"`
	Sources   []SourceStatus `json:"sources,omitempty"`
	Partial   bool           `json:"partial"`
}

// SourceStatus reports the outcome of one position-source fetch.
type SourceStatus struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// Category classifies positions by the kind of protocol that holds them.
// The declaration order is the canonical sort order for snapshots.
type Category string

const (
	CategoryToken         Category = "token"
	CategoryLP            Category = "lp"
	CategoryStabilityPool Category = "stability-pool"
	CategoryYieldVault    Category = "yield-vault"
	CategoryStaking       Category = "staking"
)

var categoryRank = map[Category]int{
	CategoryToken:         0,
	CategoryLP:            1,
	CategoryStabilityPool: 2,
	CategoryYieldVault:    3,
	CategoryStaking:       4,
}

// AllCategories returns every known category in canonical order.
func AllCategories() []Category {
	return []Category{
		CategoryToken,
		CategoryLP,
		CategoryStabilityPool,
		CategoryYieldVault,
		CategoryStaking,
	}
}

// ParseCategory resolves user input to a known category.
func ParseCategory(input string) (Category, bool) {
	c := Category(input)
	_, ok := categoryRank[c]
	return c, ok
}

// Rank returns the canonical sort rank of the category. Unknown categories
// sort last.
func (c Category) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return len(categoryRank)
}

// Position is one discrete holding: a token balance, an LP stake, a
// stability-pool deposit, vault shares, or a staked balance.
//
// Quantity is the ground truth and is always present; ValueUSD is attached
// best-effort at fetch time and is nil (never zero) when the asset could not
// be priced.
type Position struct {
	Category Category          `json:"category"`
	Protocol string            `json:"protocol"`
	Asset    string            `json:"asset"`
	Quantity decimal.Decimal   `json:"quantity"`
	ValueUSD *decimal.Decimal  `json:"value_usd"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Less orders positions by (category, protocol, asset), the canonical
// snapshot ordering.
func (p Position) Less(other Position) bool {
	if p.Category != other.Category {
		return p.Category.Rank() < other.Category.Rank()
	}
	if p.Protocol != other.Protocol {
		return p.Protocol < other.Protocol
	}
	return p.Asset < other.Asset
}

// PortfolioSnapshot is a frozen view of one address at one instant. It is
// constructed once by the aggregator and never mutated afterwards.
type PortfolioSnapshot struct {
	Address               string          `json:"address"`
	Timestamp             time.Time       `json:"timestamp"`
	Positions             []Position      `json:"positions"`
	TotalValueUSD         decimal.Decimal `json:"total_value_usd"`
	PricedFraction        decimal.Decimal `json:"priced_fraction"`
	UnavailableCategories []Category      `json:"unavailable_categories,omitempty"`
	Warnings              []string        `json:"warnings,omitempty"`
}

// Metric names every tracked field persisted in a SnapshotRecord.
type Metric string

const (
	MetricTotalUSD         Metric = "total_usd"
	MetricTokenUSD         Metric = "token_usd"
	MetricLPUSD            Metric = "lp_usd"
	MetricStabilityPoolUSD Metric = "stability_pool_usd"
	MetricYieldVaultUSD    Metric = "yield_vault_usd"
	MetricStakingUSD       Metric = "staking_usd"
)

// AllMetrics returns every tracked metric in display order.
func AllMetrics() []Metric {
	return []Metric{
		MetricTotalUSD,
		MetricTokenUSD,
		MetricLPUSD,
		MetricStabilityPoolUSD,
		MetricYieldVaultUSD,
		MetricStakingUSD,
	}
}

// SnapshotRecord is the persisted, append-only form of a snapshot: the total
// plus fixed per-category subtotals. Per-position detail is intentionally not
// retained.
type SnapshotRecord struct {
	Address          string          `json:"address"`
	Timestamp        time.Time       `json:"timestamp"`
	TotalUSD         decimal.Decimal `json:"total_usd"`
	TokenUSD         decimal.Decimal `json:"token_usd"`
	LPUSD            decimal.Decimal `json:"lp_usd"`
	StabilityPoolUSD decimal.Decimal `json:"stability_pool_usd"`
	YieldVaultUSD    decimal.Decimal `json:"yield_vault_usd"`
	StakingUSD       decimal.Decimal `json:"staking_usd"`
}

// MetricValue returns the value of one tracked metric.
func (r SnapshotRecord) MetricValue(m Metric) decimal.Decimal {
	switch m {
	case MetricTotalUSD:
		return r.TotalUSD
	case MetricTokenUSD:
		return r.TokenUSD
	case MetricLPUSD:
		return r.LPUSD
	case MetricStabilityPoolUSD:
		return r.StabilityPoolUSD
	case MetricYieldVaultUSD:
		return r.YieldVaultUSD
	case MetricStakingUSD:
		return r.StakingUSD
	default:
		return decimal.Zero
	}
}

// RecordFromSnapshot reduces a snapshot to its persisted summary form.
// Positions with nil ValueUSD contribute nothing to any subtotal.
func RecordFromSnapshot(snap PortfolioSnapshot) SnapshotRecord {
	rec := SnapshotRecord{
		Address:   snap.Address,
		Timestamp: snap.Timestamp.UTC(),
		TotalUSD:  snap.TotalValueUSD,
	}
	for _, pos := range snap.Positions {
		if pos.ValueUSD == nil {
			continue
		}
		switch pos.Category {
		case CategoryToken:
			rec.TokenUSD = rec.TokenUSD.Add(*pos.ValueUSD)
		case CategoryLP:
			rec.LPUSD = rec.LPUSD.Add(*pos.ValueUSD)
		case CategoryStabilityPool:
			rec.StabilityPoolUSD = rec.StabilityPoolUSD.Add(*pos.ValueUSD)
		case CategoryYieldVault:
			rec.YieldVaultUSD = rec.YieldVaultUSD.Add(*pos.ValueUSD)
		case CategoryStaking:
			rec.StakingUSD = rec.StakingUSD.Add(*pos.ValueUSD)
		}
	}
	return rec
}

// MetricDelta is the change of one tracked metric between two records.
// DeltaPercent is nil when the baseline is zero: the relative change is
// undefined, never infinity.
type MetricDelta struct {
	Metric        Metric           `json:"metric"`
	Current       decimal.Decimal  `json:"current"`
	Baseline      decimal.Decimal  `json:"baseline"`
	DeltaAbsolute decimal.Decimal  `json:"delta_absolute"`
	DeltaPercent  *decimal.Decimal `json:"delta_percent"`
}

// ComparisonResult is derived on demand by the comparator and never persisted.
type ComparisonResult struct {
	Current  SnapshotRecord `json:"current"`
	Baseline SnapshotRecord `json:"baseline"`
	Deltas   []MetricDelta  `json:"deltas"`
}
