// Package dexv3 reports concentrated-liquidity LP positions held as NFTs on
// V3-style DEXes (Enosys V3, SparkDex V3). Each NFT position is enumerated
// through the position manager, its current token amounts are derived from
// pool state, and both sides are valued independently.
package dexv3

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ncastellan/flare-portfolio/internal/adapters"
	"github.com/ncastellan/flare-portfolio/internal/chain"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/pricing"
	"github.com/ncastellan/flare-portfolio/internal/registry"
	"github.com/shopspring/decimal"
)

var (
	managerABI = chain.MustParseABI(registry.V3PositionManagerABI)
	factoryABI = chain.MustParseABI(registry.V3FactoryABI)
	poolABI    = chain.MustParseABI(registry.V3PoolABI)
)

type Adapter struct {
	caller chain.Caller
	prices pricing.Provider
	dexes  []registry.V3Dex
}

func New(caller chain.Caller, prices pricing.Provider) *Adapter {
	return &Adapter{caller: caller, prices: prices, dexes: registry.V3Dexes}
}

func (a *Adapter) Name() string { return "dex-v3" }

func (a *Adapter) Category() model.Category { return model.CategoryLP }

func (a *Adapter) FetchPositions(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	owner := common.HexToAddress(req.Address)
	var result adapters.Result
	reachable := 0
	var firstErr error

	for _, dex := range a.dexes {
		manager := common.HexToAddress(dex.PositionManager)
		values, err := a.caller.Call(ctx, manager, managerABI, "balanceOf", owner)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed = append(result.Failed, fmt.Sprintf("%s position count query failed", dex.Protocol))
			continue
		}
		reachable++
		count, ok := toBig(values, 0)
		if !ok {
			result.Failed = append(result.Failed, fmt.Sprintf("%s position count malformed", dex.Protocol))
			continue
		}

		for i := int64(0); i < count.Int64(); i++ {
			pos, failures := a.fetchOne(ctx, dex, owner, i, req.IncludePrices)
			result.Failed = append(result.Failed, failures...)
			if pos != nil {
				result.Positions = append(result.Positions, *pos)
			}
		}
	}

	if reachable == 0 && firstErr != nil {
		return adapters.Result{}, firstErr
	}
	return result, nil
}

// fetchOne resolves the i-th NFT of owner on one dex. Per-position query
// failures are reported individually and never abort the remaining scan.
func (a *Adapter) fetchOne(ctx context.Context, dex registry.V3Dex, owner common.Address, index int64, includePrices bool) (*model.Position, []string) {
	manager := common.HexToAddress(dex.PositionManager)

	values, err := a.caller.Call(ctx, manager, managerABI, "tokenOfOwnerByIndex", owner, big.NewInt(index))
	if err != nil {
		return nil, []string{fmt.Sprintf("%s position #%d lookup failed", dex.Protocol, index)}
	}
	tokenID, ok := toBig(values, 0)
	if !ok {
		return nil, []string{fmt.Sprintf("%s position #%d lookup malformed", dex.Protocol, index)}
	}

	values, err = a.caller.Call(ctx, manager, managerABI, "positions", tokenID)
	if err != nil || len(values) < 12 {
		return nil, []string{fmt.Sprintf("%s position #%s detail query failed", dex.Protocol, tokenID)}
	}

	token0Addr, ok0 := values[2].(common.Address)
	token1Addr, ok1 := values[3].(common.Address)
	fee, okFee := values[4].(*big.Int)
	tickLower, okLo := values[5].(*big.Int)
	tickUpper, okHi := values[6].(*big.Int)
	liquidity, okLiq := values[7].(*big.Int)
	if !ok0 || !ok1 || !okFee || !okLo || !okHi || !okLiq {
		return nil, []string{fmt.Sprintf("%s position #%s detail malformed", dex.Protocol, tokenID)}
	}
	if liquidity.Sign() == 0 {
		// Closed position, nothing left in range.
		return nil, nil
	}

	token0, known0 := registry.TokenByAddress(token0Addr.Hex())
	token1, known1 := registry.TokenByAddress(token1Addr.Hex())
	pair := pairLabel(token0, known0, token0Addr) + "/" + pairLabel(token1, known1, token1Addr)

	pos := model.Position{
		Category: model.CategoryLP,
		Protocol: dex.Protocol,
		Asset:    fmt.Sprintf("%s %s", pair, feePercent(fee)),
		Quantity: decimal.NewFromBigInt(liquidity, 0),
		Metadata: map[string]string{
			"token_id":   tokenID.String(),
			"token0":     token0Addr.Hex(),
			"token1":     token1Addr.Hex(),
			"fee":        fee.String(),
			"tick_lower": tickLower.String(),
			"tick_upper": tickUpper.String(),
		},
	}

	var failures []string
	poolValues, err := a.caller.Call(ctx, common.HexToAddress(dex.Factory), factoryABI, "getPool", token0Addr, token1Addr, fee)
	if err != nil {
		failures = append(failures, fmt.Sprintf("%s pool #%s lookup failed", dex.Protocol, tokenID))
		return &pos, failures
	}
	poolAddr, ok := poolValues[0].(common.Address)
	if !ok || poolAddr == (common.Address{}) {
		failures = append(failures, fmt.Sprintf("%s pool #%s not found", dex.Protocol, tokenID))
		return &pos, failures
	}
	pos.Metadata["pool"] = poolAddr.Hex()

	slot0, err := a.caller.Call(ctx, poolAddr, poolABI, "slot0")
	if err != nil || len(slot0) < 2 {
		failures = append(failures, fmt.Sprintf("%s pool #%s slot0 query failed", dex.Protocol, tokenID))
		return &pos, failures
	}
	sqrtPriceX96, okP := slot0[0].(*big.Int)
	currentTick, okT := slot0[1].(*big.Int)
	if !okP || !okT {
		failures = append(failures, fmt.Sprintf("%s pool #%s slot0 malformed", dex.Protocol, tokenID))
		return &pos, failures
	}

	inRange := currentTick.Cmp(tickLower) >= 0 && currentTick.Cmp(tickUpper) < 0
	pos.Metadata["in_range"] = strconv.FormatBool(inRange)

	amount0, amount1 := positionAmounts(liquidity, tickLower.Int64(), tickUpper.Int64(), sqrtPriceX96)
	if known0 {
		pos.Metadata["amount0"] = humanAmount(amount0, token0.Decimals)
	}
	if known1 {
		pos.Metadata["amount1"] = humanAmount(amount1, token1.Decimals)
	}

	if includePrices && known0 && known1 {
		value, priced := a.valuePair(ctx, token0, token1, amount0, amount1)
		if priced {
			pos.ValueUSD = &value
		}
	}
	return &pos, failures
}

// valuePair prices both sides of the position. A side with zero amount needs
// no price; otherwise both feeds must resolve or the position stays unpriced.
func (a *Adapter) valuePair(ctx context.Context, token0, token1 registry.Token, amount0, amount1 float64) (decimal.Decimal, bool) {
	total := decimal.Zero
	for _, side := range []struct {
		token  registry.Token
		amount float64
	}{{token0, amount0}, {token1, amount1}} {
		if side.amount <= 0 {
			continue
		}
		if side.token.Feed == "" {
			return decimal.Zero, false
		}
		price, ok, err := a.prices.Price(ctx, side.token.Feed)
		if err != nil || !ok {
			return decimal.Zero, false
		}
		human := side.amount / math.Pow10(side.token.Decimals)
		total = total.Add(decimal.NewFromFloat(human).Mul(price))
	}
	return total, true
}

// positionAmounts derives the current base-unit token amounts of a position
// from its liquidity, tick range, and the pool's current sqrt price. The
// standard V3 liquidity math is evaluated in float64, which is ample for
// display-grade valuation.
func positionAmounts(liquidity *big.Int, tickLower, tickUpper int64, sqrtPriceX96 *big.Int) (amount0, amount1 float64) {
	l, _ := new(big.Float).SetInt(liquidity).Float64()
	sqrtP, _ := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), big.NewFloat(math.Pow(2, 96))).Float64()
	sqrtA := math.Pow(1.0001, float64(tickLower)/2)
	sqrtB := math.Pow(1.0001, float64(tickUpper)/2)

	switch {
	case sqrtP <= sqrtA:
		amount0 = l * (sqrtB - sqrtA) / (sqrtA * sqrtB)
	case sqrtP >= sqrtB:
		amount1 = l * (sqrtB - sqrtA)
	default:
		amount0 = l * (sqrtB - sqrtP) / (sqrtP * sqrtB)
		amount1 = l * (sqrtP - sqrtA)
	}
	return amount0, amount1
}

func pairLabel(token registry.Token, known bool, addr common.Address) string {
	if known {
		return token.Symbol
	}
	hex := addr.Hex()
	return hex[:6] + ".." + hex[len(hex)-4:]
}

func feePercent(fee *big.Int) string {
	return fmt.Sprintf("%.2f%%", float64(fee.Int64())/10000)
}

func humanAmount(baseUnits float64, decimals int) string {
	return strconv.FormatFloat(baseUnits/math.Pow10(decimals), 'f', 6, 64)
}

func toBig(values []any, index int) (*big.Int, bool) {
	if len(values) <= index {
		return nil, false
	}
	n, ok := values[index].(*big.Int)
	return n, ok
}
