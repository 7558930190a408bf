// Package stability reports stability-pool deposits: the compounded
// stablecoin deposit plus any pending collateral gain from liquidations.
package stability

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ncastellan/flare-portfolio/internal/adapters"
	"github.com/ncastellan/flare-portfolio/internal/chain"
	"github.com/ncastellan/flare-portfolio/internal/id"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/pricing"
	"github.com/ncastellan/flare-portfolio/internal/registry"
)

var poolABI = chain.MustParseABI(registry.StabilityPoolABI)

type Adapter struct {
	caller chain.Caller
	prices pricing.Provider
	pools  []registry.StabilityPool
}

func New(caller chain.Caller, prices pricing.Provider) *Adapter {
	return &Adapter{caller: caller, prices: prices, pools: registry.StabilityPools}
}

func (a *Adapter) Name() string { return "stability-pools" }

func (a *Adapter) Category() model.Category { return model.CategoryStabilityPool }

func (a *Adapter) FetchPositions(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	depositor := common.HexToAddress(req.Address)
	var result adapters.Result
	reachable := 0
	var firstErr error

	for _, pool := range a.pools {
		contract := common.HexToAddress(pool.Address)

		values, err := a.caller.Call(ctx, contract, poolABI, "getCompoundedDeposit", depositor)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed = append(result.Failed, fmt.Sprintf("%s deposit query failed", pool.Protocol))
			continue
		}
		reachable++
		deposit, ok := firstBig(values)
		if !ok {
			result.Failed = append(result.Failed, fmt.Sprintf("%s deposit malformed", pool.Protocol))
			continue
		}
		if deposit.Sign() == 0 {
			continue
		}

		quantity := id.FromBaseUnits(deposit, pool.TokenDecimals)
		value, priceFailed := adapters.PriceOrNil(ctx, a.prices, pool.DepositFeed, quantity, req.IncludePrices)
		if priceFailed {
			result.Failed = append(result.Failed, fmt.Sprintf("price %s query failed", pool.DepositFeed))
		}
		pos := model.Position{
			Category: model.CategoryStabilityPool,
			Protocol: pool.Protocol,
			Asset:    pool.DepositSymbol,
			Quantity: quantity,
			ValueUSD: value,
			Metadata: map[string]string{"pool": pool.Address},
		}

		// Pending collateral gain rides along as metadata; it is claimable
		// yield, not a separate deposit.
		gainValues, err := a.caller.Call(ctx, contract, poolABI, "getDepositorCollateralGain", depositor)
		if err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("%s collateral gain query failed", pool.Protocol))
		} else if gain, ok := firstBig(gainValues); ok && gain.Sign() > 0 {
			pos.Metadata["pending_gain"] = id.FromBaseUnits(gain, registry.NativeDecimals).String()
			pos.Metadata["pending_gain_asset"] = pool.GainSymbol
		}

		result.Positions = append(result.Positions, pos)
	}

	if reachable == 0 && firstErr != nil {
		return adapters.Result{}, firstErr
	}
	return result, nil
}

func firstBig(values []any) (*big.Int, bool) {
	if len(values) == 0 {
		return nil, false
	}
	n, ok := values[0].(*big.Int)
	return n, ok
}
