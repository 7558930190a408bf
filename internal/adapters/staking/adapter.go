// Package staking reports the liquid-staked FLR balance. The sFLR share
// balance is converted to its FLR redemption value through the staking
// contract's exchange rate, so the quantity is denominated in FLR.
package staking

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ncastellan/flare-portfolio/internal/adapters"
	"github.com/ncastellan/flare-portfolio/internal/chain"
	"github.com/ncastellan/flare-portfolio/internal/id"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/pricing"
	"github.com/ncastellan/flare-portfolio/internal/registry"
)

var sflrABI = chain.MustParseABI(registry.SFLRABI)

type Adapter struct {
	caller chain.Caller
	prices pricing.Provider
}

func New(caller chain.Caller, prices pricing.Provider) *Adapter {
	return &Adapter{caller: caller, prices: prices}
}

func (a *Adapter) Name() string { return registry.StakingProtocol }

func (a *Adapter) Category() model.Category { return model.CategoryStaking }

func (a *Adapter) FetchPositions(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	owner := common.HexToAddress(req.Address)
	contract := common.HexToAddress(registry.SFLRAddress)
	var result adapters.Result

	values, err := a.caller.Call(ctx, contract, sflrABI, "balanceOf", owner)
	if err != nil {
		return adapters.Result{}, err
	}
	shares, ok := firstBig(values)
	if !ok || shares.Sign() == 0 {
		return result, nil
	}

	pooled := shares
	converted, err := a.caller.Call(ctx, contract, sflrABI, "getPooledFlrByShares", shares)
	if err != nil {
		// Fall back to a 1:1 estimate but flag the failed conversion.
		result.Failed = append(result.Failed, "sflr share conversion query failed")
	} else if flr, ok := firstBig(converted); ok {
		pooled = flr
	}

	quantity := id.FromBaseUnits(pooled, registry.NativeDecimals)
	value, priceFailed := adapters.PriceOrNil(ctx, a.prices, registry.NativeFeed, quantity, req.IncludePrices)
	if priceFailed {
		result.Failed = append(result.Failed, "price FLR/USD query failed")
	}
	result.Positions = append(result.Positions, model.Position{
		Category: model.CategoryStaking,
		Protocol: registry.StakingProtocol,
		Asset:    registry.NativeSymbol,
		Quantity: quantity,
		ValueUSD: value,
		Metadata: map[string]string{
			"contract": registry.SFLRAddress,
			"shares":   shares.String(),
		},
	})
	return result, nil
}

func firstBig(values []any) (*big.Int, bool) {
	if len(values) == 0 {
		return nil, false
	}
	n, ok := values[0].(*big.Int)
	return n, ok
}
