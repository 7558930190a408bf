// Package vault reports ERC-4626 yield-vault holdings. Shares are converted
// to the underlying asset via convertToAssets so the reported quantity is
// the redeemable amount, not the share count.
package vault

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

var vaultABI = chain.MustParseABI(registry.ERC4626ViewABI)

type Adapter struct {
	caller chain.Caller
	prices pricing.Provider
	vaults []registry.Vault
}

func New(caller chain.Caller, prices pricing.Provider) *Adapter {
	return &Adapter{caller: caller, prices: prices, vaults: registry.Vaults}
}

func (a *Adapter) Name() string { return "yield-vaults" }

func (a *Adapter) Category() model.Category { return model.CategoryYieldVault }

func (a *Adapter) FetchPositions(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	owner := common.HexToAddress(req.Address)
	var result adapters.Result
	reachable := 0
	var firstErr error

	for _, v := range a.vaults {
		contract := common.HexToAddress(v.Address)

		values, err := a.caller.Call(ctx, contract, vaultABI, "balanceOf", owner)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed = append(result.Failed, fmt.Sprintf("%s share balance query failed", v.Protocol))
			continue
		}
		reachable++
		shares, ok := firstBig(values)
		if !ok {
			result.Failed = append(result.Failed, fmt.Sprintf("%s share balance malformed", v.Protocol))
			continue
		}
		if shares.Sign() == 0 {
			continue
		}

		assetValues, err := a.caller.Call(ctx, contract, vaultABI, "convertToAssets", shares)
		if err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("%s share conversion query failed", v.Protocol))
			continue
		}
		assetAmount, ok := firstBig(assetValues)
		if !ok {
			result.Failed = append(result.Failed, fmt.Sprintf("%s share conversion malformed", v.Protocol))
			continue
		}

		quantity := id.FromBaseUnits(assetAmount, v.UnderlyingDecimal)
		value, priceFailed := adapters.PriceOrNil(ctx, a.prices, v.UnderlyingFeed, quantity, req.IncludePrices)
		if priceFailed {
			result.Failed = append(result.Failed, fmt.Sprintf("price %s query failed", v.UnderlyingFeed))
		}
		result.Positions = append(result.Positions, model.Position{
			Category: model.CategoryYieldVault,
			Protocol: v.Protocol,
			Asset:    v.UnderlyingSymbol,
			Quantity: quantity,
			ValueUSD: value,
			Metadata: map[string]string{
				"vault":        v.Address,
				"shares":       shares.String(),
				"share_symbol": v.ShareSymbol,
			},
		})
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
