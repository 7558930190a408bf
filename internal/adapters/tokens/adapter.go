// Package tokens reports plain wallet balances: the native FLR balance plus
// every ERC-20 on the tracked token list.
package tokens

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

var erc20ABI = chain.MustParseABI(registry.ERC20ViewABI)

type Adapter struct {
	caller chain.Caller
	prices pricing.Provider
	tokens []registry.Token
}

func New(caller chain.Caller, prices pricing.Provider) *Adapter {
	return &Adapter{caller: caller, prices: prices, tokens: registry.TrackedTokens}
}

func (a *Adapter) Name() string { return registry.WalletProtocol }

func (a *Adapter) Category() model.Category { return model.CategoryToken }

func (a *Adapter) FetchPositions(ctx context.Context, req adapters.Request) (adapters.Result, error) {
	account := common.HexToAddress(req.Address)
	var result adapters.Result

	native, err := a.caller.NativeBalance(ctx, account)
	if err != nil {
		// Without even a native balance the chain source is unreachable.
		return adapters.Result{}, err
	}
	if native.Sign() > 0 {
		quantity := id.FromBaseUnits(native, registry.NativeDecimals)
		value, priceFailed := adapters.PriceOrNil(ctx, a.prices, registry.NativeFeed, quantity, req.IncludePrices)
		if priceFailed {
			result.Failed = append(result.Failed, fmt.Sprintf("price %s query failed", registry.NativeFeed))
		}
		result.Positions = append(result.Positions, model.Position{
			Category: model.CategoryToken,
			Protocol: registry.WalletProtocol,
			Asset:    registry.NativeSymbol,
			Quantity: quantity,
			ValueUSD: value,
		})
	}

	for _, token := range a.tokens {
		values, err := a.caller.Call(ctx, common.HexToAddress(token.Address), erc20ABI, "balanceOf", account)
		if err != nil {
			result.Failed = append(result.Failed, fmt.Sprintf("%s balance query failed", token.Symbol))
			continue
		}
		balance, ok := first(values)
		if !ok || balance.Sign() == 0 {
			continue
		}
		quantity := id.FromBaseUnits(balance, token.Decimals)
		value, priceFailed := adapters.PriceOrNil(ctx, a.prices, token.Feed, quantity, req.IncludePrices)
		if priceFailed {
			result.Failed = append(result.Failed, fmt.Sprintf("price %s query failed", token.Feed))
		}
		result.Positions = append(result.Positions, model.Position{
			Category: model.CategoryToken,
			Protocol: registry.WalletProtocol,
			Asset:    token.Symbol,
			Quantity: quantity,
			ValueUSD: value,
			Metadata: map[string]string{"contract": token.Address},
		})
	}

	return result, nil
}

func first(values []any) (*big.Int, bool) {
	if len(values) == 0 {
		return nil, false
	}
	n, ok := values[0].(*big.Int)
	return n, ok
}
