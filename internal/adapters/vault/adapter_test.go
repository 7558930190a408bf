package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ncastellan/flare-portfolio/internal/adapters"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/pricing"
	"github.com/ncastellan/flare-portfolio/internal/registry"
)

const testAccount = "0xabcdef0123456789abcdef0123456789abcdef01"

type fakeCaller struct {
	shares     *big.Int
	assets     *big.Int
	balanceErr error
	convertErr error
}

func (f *fakeCaller) Call(_ context.Context, _ common.Address, _ abi.ABI, method string, _ ...any) ([]any, error) {
	switch method {
	case "balanceOf":
		if f.balanceErr != nil {
			return nil, f.balanceErr
		}
		return []any{f.shares}, nil
	case "convertToAssets":
		if f.convertErr != nil {
			return nil, f.convertErr
		}
		return []any{f.assets}, nil
	default:
		return nil, errors.New("unexpected method " + method)
	}
}

func (f *fakeCaller) NativeBalance(_ context.Context, _ common.Address) (*big.Int, error) {
	return nil, errors.New("not used")
}

func usdcPrices() pricing.Provider {
	return pricing.NewStatic(map[string]decimal.Decimal{"USDC/USD": decimal.RequireFromString("1")})
}

func TestFetchPositions(t *testing.T) {
	// 100 kUSDC shares redeem for 105 USDC.e (6 decimals).
	caller := &fakeCaller{shares: big.NewInt(100_000_000), assets: big.NewInt(105_000_000)}

	result, err := New(caller, usdcPrices()).FetchPositions(context.Background(), adapters.Request{
		Address:       testAccount,
		IncludePrices: true,
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(result.Positions))
	}

	pos := result.Positions[0]
	if pos.Category != model.CategoryYieldVault {
		t.Fatalf("category = %s", pos.Category)
	}
	if pos.Asset != registry.Vaults[0].UnderlyingSymbol {
		t.Fatalf("asset = %s, want the underlying symbol", pos.Asset)
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("quantity = %s, want the redeemable amount", pos.Quantity)
	}
	if pos.ValueUSD == nil || !pos.ValueUSD.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("value = %v, want 105", pos.ValueUSD)
	}
	if pos.Metadata["share_symbol"] != registry.Vaults[0].ShareSymbol {
		t.Fatalf("share_symbol metadata = %q", pos.Metadata["share_symbol"])
	}
}

func TestFetchPositionsZeroShares(t *testing.T) {
	caller := &fakeCaller{shares: big.NewInt(0)}
	result, err := New(caller, usdcPrices()).FetchPositions(context.Background(), adapters.Request{Address: testAccount})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Positions) != 0 {
		t.Fatalf("zero shares should produce no position")
	}
}

func TestFetchPositionsAllVaultsUnreachable(t *testing.T) {
	caller := &fakeCaller{balanceErr: errors.New("rpc down")}
	_, err := New(caller, usdcPrices()).FetchPositions(context.Background(), adapters.Request{Address: testAccount})
	if err == nil {
		t.Fatalf("no reachable vault must fail the category")
	}
}

func TestFetchPositionsConversionFailure(t *testing.T) {
	caller := &fakeCaller{shares: big.NewInt(100_000_000), convertErr: errors.New("call reverted")}

	result, err := New(caller, usdcPrices()).FetchPositions(context.Background(), adapters.Request{Address: testAccount})
	if err != nil {
		t.Fatalf("conversion failure must degrade, not fail: %v", err)
	}
	if len(result.Positions) != 0 {
		t.Fatalf("a position without a redeemable amount must be dropped, got %d", len(result.Positions))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("failed = %v, want the conversion flagged", result.Failed)
	}
}
