package staking

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
)

const testAccount = "0xabcdef0123456789abcdef0123456789abcdef01"

type fakeCaller struct {
	shares     *big.Int
	pooled     *big.Int
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
	case "getPooledFlrByShares":
		if f.convertErr != nil {
			return nil, f.convertErr
		}
		return []any{f.pooled}, nil
	default:
		return nil, errors.New("unexpected method " + method)
	}
}

func (f *fakeCaller) NativeBalance(_ context.Context, _ common.Address) (*big.Int, error) {
	return nil, errors.New("not used")
}

func flrPrices() pricing.Provider {
	return pricing.NewStatic(map[string]decimal.Decimal{"FLR/USD": decimal.RequireFromString("0.02")})
}

func wei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestFetchPositions(t *testing.T) {
	// 100 sFLR shares redeem for 112 FLR.
	caller := &fakeCaller{shares: wei(100), pooled: wei(112)}

	result, err := New(caller, flrPrices()).FetchPositions(context.Background(), adapters.Request{
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
	if pos.Category != model.CategoryStaking || pos.Asset != "FLR" {
		t.Fatalf("position = %+v", pos)
	}
	if !pos.Quantity.Equal(decimal.NewFromInt(112)) {
		t.Fatalf("quantity = %s, want the FLR redemption value", pos.Quantity)
	}
	if pos.ValueUSD == nil || !pos.ValueUSD.Equal(decimal.RequireFromString("2.24")) {
		t.Fatalf("value = %v, want 2.24", pos.ValueUSD)
	}
	if pos.Metadata["shares"] != wei(100).String() {
		t.Fatalf("shares metadata = %q", pos.Metadata["shares"])
	}
}

func TestFetchPositionsZeroBalance(t *testing.T) {
	caller := &fakeCaller{shares: big.NewInt(0)}
	result, err := New(caller, flrPrices()).FetchPositions(context.Background(), adapters.Request{Address: testAccount})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(result.Positions) != 0 {
		t.Fatalf("zero stake should produce no position, got %d", len(result.Positions))
	}
}

func TestFetchPositionsUnreachable(t *testing.T) {
	caller := &fakeCaller{balanceErr: errors.New("rpc down")}
	_, err := New(caller, flrPrices()).FetchPositions(context.Background(), adapters.Request{Address: testAccount})
	if err == nil {
		t.Fatalf("unreachable staking contract must fail the category")
	}
}

func TestFetchPositionsConversionFallback(t *testing.T) {
	caller := &fakeCaller{shares: wei(100), convertErr: errors.New("call reverted")}

	result, err := New(caller, flrPrices()).FetchPositions(context.Background(), adapters.Request{
		Address:       testAccount,
		IncludePrices: true,
	})
	if err != nil {
		t.Fatalf("conversion failure must degrade, not fail: %v", err)
	}
	if len(result.Failed) != 1 {
		t.Fatalf("failed = %v, want the conversion flagged", result.Failed)
	}
	if len(result.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(result.Positions))
	}
	// 1:1 estimate when the exchange rate is unavailable.
	if !result.Positions[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("quantity = %s, want 100", result.Positions[0].Quantity)
	}
}
