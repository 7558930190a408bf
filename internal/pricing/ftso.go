package pricing

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ncastellan/flare-portfolio/internal/chain"
	"github.com/ncastellan/flare-portfolio/internal/registry"
	"github.com/shopspring/decimal"
)

var ftsoABI = chain.MustParseABI(registry.FtsoV2ABI)

// FTSO reads block-latency feeds from the FtsoV2 contract. Feeds the oracle
// does not publish resolve to ok=false rather than an error.
type FTSO struct {
	caller   chain.Caller
	contract common.Address
}

func NewFTSO(caller chain.Caller) *FTSO {
	return &FTSO{
		caller:   caller,
		contract: common.HexToAddress(registry.FtsoV2Address),
	}
}

func (f *FTSO) Price(ctx context.Context, feed string) (decimal.Decimal, bool, error) {
	feedID, err := registry.FeedID(feed)
	if err != nil {
		return decimal.Zero, false, nil
	}

	values, err := f.caller.Call(ctx, f.contract, ftsoABI, "getFeedById", feedID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(values) < 2 {
		return decimal.Zero, false, nil
	}

	raw, ok := values[0].(*big.Int)
	if !ok {
		return decimal.Zero, false, nil
	}
	feedDecimals, ok := values[1].(int8)
	if !ok {
		return decimal.Zero, false, nil
	}
	if raw.Sign() == 0 {
		// The oracle returns zero for feed ids it has never published.
		return decimal.Zero, false, nil
	}
	return decimal.NewFromBigInt(raw, -int32(feedDecimals)), true, nil
}
