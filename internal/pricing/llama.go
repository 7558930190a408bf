package pricing

import (
	"context"
	"fmt"

	"github.com/ncastellan/flare-portfolio/internal/httpx"
	"github.com/shopspring/decimal"
)

const llamaBase = "https://coins.llama.fi"

// llamaCoins maps FTSO feed names to DefiLlama coin identifiers. Feeds
// without a mapping are simply unavailable from this source.
var llamaCoins = map[string]string{
	"FLR/USD":  "coingecko:flare-networks",
	"XRP/USD":  "coingecko:ripple",
	"USDC/USD": "coingecko:usd-coin",
	"USDT/USD": "coingecko:tether",
	"ETH/USD":  "coingecko:ethereum",
	"BTC/USD":  "coingecko:bitcoin",
}

// Llama is the HTTP failover price source, consulted when the on-chain
// oracle cannot serve a feed.
type Llama struct {
	http    *httpx.Client
	baseURL string
}

func NewLlama(httpClient *httpx.Client) *Llama {
	return &Llama{http: httpClient, baseURL: llamaBase}
}

type llamaResponse struct {
	Coins map[string]struct {
		Price float64 `json:"price"`
	} `json:"coins"`
}

func (l *Llama) Price(ctx context.Context, feed string) (decimal.Decimal, bool, error) {
	coin, ok := llamaCoins[feed]
	if !ok {
		return decimal.Zero, false, nil
	}

	var resp llamaResponse
	url := fmt.Sprintf("%s/prices/current/%s", l.baseURL, coin)
	if _, err := httpx.GetJSON(ctx, l.http, url, &resp); err != nil {
		return decimal.Zero, false, err
	}

	entry, ok := resp.Coins[coin]
	if !ok || entry.Price <= 0 {
		return decimal.Zero, false, nil
	}
	return decimal.NewFromFloat(entry.Price), true, nil
}
