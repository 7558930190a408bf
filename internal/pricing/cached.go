package pricing

import (
	"context"
	"time"

	"github.com/ncastellan/flare-portfolio/internal/pricecache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Cached fronts another provider with the SQLite price cache. Cache failures
// degrade to the underlying source; they never surface as pricing errors.
type Cached struct {
	source Provider
	store  *pricecache.Store
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCached(source Provider, store *pricecache.Store, ttl time.Duration, log zerolog.Logger) *Cached {
	return &Cached{source: source, store: store, ttl: ttl, log: log}
}

func (c *Cached) Price(ctx context.Context, feed string) (decimal.Decimal, bool, error) {
	if c.store != nil {
		price, hit, err := c.store.Get(feed, c.ttl)
		if err != nil {
			c.log.Debug().Err(err).Str("feed", feed).Msg("price cache read failed")
		} else if hit {
			return price, true, nil
		}
	}

	price, ok, err := c.source.Price(ctx, feed)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}

	if c.store != nil {
		if err := c.store.Set(feed, price); err != nil {
			c.log.Debug().Err(err).Str("feed", feed).Msg("price cache write failed")
		}
	}
	return price, true, nil
}
