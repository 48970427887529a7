package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type TickerFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

type cachedPrice struct {
	price decimal.Decimal
	ts    time.Time
}

// PriceCache memoizes spot prices so a refresh cycle over many users prices
// each asset once.
type PriceCache struct {
	fetch TickerFunc
	ttl   time.Duration
	log   *logrus.Logger
	now   func() time.Time

	mu     sync.Mutex
	prices map[string]cachedPrice
}

func NewPriceCache(fetch TickerFunc, ttl time.Duration, log *logrus.Logger) *PriceCache {
	return &PriceCache{fetch: fetch, ttl: ttl, log: log, now: time.Now, prices: map[string]cachedPrice{}}
}

func (p *PriceCache) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	cached, ok := p.prices[symbol]
	p.mu.Unlock()
	if ok && p.now().Sub(cached.ts) < p.ttl {
		return cached.price, nil
	}

	price, err := p.fetch(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	p.prices[symbol] = cachedPrice{price: price, ts: p.now()}
	p.mu.Unlock()
	return price, nil
}

// Start evicts expired entries on every tick until ctx is done.
func (p *PriceCache) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.log.Info("price cache janitor stopping")
				return
			case <-ticker.C:
				p.evict()
			}
		}
	}()
}

func (p *PriceCache) evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for sym, c := range p.prices {
		if p.now().Sub(c.ts) >= p.ttl {
			delete(p.prices, sym)
			n++
		}
	}
	return n
}
