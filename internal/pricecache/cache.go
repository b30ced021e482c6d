// Package pricecache holds the latest market quotes pushed by the
// market-data collaborators. It is the only component the feed writes to;
// the valuator and shock engine read from it.
package pricecache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known market state for one instrument.
type Quote struct {
	Bid         decimal.Decimal `json:"bid"`
	Ask         decimal.Decimal `json:"ask"`
	Mark        decimal.Decimal `json:"mark"`
	FundingRate decimal.Decimal `json:"funding_rate"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Mid returns the bid/ask midpoint, or zero when either side is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Cache is a concurrency-safe map of symbol to latest quote. Updates never
// block readers for longer than a map write.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func New() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Update stores the latest quote for a symbol, stamping the update time.
func (c *Cache) Update(symbol string, q Quote) {
	q.UpdatedAt = time.Now().UTC()
	c.mu.Lock()
	c.quotes[symbol] = q
	c.mu.Unlock()
}

// Get returns the latest quote for a symbol, if any.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Symbols returns the set of symbols with a quote.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for s := range c.quotes {
		out = append(out, s)
	}
	return out
}
