// Package marketdata streams live quotes into the price cache. The feed is
// an external collaborator of the core: it only ever writes to the cache
// and never touches the ledger or the risk state.
package marketdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/pricecache"
)

// tickerMessage is the combined book-ticker / mark-price payload pushed by
// the upstream stream.
type tickerMessage struct {
	Symbol      string `json:"s"`
	BestBid     string `json:"b"`
	BestAsk     string `json:"a"`
	MarkPrice   string `json:"p"`
	FundingRate string `json:"r"`
}

// Feed is a reconnecting websocket client for one combined stream URL.
type Feed struct {
	log     *zap.Logger
	url     string
	symbols []string
	cache   *pricecache.Cache
	backoff time.Duration
}

func NewFeed(url string, symbols []string, cache *pricecache.Cache, log *zap.Logger) *Feed {
	return &Feed{
		log:     log,
		url:     url,
		symbols: symbols,
		cache:   cache,
		backoff: time.Second,
	}
}

// Run connects and consumes the stream until the context is cancelled,
// reconnecting with a capped backoff on any error.
func (f *Feed) Run(ctx context.Context) {
	backoff := f.backoff
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			f.log.Warn("market data stream dropped, reconnecting",
				zap.Error(err), zap.Duration("backoff", backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if len(f.symbols) > 0 {
		sub := map[string]any{"method": "SUBSCRIBE", "params": f.symbols}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
	}
	f.log.Info("market data stream connected", zap.String("url", f.url))

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(payload)
	}
}

func (f *Feed) handle(payload []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Symbol == "" {
		return
	}

	quote, _ := f.cache.Get(msg.Symbol)
	if v, err := decimal.NewFromString(msg.BestBid); err == nil && v.IsPositive() {
		quote.Bid = v
	}
	if v, err := decimal.NewFromString(msg.BestAsk); err == nil && v.IsPositive() {
		quote.Ask = v
	}
	if v, err := decimal.NewFromString(msg.MarkPrice); err == nil && v.IsPositive() {
		quote.Mark = v
	}
	if v, err := decimal.NewFromString(msg.FundingRate); err == nil {
		quote.FundingRate = v
	}
	f.cache.Update(msg.Symbol, quote)
}
