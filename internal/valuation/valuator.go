// Package valuation combines the execution ledger's position book with the
// price cache into live positions, per-asset groups and desk-level metrics
// on a fixed cadence. Each tick computes a complete snapshot and publishes
// it atomically; consumers never observe a partial tick.
package valuation

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/pricecache"
	"github.com/meridianhft/deskrisk/pkg/metrics"
)

// fundingEventsPerDay reflects the 8-hour funding cycle of the perp venues
// this desk trades. It is a modeling assumption, not a universal truth; the
// annualization below is wrong for venues with a different cycle.
const fundingEventsPerDay = 3

var (
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
	aprFactor   = decimal.NewFromInt(fundingEventsPerDay * 365 * 100)
)

// LivePosition is a position valued against the latest mark. PriceStale is
// set when no quote was available and the entry price was substituted.
type LivePosition struct {
	ledger.Position
	MarkPrice     decimal.Decimal `json:"mark_price"`
	NotionalUsd   decimal.Decimal `json:"notional_usd"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	PnlPercent    decimal.Decimal `json:"pnl_percent"`
	PriceStale    bool            `json:"price_stale"`
}

// SignedNotional returns the notional with a positive sign for LONG and a
// negative sign for SHORT.
func (lp *LivePosition) SignedNotional() decimal.Decimal {
	if lp.Side == ledger.SideShort {
		return lp.NotionalUsd.Neg()
	}
	return lp.NotionalUsd
}

// PortfolioGroup aggregates live positions sharing a base asset.
type PortfolioGroup struct {
	BaseAsset    string          `json:"base_asset"`
	Positions    []LivePosition  `json:"positions"`
	NetDeltaBase decimal.Decimal `json:"net_delta_base"`
	NetDeltaUsd  decimal.Decimal `json:"net_delta_usd"`
	TotalPnl     decimal.Decimal `json:"total_pnl"`
}

// RiskMetrics are the desk-level figures derived from one snapshot.
type RiskMetrics struct {
	TotalEquity   decimal.Decimal `json:"total_equity"`
	LongExposure  decimal.Decimal `json:"long_exposure"`
	ShortExposure decimal.Decimal `json:"short_exposure"`
	GrossExposure decimal.Decimal `json:"gross_exposure"`
	NetExposure   decimal.Decimal `json:"net_exposure"`
	TotalPnl      decimal.Decimal `json:"total_pnl"`
	Leverage      decimal.Decimal `json:"leverage"`
}

// CarryMetric reports basis and annualized funding per base asset.
type CarryMetric struct {
	BaseAsset  string          `json:"base_asset"`
	SpotPrice  decimal.Decimal `json:"spot_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	BasisBps   decimal.Decimal `json:"basis_bps"`
	FundingApr decimal.Decimal `json:"funding_apr"`
}

// Snapshot is one complete, immutable valuation result. Version increases
// by one per published snapshot so consumers can diff instead of polling.
type Snapshot struct {
	Version          uint64           `json:"version"`
	PositionsVersion uint64           `json:"positions_version"`
	TakenAt          time.Time        `json:"taken_at"`
	Positions        []LivePosition   `json:"positions"`
	Groups           []PortfolioGroup `json:"groups"`
	Metrics          RiskMetrics      `json:"metrics"`
	Carry            []CarryMetric    `json:"carry"`
}

// PositionSource is the read-only view of the ledger the valuator needs.
type PositionSource interface {
	Positions() []ledger.Position
	PositionsVersion() uint64
}

// Valuator runs the periodic valuation tick.
type Valuator struct {
	log      *zap.Logger
	source   PositionSource
	prices   *pricecache.Cache
	wallets  map[string]decimal.Decimal
	interval time.Duration

	mu      sync.RWMutex
	current Snapshot
	subs    []chan Snapshot
}

// New builds a valuator. wallets maps account ids to wallet balances; their
// sum plus unrealized PnL is the desk equity. The map is copied.
func New(source PositionSource, prices *pricecache.Cache, wallets map[string]decimal.Decimal, interval time.Duration, log *zap.Logger) *Valuator {
	w := make(map[string]decimal.Decimal, len(wallets))
	for k, v := range wallets {
		w[k] = v
	}
	return &Valuator{
		log:      log,
		source:   source,
		prices:   prices,
		wallets:  w,
		interval: interval,
	}
}

// Run ticks until the context is cancelled. A failed tick keeps the last
// published snapshot and retries on the next tick.
func (v *Valuator) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.tick()
		}
	}
}

// Tick computes and publishes one snapshot immediately. Exposed for
// deterministic tests and for the demo seeder's first paint.
func (v *Valuator) Tick() {
	v.tick()
}

func (v *Valuator) tick() {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("valuation tick failed, keeping last snapshot", zap.Any("panic", r))
		}
	}()

	positions := v.source.Positions()
	snap := Snapshot{
		PositionsVersion: v.source.PositionsVersion(),
		TakenAt:          time.Now().UTC(),
		Positions:        make([]LivePosition, 0, len(positions)),
	}

	stale := 0
	for _, p := range positions {
		lp := v.value(p)
		if lp.PriceStale {
			stale++
		}
		snap.Positions = append(snap.Positions, lp)
	}
	if stale > 0 {
		metrics.StalePriceFallbacks.Add(float64(stale))
		v.log.Warn("positions valued at entry price fallback", zap.Int("count", stale))
	}

	snap.Groups = groupByAsset(snap.Positions)
	snap.Metrics = v.deskMetrics(snap.Positions)
	snap.Carry = v.carry(snap.Groups)

	v.mu.Lock()
	snap.Version = v.current.Version + 1
	v.current = snap
	subs := v.subs
	v.mu.Unlock()

	metrics.ValuationTicks.Inc()
	metrics.SnapshotVersion.Set(float64(snap.Version))
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Slow consumer keeps the previous snapshot; the next tick
			// supersedes this one anyway.
		}
	}
}

// value resolves the mark for one position and computes its live fields.
// SPOT venues mark at the {base}USDT midpoint; derivative venues use the
// mark price stream for the position's own symbol.
func (v *Valuator) value(p ledger.Position) LivePosition {
	lp := LivePosition{Position: p}

	var mark decimal.Decimal
	if p.Key.Venue == ledger.VenueSpot {
		if q, ok := v.prices.Get(p.Key.BaseAsset + "USDT"); ok {
			mark = q.Mid()
		}
	} else {
		if q, ok := v.prices.Get(p.Key.Symbol); ok {
			mark = q.Mark
		}
	}
	if !mark.IsPositive() {
		mark = p.AvgEntryPrice
		lp.PriceStale = true
	}

	lp.MarkPrice = mark
	lp.NotionalUsd = p.Quantity.Mul(mark)
	diff := mark.Sub(p.AvgEntryPrice)
	if p.Side == ledger.SideShort {
		diff = diff.Neg()
	}
	lp.UnrealizedPnl = diff.Mul(p.Quantity)
	entryNotional := p.Quantity.Mul(p.AvgEntryPrice)
	if entryNotional.IsPositive() {
		lp.PnlPercent = lp.UnrealizedPnl.Div(entryNotional).Mul(hundred)
	}
	return lp
}

func groupByAsset(positions []LivePosition) []PortfolioGroup {
	byAsset := make(map[string]*PortfolioGroup)
	order := make([]string, 0)
	for _, lp := range positions {
		g, ok := byAsset[lp.Key.BaseAsset]
		if !ok {
			g = &PortfolioGroup{BaseAsset: lp.Key.BaseAsset}
			byAsset[lp.Key.BaseAsset] = g
			order = append(order, lp.Key.BaseAsset)
		}
		g.Positions = append(g.Positions, lp)
		g.NetDeltaBase = g.NetDeltaBase.Add(lp.SignedQuantity())
		g.NetDeltaUsd = g.NetDeltaUsd.Add(lp.SignedNotional())
		g.TotalPnl = g.TotalPnl.Add(lp.UnrealizedPnl)
	}
	out := make([]PortfolioGroup, 0, len(order))
	for _, asset := range order {
		out = append(out, *byAsset[asset])
	}
	return out
}

// deskMetrics computes the desk figures. Leverage is defined as 0 whenever
// equity is zero or negative, so it is never NaN or infinite.
func (v *Valuator) deskMetrics(positions []LivePosition) RiskMetrics {
	var m RiskMetrics
	for _, lp := range positions {
		if lp.Side == ledger.SideLong {
			m.LongExposure = m.LongExposure.Add(lp.NotionalUsd)
		} else {
			m.ShortExposure = m.ShortExposure.Add(lp.NotionalUsd)
		}
		m.TotalPnl = m.TotalPnl.Add(lp.UnrealizedPnl)
	}
	m.GrossExposure = m.LongExposure.Add(m.ShortExposure)
	m.NetExposure = m.LongExposure.Sub(m.ShortExposure)

	for _, bal := range v.wallets {
		m.TotalEquity = m.TotalEquity.Add(bal)
	}
	m.TotalEquity = m.TotalEquity.Add(m.TotalPnl)

	if m.TotalEquity.IsPositive() {
		m.Leverage = m.GrossExposure.Div(m.TotalEquity)
	}
	return m
}

// carry computes basis and annualized funding per base asset where both a
// spot midpoint and a derivative quote are available.
func (v *Valuator) carry(groups []PortfolioGroup) []CarryMetric {
	out := make([]CarryMetric, 0, len(groups))
	for _, g := range groups {
		spotQuote, ok := v.prices.Get(g.BaseAsset + "USDT")
		if !ok {
			continue
		}
		spot := spotQuote.Mid()
		if !spot.IsPositive() {
			continue
		}

		var mark, funding decimal.Decimal
		found := false
		for _, lp := range g.Positions {
			if lp.Key.Venue == ledger.VenueSpot {
				continue
			}
			if q, ok := v.prices.Get(lp.Key.Symbol); ok && q.Mark.IsPositive() {
				mark, funding = q.Mark, q.FundingRate
				found = true
				break
			}
		}
		if !found {
			continue
		}

		out = append(out, CarryMetric{
			BaseAsset:  g.BaseAsset,
			SpotPrice:  spot,
			MarkPrice:  mark,
			BasisBps:   mark.Sub(spot).Div(spot).Mul(tenThousand),
			FundingApr: funding.Mul(aprFactor),
		})
	}
	return out
}

// Current returns the last published snapshot.
func (v *Valuator) Current() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Subscribe returns a channel receiving every published snapshot. Sends
// never block; a slow consumer misses intermediate snapshots.
func (v *Valuator) Subscribe(buffer int) <-chan Snapshot {
	ch := make(chan Snapshot, buffer)
	v.mu.Lock()
	v.subs = append(v.subs, ch)
	v.mu.Unlock()
	return ch
}
