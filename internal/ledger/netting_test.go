package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianhft/deskrisk/internal/audit"
)

func nettingLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(Config{}, audit.NewLog(), zaptest.NewLogger(t))
}

var btcPerp = PositionKey{BaseAsset: "BTC", Symbol: "BTC/PERP_USDT", Venue: "PERP_USDT", StrategyID: "STRAT_A"}

func fillAt(l *Ledger, side string, qty, price int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyNetting(btcPerp, side, decimal.NewFromInt(qty), decimal.NewFromInt(price), "trader-1", time.Now().UTC())
}

func onlyPosition(t *testing.T, l *Ledger) Position {
	t.Helper()
	positions := l.Positions()
	require.Len(t, positions, 1)
	return positions[0]
}

func TestNettingOpensNewPosition(t *testing.T) {
	l := nettingLedger(t)
	fillAt(l, SideLong, 10, 50000)

	p := onlyPosition(t, l)
	assert.Equal(t, SideLong, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, p.AvgEntryPrice.Equal(decimal.NewFromInt(50000)))
}

func TestNettingSameSideMergesWeightedAverage(t *testing.T) {
	l := nettingLedger(t)
	fillAt(l, SideLong, 10, 50000)
	fillAt(l, SideLong, 30, 54000)

	p := onlyPosition(t, l)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(40)))
	// (10*50000 + 30*54000) / 40 = 53000
	assert.True(t, p.AvgEntryPrice.Equal(decimal.NewFromInt(53000)), "got %s", p.AvgEntryPrice)
}

func TestNettingMergedAverageStaysWithinInputBounds(t *testing.T) {
	l := nettingLedger(t)
	prices := []int64{50000, 61000, 47500, 58250, 52000}
	lo, hi := decimal.NewFromInt(47500), decimal.NewFromInt(61000)
	for _, price := range prices {
		fillAt(l, SideLong, 3, price)
		p := onlyPosition(t, l)
		assert.True(t, p.Quantity.IsPositive())
		assert.True(t, p.AvgEntryPrice.GreaterThanOrEqual(lo), "average below min input: %s", p.AvgEntryPrice)
		assert.True(t, p.AvgEntryPrice.LessThanOrEqual(hi), "average above max input: %s", p.AvgEntryPrice)
	}
}

func TestNettingPartialCloseKeepsEntryAndSide(t *testing.T) {
	l := nettingLedger(t)
	fillAt(l, SideShort, 25, 96800)
	fillAt(l, SideLong, 10, 95000)

	p := onlyPosition(t, l)
	assert.Equal(t, SideShort, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(15)))
	assert.True(t, p.AvgEntryPrice.Equal(decimal.NewFromInt(96800)), "partial close never re-prices the remainder")
}

func TestNettingExactCloseRemovesPosition(t *testing.T) {
	l := nettingLedger(t)
	fillAt(l, SideShort, 25, 96800)
	fillAt(l, SideLong, 25, 95000)
	assert.Empty(t, l.Positions(), "a position netted to zero is deleted, not retained")
}

func TestNettingOverCloseFlipsSideAtFillPrice(t *testing.T) {
	l := nettingLedger(t)
	fillAt(l, SideShort, 25, 96800)
	fillAt(l, SideLong, 40, 95000)

	p := onlyPosition(t, l)
	assert.Equal(t, SideLong, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(15)))
	assert.True(t, p.AvgEntryPrice.Equal(decimal.NewFromInt(95000)), "flip re-enters at the fill price")
}

func TestNettingQuantityAlwaysPositiveAcrossRandomishSequence(t *testing.T) {
	l := nettingLedger(t)
	seq := []struct {
		side string
		qty  int64
	}{
		{SideLong, 5}, {SideShort, 3}, {SideShort, 2}, // exact close
		{SideShort, 7}, {SideLong, 10}, // flip to long 3
		{SideLong, 4}, {SideShort, 7}, // exact close again
		{SideLong, 1},
	}
	for _, step := range seq {
		fillAt(l, step.side, step.qty, 60000)
		for _, p := range l.Positions() {
			assert.True(t, p.Quantity.IsPositive(), "quantity must stay > 0, got %s", p.Quantity)
		}
	}
	p := onlyPosition(t, l)
	assert.Equal(t, SideLong, p.Side)
	assert.True(t, p.Quantity.Equal(decimal.NewFromInt(1)))
}

func TestNettingKeysSeparateStrategies(t *testing.T) {
	l := nettingLedger(t)
	other := btcPerp
	other.StrategyID = "STRAT_B"

	l.mu.Lock()
	l.applyNetting(btcPerp, SideLong, decimal.NewFromInt(5), decimal.NewFromInt(50000), "trader-1", time.Now().UTC())
	l.applyNetting(other, SideShort, decimal.NewFromInt(5), decimal.NewFromInt(50000), "trader-2", time.Now().UTC())
	l.mu.Unlock()

	assert.Len(t, l.Positions(), 2, "same instrument under two strategies nets separately")
}
