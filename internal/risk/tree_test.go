package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianhft/deskrisk/internal/audit"
	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/valuation"
)

func livePosition(strategy, trader, symbol, venue, side string, qty, mark int64) valuation.LivePosition {
	q := decimal.NewFromInt(qty)
	m := decimal.NewFromInt(mark)
	return valuation.LivePosition{
		Position: ledger.Position{
			Key: ledger.PositionKey{
				BaseAsset:  ledger.BaseAssetOf(symbol),
				Symbol:     symbol,
				Venue:      venue,
				StrategyID: strategy,
			},
			Side:          side,
			Quantity:      q,
			AvgEntryPrice: m,
			TraderID:      trader,
			CreatedAt:     time.Now().UTC(),
		},
		MarkPrice:   m,
		NotionalUsd: q.Mul(m),
	}
}

func testSnapshot(version uint64, positions ...valuation.LivePosition) valuation.Snapshot {
	return valuation.Snapshot{Version: version, Positions: positions}
}

func newTestBuilder(t *testing.T) (*Builder, *LimitRegistry, *BlockList) {
	t.Helper()
	limits := NewLimitRegistry(audit.NewLog(), zaptest.NewLogger(t))
	blocks := NewBlockList()
	return NewBuilder("MAIN_DESK", limits, blocks, zaptest.NewLogger(t)), limits, blocks
}

func TestTreeHasFiveLevels(t *testing.T) {
	builder, _, _ := newTestBuilder(t)
	tree := builder.Build(testSnapshot(1,
		livePosition("STRAT_A", "trader-1", "BTCUSDT", "SPOT", ledger.SideLong, 2, 50000),
	))

	require.Equal(t, NodeDesk, tree.Type)
	require.Len(t, tree.Children, 1)
	strategy := tree.Children[0]
	assert.Equal(t, NodeStrategy, strategy.Type)
	require.Len(t, strategy.Children, 1)
	trader := strategy.Children[0]
	assert.Equal(t, NodeTrader, trader.Type)
	require.Len(t, trader.Children, 1)
	asset := trader.Children[0]
	assert.Equal(t, NodeAsset, asset.Type)
	require.Len(t, asset.Children, 1)
	assert.Equal(t, NodeVenue, asset.Children[0].Type)
}

func TestTreeAggregationMatchesLeafRecomputation(t *testing.T) {
	builder, _, _ := newTestBuilder(t)
	snap := testSnapshot(1,
		livePosition("STRAT_A", "trader-1", "BTCUSDT", "SPOT", ledger.SideLong, 2, 50000),
		livePosition("STRAT_A", "trader-1", "BTC/PERP_USDT", "PERP_USDT", ledger.SideShort, 1, 50000),
		livePosition("STRAT_A", "trader-2", "ETHUSDT", "SPOT", ledger.SideLong, 10, 3000),
		livePosition("STRAT_B", "trader-3", "BTCUSDT", "SPOT", ledger.SideShort, 3, 50000),
	)
	tree := builder.Build(snap)

	// Every level's gross must equal the sum of the leaf venues beneath it.
	var walk func(n *Node) decimal.Decimal
	walk = func(n *Node) decimal.Decimal {
		if n.Type == NodeVenue {
			return n.GrossExposureUsd
		}
		sum := decimal.Zero
		for _, c := range n.Children {
			sum = sum.Add(walk(c))
		}
		assert.True(t, n.GrossExposureUsd.Equal(sum),
			"node %s gross %s != leaf sum %s", n.ID, n.GrossExposureUsd, sum)
		return sum
	}
	total := walk(tree)

	// 2*50000 + 1*50000 + 10*3000 + 3*50000 = 330000
	assert.True(t, total.Equal(decimal.NewFromInt(330000)))
	// net = 100000 - 50000 + 30000 - 150000 = -70000
	assert.True(t, tree.NetExposureUsd.Equal(decimal.NewFromInt(-70000)), "got %s", tree.NetExposureUsd)
}

func TestBreachIsEvaluatedPerLevelIndependently(t *testing.T) {
	builder, limits, _ := newTestBuilder(t)
	// Strategy limit breached, desk limit not.
	limits.Seed(Limit{Type: LimitTypeStrategy, EntityID: "STRAT_A", LimitNotionalUsd: decimal.NewFromInt(50000), IsHardBlock: true})
	limits.Seed(Limit{Type: LimitTypeDesk, EntityID: "MAIN_DESK", LimitNotionalUsd: decimal.NewFromInt(10_000_000), IsHardBlock: true})

	tree := builder.Build(testSnapshot(1,
		livePosition("STRAT_A", "trader-1", "BTCUSDT", "SPOT", ledger.SideLong, 2, 50000),
	))

	strategy := tree.Children[0]
	assert.True(t, strategy.IsBreached, "100000 gross over 50000 strategy limit")
	assert.False(t, tree.IsBreached, "a child breach does not imply a desk breach")
	assert.True(t, strategy.Utilization.Equal(decimal.NewFromInt(2)), "got %s", strategy.Utilization)
}

func TestUnconfiguredLimitIsUnboundedNotZero(t *testing.T) {
	builder, _, _ := newTestBuilder(t)
	tree := builder.Build(testSnapshot(1,
		livePosition("STRAT_A", "trader-1", "BTCUSDT", "SPOT", ledger.SideLong, 2, 50000),
	))

	assert.True(t, tree.LimitUsd.Equal(UnboundedLimitUsd))
	assert.False(t, tree.IsBreached)
	assert.True(t, tree.Utilization.LessThan(decimal.NewFromFloat(0.000001)))
}

func TestBlockedInstrumentFlagsNodesButKeepsExposure(t *testing.T) {
	builder, _, blocks := newTestBuilder(t)
	blocks.Block("STRAT_A", "BTCUSDT")

	tree := builder.Build(testSnapshot(1,
		livePosition("STRAT_A", "trader-1", "BTCUSDT", "SPOT", ledger.SideLong, 2, 50000),
	))

	asset := tree.Children[0].Children[0].Children[0]
	venue := asset.Children[0]
	assert.True(t, venue.IsBlocked)
	assert.True(t, asset.IsBlocked)
	assert.True(t, tree.GrossExposureUsd.Equal(decimal.NewFromInt(100000)),
		"blocking affects new orders, not existing exposure reporting")
}

func TestBuildIsCachedPerVersionTriple(t *testing.T) {
	builder, limits, _ := newTestBuilder(t)
	snap := testSnapshot(7,
		livePosition("STRAT_A", "trader-1", "BTCUSDT", "SPOT", ledger.SideLong, 2, 50000),
	)

	first := builder.Build(snap)
	second := builder.Build(snap)
	assert.Same(t, first, second, "identical versions reuse the cached tree")

	limits.Seed(Limit{Type: LimitTypeDesk, EntityID: "MAIN_DESK", LimitNotionalUsd: decimal.NewFromInt(1), IsHardBlock: true})
	third := builder.Build(snap)
	assert.NotSame(t, first, third, "a limits change invalidates the cache")
	assert.True(t, third.IsBreached)
}
