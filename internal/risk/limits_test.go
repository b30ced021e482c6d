package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianhft/deskrisk/internal/audit"
)

func TestLimitLookupDefaultsToUnbounded(t *testing.T) {
	r := NewLimitRegistry(audit.NewLog(), zaptest.NewLogger(t))
	limit, configured := r.Limit(LimitTypeStrategy, "NOBODY")
	assert.False(t, configured)
	assert.True(t, limit.LimitNotionalUsd.Equal(UnboundedLimitUsd))
	assert.False(t, limit.IsHardBlock)
}

func TestOverrideRecordsOldAndNewValues(t *testing.T) {
	trail := audit.NewLog()
	r := NewLimitRegistry(trail, zaptest.NewLogger(t))
	r.Seed(Limit{Type: LimitTypeDesk, EntityID: "MAIN_DESK", LimitNotionalUsd: decimal.NewFromInt(10_000_000), IsHardBlock: true})

	ov := r.Override(LimitTypeDesk, "MAIN_DESK", decimal.NewFromInt(8_000_000), "risk-admin", "volatility regime")

	assert.True(t, ov.OldLimit.Equal(decimal.NewFromInt(10_000_000)))
	assert.True(t, ov.NewLimit.Equal(decimal.NewFromInt(8_000_000)))
	assert.Equal(t, "risk-admin", ov.User)
	assert.Equal(t, "volatility regime", ov.Reason)
	assert.False(t, ov.Timestamp.IsZero())

	// The hard/soft flag survives the override.
	limit, configured := r.Limit(LimitTypeDesk, "MAIN_DESK")
	assert.True(t, configured)
	assert.True(t, limit.IsHardBlock)
	assert.True(t, limit.LimitNotionalUsd.Equal(decimal.NewFromInt(8_000_000)))

	history := r.Overrides()
	require.Len(t, history, 1)
	assert.Equal(t, ov.NewLimit, history[0].NewLimit)

	events := trail.EventsByKind(audit.KindLimitOverride)
	require.Len(t, events, 1)
	assert.Equal(t, "MAIN_DESK", events[0].Entity)
}

func TestOverrideOfUnconfiguredEntityStartsFromUnbounded(t *testing.T) {
	r := NewLimitRegistry(audit.NewLog(), zaptest.NewLogger(t))
	ov := r.Override(LimitTypeSymbol, "DOGE", decimal.NewFromInt(250_000), "risk-admin", "new listing")
	assert.True(t, ov.OldLimit.Equal(UnboundedLimitUsd))
}

func TestVersionBumpsOnEveryMutation(t *testing.T) {
	r := NewLimitRegistry(audit.NewLog(), zaptest.NewLogger(t))
	v0 := r.Version()
	r.Seed(Limit{Type: LimitTypeVenue, EntityID: "SPOT", LimitNotionalUsd: decimal.NewFromInt(1)})
	v1 := r.Version()
	r.Override(LimitTypeVenue, "SPOT", decimal.NewFromInt(2), "u", "r")
	v2 := r.Version()
	assert.Greater(t, v1, v0)
	assert.Greater(t, v2, v1)
}

func TestBlockListAddAndRemove(t *testing.T) {
	b := NewBlockList()
	assert.False(t, b.IsBlocked("STRAT_A", "BTCUSDT"))
	b.Block("STRAT_A", "BTCUSDT")
	assert.True(t, b.IsBlocked("STRAT_A", "BTCUSDT"))
	assert.False(t, b.IsBlocked("STRAT_B", "BTCUSDT"), "blocks are per strategy")
	b.Unblock("STRAT_A", "BTCUSDT")
	assert.False(t, b.IsBlocked("STRAT_A", "BTCUSDT"))
}
