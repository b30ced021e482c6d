package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "MAIN_DESK", cfg.DeskID)
	assert.Equal(t, 250*time.Millisecond, cfg.ValuationInterval)
	assert.Equal(t, 400*time.Millisecond, cfg.FillDelay)
	assert.Equal(t, int64(5), cfg.SlippageBps)
	assert.Equal(t, 1.2, cfg.MarginCallMultiplier)
	assert.False(t, cfg.DemoSeed)
}

func TestFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deskrisk.yaml")
	content := []byte("desk_id: ASIA_DESK\nvaluation_interval: 1s\nfill_delay: 0s\ndemo_seed: true\nwallets:\n  main: 250000.5\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ASIA_DESK", cfg.DeskID)
	assert.Equal(t, time.Second, cfg.ValuationInterval)
	assert.Equal(t, time.Duration(0), cfg.FillDelay, "zero fill delay is legal for deterministic runs")
	assert.True(t, cfg.DemoSeed)
	assert.Equal(t, 250000.5, cfg.Wallets["main"])
}

func TestInvalidValuesAreRejected(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"zero interval":       "valuation_interval: 0s\n",
		"negative slippage":   "slippage_bps: -3\n",
		"zero margin mult":    "margin_call_multiplier: 0\n",
		"negative fill delay": "fill_delay: -1s\n",
		"empty desk id":       "desk_id: \"\"\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
