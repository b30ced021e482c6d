package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/valuation"
	"github.com/meridianhft/deskrisk/pkg/metrics"
)

// GateResult is a structured pass/warn/refuse answer, not an error: soft
// limit breaches pass with a warning, hard breaches refuse the order.
type GateResult struct {
	Passed    bool   `json:"passed"`
	HardBlock bool   `json:"hard_block"`
	Warning   string `json:"warning,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Gate answers whether a candidate order may proceed. It runs synchronously
// on the submission path, before the ledger sees the order, and reads the
// same limit registry the tree builder uses.
type Gate struct {
	log    *zap.Logger
	limits *LimitRegistry
	blocks *BlockList
	deskID string
}

func NewGate(deskID string, limits *LimitRegistry, blocks *BlockList, log *zap.Logger) *Gate {
	return &Gate{log: log, limits: limits, blocks: blocks, deskID: deskID}
}

// Check evaluates the candidate order against the block list and the
// strategy, symbol and desk limits, in that order; the first failing check
// decides the outcome.
func (g *Gate) Check(strategyID, traderID, symbol, venue string, candidateNotionalUsd decimal.Decimal, live []valuation.LivePosition) GateResult {
	if g.blocks.IsBlocked(strategyID, symbol) {
		g.log.Warn("order hard-blocked by deny list",
			zap.String("strategy", strategyID), zap.String("symbol", symbol))
		metrics.GateRefusals.WithLabelValues("hard_block").Inc()
		return GateResult{
			Passed:    false,
			HardBlock: true,
			Details:   fmt.Sprintf("instrument %s is blocked for strategy %s", symbol, strategyID),
		}
	}

	strategyGross := grossWhere(live, func(lp valuation.LivePosition) bool {
		return lp.Key.StrategyID == strategyID
	})
	if res, failed := g.checkLimit(LimitTypeStrategy, strategyID, strategyGross, candidateNotionalUsd); failed {
		return res
	}

	baseAsset := ledger.BaseAssetOf(symbol)
	symbolGross := grossWhere(live, func(lp valuation.LivePosition) bool {
		return lp.Key.BaseAsset == baseAsset
	})
	if res, failed := g.checkLimit(LimitTypeSymbol, baseAsset, symbolGross, candidateNotionalUsd); failed {
		return res
	}

	deskGross := grossWhere(live, func(valuation.LivePosition) bool { return true })
	if res, failed := g.checkLimit(LimitTypeDesk, g.deskID, deskGross, candidateNotionalUsd); failed {
		return res
	}

	metrics.GateRefusals.WithLabelValues("pass").Inc()
	return GateResult{Passed: true}
}

// checkLimit reports failed=true when the candidate would push the current
// gross over the limit. Hard limits refuse; soft limits pass with a
// warning that short-circuits further checks.
func (g *Gate) checkLimit(limitType, entityID string, currentGross, candidate decimal.Decimal) (GateResult, bool) {
	limit, configured := g.limits.Limit(limitType, entityID)
	if !configured {
		return GateResult{}, false
	}
	projected := currentGross.Add(candidate)
	if !projected.GreaterThan(limit.LimitNotionalUsd) {
		return GateResult{}, false
	}

	detail := fmt.Sprintf("%s limit for %s: projected gross %s exceeds limit %s",
		limitType, entityID, projected.StringFixed(2), limit.LimitNotionalUsd.StringFixed(2))
	if limit.IsHardBlock {
		g.log.Warn("order refused by hard limit", zap.String("detail", detail))
		metrics.GateRefusals.WithLabelValues("hard_block").Inc()
		return GateResult{Passed: false, HardBlock: true, Details: detail}, true
	}
	g.log.Info("order passed with soft limit warning", zap.String("detail", detail))
	metrics.GateRefusals.WithLabelValues("warn").Inc()
	return GateResult{Passed: true, Warning: detail, Details: detail}, true
}

func grossWhere(live []valuation.LivePosition, match func(valuation.LivePosition) bool) decimal.Decimal {
	gross := decimal.Zero
	for _, lp := range live {
		if match(lp) {
			gross = gross.Add(lp.NotionalUsd)
		}
	}
	return gross
}
