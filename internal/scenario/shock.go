// Package scenario replays a frozen set of live positions under
// hypothetical price and funding shocks, producing a parallel exposure tree
// with delta-PnL and margin-call flags. The engine is a pure function of
// its inputs: it never writes to the ledger or the price cache, and the
// same scenario over the same frozen snapshot yields identical output.
package scenario

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/risk"
	"github.com/meridianhft/deskrisk/internal/valuation"
)

// Shock parameter types and scopes
const (
	ShockSpotPct    = "SPOT_PCT"
	ShockFuturesPct = "FUTURES_PCT"
	ShockFundingAbs = "FUNDING_ABS"

	ScopeGlobal   = "GLOBAL"
	ScopeAsset    = "ASSET"
	ScopeStrategy = "STRATEGY"
)

// Parameter is one price or funding perturbation. Target is the asset or
// strategy id the parameter applies to; it is ignored for GLOBAL scope.
type Parameter struct {
	Type   string          `json:"type"`
	Scope  string          `json:"scope"`
	Target string          `json:"target,omitempty"`
	Value  decimal.Decimal `json:"value"`
}

// Scenario is a named, ordered parameter list. A position may match several
// parameters; all matches apply cumulatively in list order.
type Scenario struct {
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// Position is one leg of the shocked book.
type Position struct {
	Key           ledger.PositionKey `json:"key"`
	Side          string             `json:"side"`
	Quantity      decimal.Decimal    `json:"quantity"`
	CurrentMark   decimal.Decimal    `json:"current_mark"`
	SimulatedMark decimal.Decimal    `json:"simulated_mark"`
	CurrentPnl    decimal.Decimal    `json:"current_pnl"`
	ShockPnl      decimal.Decimal    `json:"shock_pnl"`
	ShockDeltaPnl decimal.Decimal    `json:"shock_delta_pnl"`
	ShockNotional decimal.Decimal    `json:"shock_notional"`
}

// Node is one level of the shocked tree: Desk → Strategy → Asset.
type Node struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             risk.NodeType   `json:"type"`
	GrossExposureUsd decimal.Decimal `json:"gross_exposure_usd"`
	CurrentPnl       decimal.Decimal `json:"current_pnl"`
	ShockPnl         decimal.Decimal `json:"shock_pnl"`
	ShockDeltaPnl    decimal.Decimal `json:"shock_delta_pnl"`
	LimitUsd         decimal.Decimal `json:"limit_usd"`
	ShockUtilization decimal.Decimal `json:"shock_utilization"`
	IsBreached       bool            `json:"is_breached"`
	IsMarginCall     bool            `json:"is_margin_call"`
	Positions        []Position      `json:"positions,omitempty"`
	Children         []*Node         `json:"children,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// Engine runs shock scenarios. The margin-call multiplier is configuration:
// a node whose shocked utilization exceeds it is flagged as a projected
// margin call.
type Engine struct {
	log        *zap.Logger
	limits     *risk.LimitRegistry
	deskID     string
	marginMult decimal.Decimal
}

func NewEngine(deskID string, limits *risk.LimitRegistry, marginCallMultiplier decimal.Decimal, log *zap.Logger) *Engine {
	return &Engine{log: log, limits: limits, deskID: deskID, marginMult: marginCallMultiplier}
}

// Run applies the scenario to the frozen positions and aggregates the
// shocked book into a Desk→Strategy→Asset tree.
func (e *Engine) Run(sc Scenario, frozen []valuation.LivePosition) *Node {
	shocked := make([]Position, 0, len(frozen))
	for _, lp := range frozen {
		shocked = append(shocked, e.shockPosition(sc, lp))
	}

	desk := &Node{ID: e.deskID, Name: sc.Name, Type: risk.NodeDesk}
	for _, stratGroup := range groupBy(shocked, func(p Position) string { return p.Key.StrategyID }) {
		strategy := &Node{ID: stratGroup.key, Name: stratGroup.key, Type: risk.NodeStrategy}
		for _, assetGroup := range groupBy(stratGroup.items, func(p Position) string { return p.Key.BaseAsset }) {
			asset := &Node{
				ID:        stratGroup.key + ":" + assetGroup.key,
				Name:      assetGroup.key,
				Type:      risk.NodeAsset,
				Positions: assetGroup.items,
			}
			for _, p := range assetGroup.items {
				asset.GrossExposureUsd = asset.GrossExposureUsd.Add(p.ShockNotional)
				asset.CurrentPnl = asset.CurrentPnl.Add(p.CurrentPnl)
				asset.ShockPnl = asset.ShockPnl.Add(p.ShockPnl)
			}
			e.finish(asset, risk.LimitTypeSymbol, assetGroup.key)
			strategy.Children = append(strategy.Children, asset)
		}
		sumChildren(strategy)
		e.finish(strategy, risk.LimitTypeStrategy, stratGroup.key)
		desk.Children = append(desk.Children, strategy)
	}
	sumChildren(desk)
	e.finish(desk, risk.LimitTypeDesk, e.deskID)
	return desk
}

// shockPosition applies every matching parameter in list order and
// revalues the leg at the simulated mark.
func (e *Engine) shockPosition(sc Scenario, lp valuation.LivePosition) Position {
	mark := lp.MarkPrice
	for _, param := range sc.Parameters {
		if !matches(param, lp) {
			continue
		}
		switch param.Type {
		case ShockSpotPct:
			mark = mark.Mul(decimal.NewFromInt(1).Add(param.Value.Div(hundred)))
		case ShockFuturesPct:
			if lp.Key.Venue != ledger.VenueSpot {
				mark = mark.Mul(decimal.NewFromInt(1).Add(param.Value.Div(hundred)))
			}
		case ShockFundingAbs:
			// Approximation: an instantaneous funding-rate change is
			// modeled as a one-off mark nudge, up for longs and down for
			// shorts, not as an accrual over time.
			nudge := mark.Mul(param.Value)
			if lp.Side == ledger.SideShort {
				mark = mark.Sub(nudge)
			} else {
				mark = mark.Add(nudge)
			}
		}
	}

	diff := mark.Sub(lp.AvgEntryPrice)
	if lp.Side == ledger.SideShort {
		diff = diff.Neg()
	}
	shockPnl := diff.Mul(lp.Quantity)

	return Position{
		Key:           lp.Key,
		Side:          lp.Side,
		Quantity:      lp.Quantity,
		CurrentMark:   lp.MarkPrice,
		SimulatedMark: mark,
		CurrentPnl:    lp.UnrealizedPnl,
		ShockPnl:      shockPnl,
		ShockDeltaPnl: shockPnl.Sub(lp.UnrealizedPnl),
		ShockNotional: lp.Quantity.Mul(mark),
	}
}

func matches(param Parameter, lp valuation.LivePosition) bool {
	switch param.Scope {
	case ScopeGlobal:
		return true
	case ScopeAsset:
		return param.Target == lp.Key.BaseAsset
	case ScopeStrategy:
		return param.Target == lp.Key.StrategyID
	}
	return false
}

func sumChildren(n *Node) {
	for _, c := range n.Children {
		n.GrossExposureUsd = n.GrossExposureUsd.Add(c.GrossExposureUsd)
		n.CurrentPnl = n.CurrentPnl.Add(c.CurrentPnl)
		n.ShockPnl = n.ShockPnl.Add(c.ShockPnl)
	}
}

func (e *Engine) finish(n *Node, limitType, entityID string) {
	n.ShockDeltaPnl = n.ShockPnl.Sub(n.CurrentPnl)
	limit, _ := e.limits.Limit(limitType, entityID)
	n.LimitUsd = limit.LimitNotionalUsd
	n.ShockUtilization = n.GrossExposureUsd.Div(n.LimitUsd)
	n.IsBreached = n.GrossExposureUsd.GreaterThan(n.LimitUsd)
	n.IsMarginCall = n.ShockUtilization.GreaterThan(e.marginMult)
}

type group struct {
	key   string
	items []Position
}

func groupBy(positions []Position, keyOf func(Position) string) []group {
	index := make(map[string]int)
	var out []group
	for _, p := range positions {
		k := keyOf(p)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, group{key: k})
		}
		out[i].items = append(out[i].items, p)
	}
	return out
}
