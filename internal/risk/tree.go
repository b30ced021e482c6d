package risk

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/valuation"
	"github.com/meridianhft/deskrisk/pkg/metrics"
)

// NodeType tags a level of the exposure hierarchy.
type NodeType string

const (
	NodeDesk     NodeType = "DESK"
	NodeStrategy NodeType = "STRATEGY"
	NodeTrader   NodeType = "TRADER"
	NodeAsset    NodeType = "ASSET"
	NodeVenue    NodeType = "VENUE"
)

// Node is one level of the exposure tree. The tree is a pure projection of
// (positions, limits, blocks): it is rebuilt from scratch and has no
// lifecycle of its own.
type Node struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             NodeType        `json:"type"`
	GrossExposureUsd decimal.Decimal `json:"gross_exposure_usd"`
	NetExposureUsd   decimal.Decimal `json:"net_exposure_usd"`
	LongExposureUsd  decimal.Decimal `json:"long_exposure_usd"`
	ShortExposureUsd decimal.Decimal `json:"short_exposure_usd"`
	LimitUsd         decimal.Decimal `json:"limit_usd"`
	Utilization      decimal.Decimal `json:"utilization"`
	IsBreached       bool            `json:"is_breached"`
	IsBlocked        bool            `json:"is_blocked"`
	Children         []*Node         `json:"children,omitempty"`
}

type treeKey struct {
	snapshotVersion uint64
	limitsVersion   uint64
	blocksVersion   uint64
}

// Builder turns a valuation snapshot plus the limit configuration into the
// Desk→Strategy→Trader→Asset→Venue tree. Rebuilds are cached per
// (snapshot, limits, blocks) version triple.
type Builder struct {
	log    *zap.Logger
	limits *LimitRegistry
	blocks *BlockList
	deskID string

	mu       sync.Mutex
	cacheKey treeKey
	cached   *Node
}

func NewBuilder(deskID string, limits *LimitRegistry, blocks *BlockList, log *zap.Logger) *Builder {
	return &Builder{log: log, limits: limits, blocks: blocks, deskID: deskID}
}

// Build returns the exposure tree for the snapshot. The same snapshot with
// unchanged limits and blocks returns the cached tree.
func (b *Builder) Build(snap valuation.Snapshot) *Node {
	key := treeKey{snap.Version, b.limits.Version(), b.blocks.Version()}

	b.mu.Lock()
	if b.cached != nil && b.cacheKey == key {
		tree := b.cached
		b.mu.Unlock()
		return tree
	}
	b.mu.Unlock()

	tree := b.build(snap)

	b.mu.Lock()
	b.cacheKey = key
	b.cached = tree
	b.mu.Unlock()

	metrics.BreachedNodes.Set(float64(countBreached(tree)))
	return tree
}

func (b *Builder) build(snap valuation.Snapshot) *Node {
	desk := &Node{ID: b.deskID, Name: b.deskID, Type: NodeDesk}

	for _, stratPos := range partition(snap.Positions, func(p valuation.LivePosition) string { return p.Key.StrategyID }) {
		strategy := &Node{
			ID:   stratPos.key,
			Name: stratPos.key,
			Type: NodeStrategy,
		}
		for _, traderPos := range partition(stratPos.items, func(p valuation.LivePosition) string { return p.TraderID }) {
			trader := &Node{
				ID:   stratPos.key + ":" + traderPos.key,
				Name: traderPos.key,
				Type: NodeTrader,
			}
			for _, assetPos := range partition(traderPos.items, func(p valuation.LivePosition) string { return p.Key.BaseAsset }) {
				asset := &Node{
					ID:   trader.ID + ":" + assetPos.key,
					Name: assetPos.key,
					Type: NodeAsset,
				}
				for _, venuePos := range partition(assetPos.items, func(p valuation.LivePosition) string { return p.Key.Venue }) {
					leaf := b.venueLeaf(asset.ID, stratPos.key, venuePos.key, venuePos.items)
					asset.Children = append(asset.Children, leaf)
					if leaf.IsBlocked {
						asset.IsBlocked = true
					}
				}
				b.aggregate(asset, LimitTypeSymbol, assetPos.key)
				trader.Children = append(trader.Children, asset)
			}
			b.aggregate(trader, LimitTypeTrader, traderPos.key)
			strategy.Children = append(strategy.Children, trader)
		}
		b.aggregate(strategy, LimitTypeStrategy, stratPos.key)
		desk.Children = append(desk.Children, strategy)
	}
	b.aggregate(desk, LimitTypeDesk, b.deskID)
	return desk
}

// venueLeaf is the only level computed from raw positions; every parent
// aggregates from its children only.
func (b *Builder) venueLeaf(parentID, strategyID, venue string, positions []valuation.LivePosition) *Node {
	leaf := &Node{
		ID:   parentID + ":" + venue,
		Name: venue,
		Type: NodeVenue,
	}
	for _, lp := range positions {
		if lp.Side == ledger.SideLong {
			leaf.LongExposureUsd = leaf.LongExposureUsd.Add(lp.NotionalUsd)
		} else {
			leaf.ShortExposureUsd = leaf.ShortExposureUsd.Add(lp.NotionalUsd)
		}
		if b.blocks.IsBlocked(strategyID, lp.Key.Symbol) {
			leaf.IsBlocked = true
		}
	}
	leaf.GrossExposureUsd = leaf.LongExposureUsd.Add(leaf.ShortExposureUsd)
	leaf.NetExposureUsd = leaf.LongExposureUsd.Sub(leaf.ShortExposureUsd)
	b.applyLimit(leaf, LimitTypeVenue, venue)
	return leaf
}

func (b *Builder) aggregate(n *Node, limitType, entityID string) {
	for _, c := range n.Children {
		n.GrossExposureUsd = n.GrossExposureUsd.Add(c.GrossExposureUsd)
		n.NetExposureUsd = n.NetExposureUsd.Add(c.NetExposureUsd)
		n.LongExposureUsd = n.LongExposureUsd.Add(c.LongExposureUsd)
		n.ShortExposureUsd = n.ShortExposureUsd.Add(c.ShortExposureUsd)
	}
	b.applyLimit(n, limitType, entityID)
}

// applyLimit resolves the node's limit and derives utilization and breach.
// Unconfigured entities fall back to the explicit unbounded constant, so
// utilization never divides by zero; the gap is logged for observability.
func (b *Builder) applyLimit(n *Node, limitType, entityID string) {
	limit, configured := b.limits.Limit(limitType, entityID)
	if !configured {
		b.log.Debug("no limit configured, treating as unbounded",
			zap.String("type", limitType), zap.String("entity", entityID))
	}
	n.LimitUsd = limit.LimitNotionalUsd
	n.Utilization = n.GrossExposureUsd.Div(n.LimitUsd)
	n.IsBreached = n.GrossExposureUsd.GreaterThan(n.LimitUsd)
}

func countBreached(n *Node) int {
	count := 0
	if n.IsBreached {
		count++
	}
	for _, c := range n.Children {
		count += countBreached(c)
	}
	return count
}

type bucket struct {
	key   string
	items []valuation.LivePosition
}

// partition groups positions by key, preserving first-seen order so the
// tree layout is deterministic for a given snapshot.
func partition(positions []valuation.LivePosition, keyOf func(valuation.LivePosition) string) []bucket {
	index := make(map[string]int)
	var out []bucket
	for _, p := range positions {
		k := keyOf(p)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, bucket{key: k})
		}
		out[i].items = append(out[i].items, p)
	}
	return out
}
