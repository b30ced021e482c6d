// Package risk holds the limit configuration, the exposure hierarchy
// builder and the pre-trade gate. The gate and the tree share one limit
// registry so they can never disagree about what is allowed.
package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/audit"
)

// Limit scope types
const (
	LimitTypeDesk     = "DESK"
	LimitTypeStrategy = "STRATEGY"
	LimitTypeTrader   = "TRADER"
	LimitTypeSymbol   = "SYMBOL"
	LimitTypeVenue    = "VENUE"
)

// UnboundedLimitUsd is the explicit default for entities with no configured
// limit. Using a large finite value instead of zero keeps utilization
// arithmetic total: an unconfigured entity reports ~0 utilization rather
// than dividing by zero.
var UnboundedLimitUsd = decimal.NewFromInt(1_000_000_000_000)

// Limit is a notional cap on one entity. Hard limits refuse risk-increasing
// orders on breach; soft limits only warn.
type Limit struct {
	Type             string          `json:"type"`
	EntityID         string          `json:"entity_id"`
	LimitNotionalUsd decimal.Decimal `json:"limit_notional_usd"`
	IsHardBlock      bool            `json:"is_hard_block"`
}

// Override records one audited limit change.
type Override struct {
	Type      string          `json:"type"`
	EntityID  string          `json:"entity_id"`
	OldLimit  decimal.Decimal `json:"old_limit"`
	NewLimit  decimal.Decimal `json:"new_limit"`
	User      string          `json:"user"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

type limitKey struct {
	typ    string
	entity string
}

// LimitRegistry is the single source of limit configuration. Limits mutate
// only through Override, which appends to the audit trail.
type LimitRegistry struct {
	log   *zap.Logger
	trail *audit.Log

	mu        sync.RWMutex
	limits    map[limitKey]Limit
	overrides []Override
	version   uint64
}

func NewLimitRegistry(trail *audit.Log, log *zap.Logger) *LimitRegistry {
	return &LimitRegistry{
		log:    log,
		trail:  trail,
		limits: make(map[limitKey]Limit),
	}
}

// Seed installs an initial limit without an audit entry. Initial
// configuration is constructor data; only runtime changes are audited.
func (r *LimitRegistry) Seed(l Limit) {
	r.mu.Lock()
	r.limits[limitKey{l.Type, l.EntityID}] = l
	r.version++
	r.mu.Unlock()
}

// Limit returns the configured limit for (type, entity), or an unbounded
// soft limit when none is configured. The second return reports whether the
// limit was explicitly configured.
func (r *LimitRegistry) Limit(typ, entityID string) (Limit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.limits[limitKey{typ, entityID}]; ok {
		return l, true
	}
	return Limit{Type: typ, EntityID: entityID, LimitNotionalUsd: UnboundedLimitUsd}, false
}

// Override replaces the limit notional for (type, entity), keeping its
// hard/soft flag, and records the change in both the override log and the
// shared audit trail.
func (r *LimitRegistry) Override(typ, entityID string, newLimit decimal.Decimal, user, reason string) Override {
	r.mu.Lock()
	key := limitKey{typ, entityID}
	old, existed := r.limits[key]
	if !existed {
		old = Limit{Type: typ, EntityID: entityID, LimitNotionalUsd: UnboundedLimitUsd}
	}
	updated := old
	updated.LimitNotionalUsd = newLimit
	r.limits[key] = updated

	ov := Override{
		Type:      typ,
		EntityID:  entityID,
		OldLimit:  old.LimitNotionalUsd,
		NewLimit:  newLimit,
		User:      user,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	r.overrides = append(r.overrides, ov)
	r.version++
	r.mu.Unlock()

	r.trail.Append(audit.KindLimitOverride, entityID, map[string]any{
		"type":   typ,
		"old":    ov.OldLimit.String(),
		"new":    ov.NewLimit.String(),
		"user":   user,
		"reason": reason,
	})
	r.log.Info("risk limit overridden",
		zap.String("type", typ),
		zap.String("entity", entityID),
		zap.String("old", ov.OldLimit.String()),
		zap.String("new", ov.NewLimit.String()),
		zap.String("user", user))
	return ov
}

// Overrides returns a copy of the override history, oldest first.
func (r *LimitRegistry) Overrides() []Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Override, len(r.overrides))
	copy(out, r.overrides)
	return out
}

// Version increments on every limit mutation; the tree builder uses it for
// rebuild caching.
func (r *LimitRegistry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// BlockList is the explicit (strategy, instrument) deny-list. Blocked pairs
// refuse new orders outright; existing exposure is still reported.
type BlockList struct {
	mu      sync.RWMutex
	blocked map[limitKey]struct{}
	version uint64
}

func NewBlockList() *BlockList {
	return &BlockList{blocked: make(map[limitKey]struct{})}
}

func (b *BlockList) Block(strategyID, instrument string) {
	b.mu.Lock()
	b.blocked[limitKey{strategyID, instrument}] = struct{}{}
	b.version++
	b.mu.Unlock()
}

func (b *BlockList) Unblock(strategyID, instrument string) {
	b.mu.Lock()
	delete(b.blocked, limitKey{strategyID, instrument})
	b.version++
	b.mu.Unlock()
}

func (b *BlockList) IsBlocked(strategyID, instrument string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[limitKey{strategyID, instrument}]
	return ok
}

func (b *BlockList) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}
