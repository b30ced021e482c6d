// Package ledger implements the execution ledger: it accepts order
// requests, simulates fills, and maintains the order, trade and net
// position books. The ledger is the single owner of this mutable state;
// every other component reads value-copy snapshots.
package ledger

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/audit"
	"github.com/meridianhft/deskrisk/pkg/metrics"
)

// ValidationError reports a malformed order request. It is surfaced
// synchronously to the caller; the request never enters the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: %s %s", e.Field, e.Reason)
}

// Config controls fill simulation. SlippageBps bounds the random slippage
// magnitude applied to market fills; Seed makes it reproducible. A zero
// FillDelay executes market fills synchronously, which tests rely on.
type Config struct {
	FillDelay   time.Duration
	SlippageBps int64
	Seed        int64
}

// Ledger owns orders, trades and net positions.
type Ledger struct {
	log   *zap.Logger
	trail *audit.Log
	cfg   Config

	validate *validator.Validate

	rngMu sync.Mutex
	rng   *rand.Rand

	mu        sync.RWMutex
	orders    map[uuid.UUID]*Order
	orderSeq  []uuid.UUID
	committed map[uuid.UUID]bool
	trades    []Trade
	positions map[PositionKey]*Position
	version   uint64
}

func New(cfg Config, trail *audit.Log, log *zap.Logger) *Ledger {
	return &Ledger{
		log:       log,
		trail:     trail,
		cfg:       cfg,
		validate:  validator.New(),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		orders:    make(map[uuid.UUID]*Order),
		committed: make(map[uuid.UUID]bool),
		positions: make(map[PositionKey]*Position),
	}
}

// Submit validates the request, records a NEW order and, for market orders,
// schedules the simulated fill. The returned order is a copy.
func (l *Ledger) Submit(req OrderRequest) (Order, error) {
	if err := l.validateRequest(req); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return Order{}, err
	}

	now := time.Now().UTC()
	if req.TimeInForce == "" {
		req.TimeInForce = TimeInForceGTC
	}
	order := &Order{
		ID:           uuid.New(),
		Symbol:       req.Symbol,
		Venue:        req.Venue,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		Price:        req.Price,
		TimeInForce:  req.TimeInForce,
		ArrivalPrice: req.ArrivalPrice,
		Status:       OrderStatusNew,
		StrategyID:   req.StrategyID,
		TraderID:     req.TraderID,
		SubmittedAt:  now,
	}

	l.mu.Lock()
	l.orders[order.ID] = order
	l.orderSeq = append(l.orderSeq, order.ID)
	if order.Type == OrderTypeMarket {
		// Once the fill is scheduled its execution price is considered
		// determined; a racing cancel must not win.
		l.committed[order.ID] = true
	}
	l.mu.Unlock()

	metrics.OrdersSubmitted.WithLabelValues(order.Type).Inc()
	l.log.Info("order submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("type", order.Type),
		zap.String("qty", order.Quantity.String()))

	if order.Type == OrderTypeMarket {
		exec := l.slippedPrice(order.ArrivalPrice, order.Side)
		id := order.ID
		if l.cfg.FillDelay <= 0 {
			l.Fill(id, exec, decimal.Zero)
		} else {
			time.AfterFunc(l.cfg.FillDelay, func() {
				l.Fill(id, exec, decimal.Zero)
			})
		}
	}

	return *order, nil
}

func (l *Ledger) validateRequest(req OrderRequest) error {
	if err := l.validate.Struct(req); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ValidationError{Field: errs[0].Field(), Reason: "failed " + errs[0].Tag()}
		}
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	if !req.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be > 0"}
	}
	if req.Type == OrderTypeLimit && !req.Price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "required for LIMIT orders"}
	}
	if req.Type == OrderTypeMarket && !req.ArrivalPrice.IsPositive() {
		return &ValidationError{Field: "arrival_price", Reason: "required for MARKET orders"}
	}
	return nil
}

// slippedPrice applies a bounded, seeded random slippage to the arrival
// price. Buys slip up, sells slip down.
func (l *Ledger) slippedPrice(arrival decimal.Decimal, side string) decimal.Decimal {
	if l.cfg.SlippageBps <= 0 {
		return arrival
	}
	l.rngMu.Lock()
	bps := l.rng.Int63n(l.cfg.SlippageBps + 1)
	l.rngMu.Unlock()
	slip := arrival.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000))
	if side == SideShort {
		return arrival.Sub(slip)
	}
	return arrival.Add(slip)
}

// Fill executes qty of the order at execPrice. A zero qty fills the full
// remaining quantity. The fill appends an immutable trade, applies the
// netting rule to the position book, and emits a TRADE audit event.
func (l *Ledger) Fill(orderID uuid.UUID, execPrice decimal.Decimal, qty decimal.Decimal) {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok || (order.Status != OrderStatusNew && order.Status != OrderStatusPartiallyFilled) {
		l.mu.Unlock()
		return
	}

	remaining := order.Quantity.Sub(order.FilledQty)
	if qty.IsZero() || qty.GreaterThan(remaining) {
		qty = remaining
	}

	now := time.Now().UTC()
	// avgFillPrice stays the weighted average of all fills.
	notionalSoFar := order.AvgFillPrice.Mul(order.FilledQty)
	order.FilledQty = order.FilledQty.Add(qty)
	order.AvgFillPrice = notionalSoFar.Add(execPrice.Mul(qty)).Div(order.FilledQty)
	if order.FirstFillAt == nil {
		t := now
		order.FirstFillAt = &t
	}
	if order.FilledQty.GreaterThanOrEqual(order.Quantity) {
		order.Status = OrderStatusFilled
		t := now
		order.FullFillAt = &t
	} else {
		order.Status = OrderStatusPartiallyFilled
	}

	trade := Trade{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Venue:     order.Venue,
		Side:      order.Side,
		Price:     execPrice,
		Quantity:  qty,
		Timestamp: now,
	}
	l.trades = append(l.trades, trade)

	key := PositionKey{
		BaseAsset:  BaseAssetOf(order.Symbol),
		Symbol:     order.Symbol,
		Venue:      order.Venue,
		StrategyID: order.StrategyID,
	}
	l.applyNetting(key, order.Side, qty, execPrice, order.TraderID, now)
	l.version++
	side, symbol, strategy := order.Side, order.Symbol, order.StrategyID
	l.mu.Unlock()

	metrics.OrdersFilled.WithLabelValues(side).Inc()
	l.trail.Append(audit.KindTrade, symbol, map[string]any{
		"order_id": orderID.String(),
		"trade_id": trade.ID.String(),
		"side":     side,
		"qty":      qty.String(),
		"price":    execPrice.String(),
		"strategy": strategy,
	})
	l.log.Info("order filled",
		zap.String("order_id", orderID.String()),
		zap.String("symbol", symbol),
		zap.String("exec_price", execPrice.String()),
		zap.String("qty", qty.String()))
}

// Cancel transitions an order to CANCELLED. It is an idempotent no-op for
// orders that are already terminal, unknown, or whose fill has been
// committed; callers should check status first but the call never errors.
func (l *Ledger) Cancel(orderID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok || l.committed[orderID] {
		return
	}
	if order.Status != OrderStatusNew && order.Status != OrderStatusPartiallyFilled {
		return
	}
	order.Status = OrderStatusCancelled
	l.log.Info("order cancelled", zap.String("order_id", orderID.String()))
}

// Order returns a copy of the order with the given id.
func (l *Ledger) Order(orderID uuid.UUID) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if o, ok := l.orders[orderID]; ok {
		return *o, true
	}
	return Order{}, false
}

// Orders returns copies of all orders in submission order.
func (l *Ledger) Orders() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0, len(l.orderSeq))
	for _, id := range l.orderSeq {
		out = append(out, *l.orders[id])
	}
	return out
}

// Trades returns copies of all fills, oldest first.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Positions returns a copy of the net position book, sorted by key for
// deterministic iteration downstream.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.StrategyID != b.StrategyID {
			return a.StrategyID < b.StrategyID
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Venue < b.Venue
	})
	return out
}

// PositionsVersion increments on every mutation of the position book.
func (l *Ledger) PositionsVersion() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// SeedPosition installs a position directly, bypassing order flow. Used by
// the demo seeder; not part of the trading path.
func (l *Ledger) SeedPosition(p Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := p
	l.positions[p.Key] = &cp
	l.version++
}
