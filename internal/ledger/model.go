package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, types, statuses and time in force options
const (
	// Position / order sides
	SideLong  = "LONG"
	SideShort = "SHORT"

	// Order types
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	// Order statuses
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"

	// Time in force
	TimeInForceGTC = "GTC" // Good Till Cancelled
	TimeInForceIOC = "IOC" // Immediate Or Cancel
	TimeInForceFOK = "FOK" // Fill Or Kill

	// Venues
	VenueSpot = "SPOT"
)

// OrderRequest is the inbound order payload from the order-entry UI.
// Validation tags are enforced before the request reaches the ledger.
type OrderRequest struct {
	Symbol       string          `json:"symbol" validate:"required"`
	Venue        string          `json:"venue" validate:"required"`
	Side         string          `json:"side" validate:"required,oneof=LONG SHORT"`
	Type         string          `json:"type" validate:"required,oneof=MARKET LIMIT"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	TimeInForce  string          `json:"time_in_force" validate:"omitempty,oneof=GTC IOC FOK"`
	ArrivalPrice decimal.Decimal `json:"arrival_price"`
	StrategyID   string          `json:"strategy_id" validate:"required"`
	TraderID     string          `json:"trader_id" validate:"required"`
}

// Order represents an order tracked by the execution ledger.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	Symbol       string          `json:"symbol"`
	Venue        string          `json:"venue"`
	Side         string          `json:"side"`
	Type         string          `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price,omitempty"`
	TimeInForce  string          `json:"time_in_force"`
	ArrivalPrice decimal.Decimal `json:"arrival_price"`
	Status       string          `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	StrategyID   string          `json:"strategy_id"`
	TraderID     string          `json:"trader_id"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	FirstFillAt  *time.Time      `json:"first_fill_at,omitempty"`
	FullFillAt   *time.Time      `json:"full_fill_at,omitempty"`
}

// Trade is an immutable fill record. Created only by the ledger's fill
// routine, never mutated afterwards.
type Trade struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Venue     string          `json:"venue"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

// PositionKey identifies a netted position. The same instrument held by two
// strategies nets separately, so the strategy is part of the key.
type PositionKey struct {
	BaseAsset  string `json:"base_asset"`
	Symbol     string `json:"symbol"`
	Venue      string `json:"venue"`
	StrategyID string `json:"strategy_id"`
}

// Position is a net position per (base asset, symbol, venue, strategy).
// Quantity is always strictly positive; a position netted down to zero is
// deleted from the ledger rather than kept as a zero row.
type Position struct {
	Key           PositionKey     `json:"key"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	TraderID      string          `json:"trader_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SignedQuantity returns quantity with a positive sign for LONG and a
// negative sign for SHORT.
func (p *Position) SignedQuantity() decimal.Decimal {
	if p.Side == SideShort {
		return p.Quantity.Neg()
	}
	return p.Quantity
}

// BaseAssetOf extracts the base asset from a symbol such as "BTCUSDT" or
// "BTC/PERP_USDT".
func BaseAssetOf(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}

// OppositeSide returns SHORT for LONG and LONG for SHORT.
func OppositeSide(side string) string {
	if side == SideLong {
		return SideShort
	}
	return SideLong
}
