package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// applyNetting merges a fill into the position book under l.mu. The rule:
//
//	same side            -> weighted-average merge
//	opposite, qty < pos  -> partial close, entry price and side unchanged
//	opposite, qty = pos  -> position removed
//	opposite, qty > pos  -> flip to the fill's side at the fill price
//	no position          -> open on the fill's side
//
// A position quantity is never zero or negative and the arithmetic never
// divides by a zero quantity: the flip branch is reached only when
// fillQty > existing qty, and the merge denominator qty+fillQty is positive
// by construction.
func (l *Ledger) applyNetting(key PositionKey, side string, fillQty, fillPrice decimal.Decimal, traderID string, now time.Time) {
	existing, ok := l.positions[key]
	if !ok {
		l.positions[key] = &Position{
			Key:           key,
			Side:          side,
			Quantity:      fillQty,
			AvgEntryPrice: fillPrice,
			TraderID:      traderID,
			CreatedAt:     now,
		}
		return
	}

	if existing.Side == side {
		newQty := existing.Quantity.Add(fillQty)
		existing.AvgEntryPrice = existing.Quantity.Mul(existing.AvgEntryPrice).
			Add(fillQty.Mul(fillPrice)).
			Div(newQty)
		existing.Quantity = newQty
		return
	}

	switch {
	case fillQty.LessThan(existing.Quantity):
		existing.Quantity = existing.Quantity.Sub(fillQty)
	case fillQty.Equal(existing.Quantity):
		delete(l.positions, key)
	default:
		existing.Side = side
		existing.Quantity = fillQty.Sub(existing.Quantity)
		existing.AvgEntryPrice = fillPrice
		existing.CreatedAt = now
	}
}
