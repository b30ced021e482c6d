// Package desk wires the core components together and owns the order
// submission path: every candidate order passes the pre-trade risk gate
// synchronously before the execution ledger may accept it.
package desk

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianhft/deskrisk/internal/ledger"
	"github.com/meridianhft/deskrisk/internal/risk"
	"github.com/meridianhft/deskrisk/internal/scenario"
	"github.com/meridianhft/deskrisk/internal/valuation"
	"github.com/meridianhft/deskrisk/pkg/metrics"
)

// Desk is the façade the outer surfaces (HTTP, demo seeder) talk to.
type Desk struct {
	log      *zap.Logger
	ledger   *ledger.Ledger
	gate     *risk.Gate
	valuator *valuation.Valuator
	riskSvc  *risk.Service
	shock    *scenario.Engine
}

func New(l *ledger.Ledger, gate *risk.Gate, v *valuation.Valuator, riskSvc *risk.Service, shock *scenario.Engine, log *zap.Logger) *Desk {
	return &Desk{
		log:      log,
		ledger:   l,
		gate:     gate,
		valuator: v,
		riskSvc:  riskSvc,
		shock:    shock,
	}
}

// SubmitOrder runs the pre-trade gate against the latest valuation snapshot
// and, when the gate passes, hands the request to the ledger. A refusal is
// a structured result, not an error; errors are reserved for malformed
// requests.
func (d *Desk) SubmitOrder(req ledger.OrderRequest) (ledger.Order, risk.GateResult, error) {
	live := d.valuator.Current().Positions
	res := d.gate.Check(req.StrategyID, req.TraderID, req.Symbol, req.Venue, candidateNotional(req), live)
	if !res.Passed {
		metrics.OrdersRejected.WithLabelValues("risk").Inc()
		d.log.Info("order refused by pre-trade gate",
			zap.String("strategy", req.StrategyID),
			zap.String("symbol", req.Symbol),
			zap.String("details", res.Details))
		return ledger.Order{}, res, nil
	}

	order, err := d.ledger.Submit(req)
	if err != nil {
		return ledger.Order{}, res, err
	}
	return order, res, nil
}

// candidateNotional sizes the order for the gate: limit orders at their
// limit price, market orders at the arrival price.
func candidateNotional(req ledger.OrderRequest) decimal.Decimal {
	price := req.Price
	if req.Type == ledger.OrderTypeMarket {
		price = req.ArrivalPrice
	}
	return req.Quantity.Mul(price)
}

// CancelOrder forwards the idempotent cancel to the ledger.
func (d *Desk) CancelOrder(id uuid.UUID) {
	d.ledger.Cancel(id)
}

// RunShock freezes the current valuation snapshot and replays it under the
// scenario. The engine never mutates live state, so concurrent calls are
// safe.
func (d *Desk) RunShock(sc scenario.Scenario) *scenario.Node {
	snap := d.valuator.Current()
	return d.shock.Run(sc, snap.Positions)
}

// Ledger exposes the ledger's read-only snapshot surface.
func (d *Desk) Ledger() *ledger.Ledger { return d.ledger }

// Valuator exposes the valuator's read surface.
func (d *Desk) Valuator() *valuation.Valuator { return d.valuator }

// Risk exposes the last built exposure tree.
func (d *Desk) Risk() *risk.Service { return d.riskSvc }
