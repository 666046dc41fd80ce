package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"momentum/internal/domain"
)

// ErrRiskCheck is returned when an order violates a pre-trade rule.
var ErrRiskCheck = errors.New("risk check failed")

// RiskManager enforces pre-trade rules: a positive quantity, a buy notional
// within cash and within maxPositionPct of equity, and at most one entry
// per run.
type RiskManager struct {
	maxPositionPct float64
	entries        int
}

// NewRiskManager creates a RiskManager.
//
//   - maxPositionPct: maximum fraction of equity committed by one buy
//     (e.g. 0.10 for 10%); 0 disables the check.
func NewRiskManager(maxPositionPct float64) *RiskManager {
	return &RiskManager{maxPositionPct: maxPositionPct}
}

// CheckOrder evaluates a proposed order against the current balance.
func (rm *RiskManager) CheckOrder(order *domain.Order, bal domain.AccountBalance, price float64) error {
	if order.Qty <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrRiskCheck, order.Qty)
	}
	if order.Phase == domain.PhaseEntry && rm.entries > 0 {
		return fmt.Errorf("%w: entry already submitted this run", ErrRiskCheck)
	}
	if order.Side != domain.OrderSideBuy {
		return nil
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(order.Qty))
	if notional.GreaterThan(bal.Cash) {
		return fmt.Errorf("%w: notional %s exceeds cash %s", ErrRiskCheck, notional.StringFixed(0), bal.Cash.StringFixed(0))
	}
	if rm.maxPositionPct > 0 && bal.Equity.IsPositive() {
		limit := bal.Equity.Mul(decimal.NewFromFloat(rm.maxPositionPct))
		if notional.GreaterThan(limit) {
			return fmt.Errorf("%w: notional %s exceeds %.0f%% of equity", ErrRiskCheck, notional.StringFixed(0), rm.maxPositionPct*100)
		}
	}
	return nil
}

// RecordEntry notes that the run's entry order was submitted.
func (rm *RiskManager) RecordEntry() {
	rm.entries++
}
