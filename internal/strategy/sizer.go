package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"momentum/internal/domain"
)

// PositionSizer converts cash and a fresh price into a share quantity.
type PositionSizer struct {
	Fraction    float64 // share of cash to commit
	FixedAmount float64 // target notional; 0 = use Fraction
	CashBuffer  float64 // applied when cash is below FixedAmount
}

// Size computes floor(cash*fraction/price).
func Size(cash decimal.Decimal, price, fraction float64) (int64, error) {
	return PositionSizer{Fraction: fraction}.Quantity(cash, price)
}

// Quantity returns the number of shares to buy. A result below one share
// wraps domain.ErrInsufficientFunds.
func (s PositionSizer) Quantity(cash decimal.Decimal, price float64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("sizing: invalid price %v", price)
	}
	target := cash.Mul(decimal.NewFromFloat(s.Fraction))
	if s.FixedAmount > 0 {
		target = decimal.NewFromFloat(s.FixedAmount)
		if cash.LessThan(target) {
			buffer := s.CashBuffer
			if buffer <= 0 {
				buffer = 1
			}
			target = cash.Mul(decimal.NewFromFloat(buffer))
		}
	}

	qty := target.Div(decimal.NewFromFloat(price)).Floor().IntPart()
	if qty < 1 {
		return 0, fmt.Errorf("%w: target %s at price %v buys %d shares",
			domain.ErrInsufficientFunds, target.StringFixed(0), price, qty)
	}
	return qty, nil
}
