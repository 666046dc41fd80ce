package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"momentum/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper runs and tests.
// It tracks cash, holdings and orders in memory and fills every accepted
// market order immediately at the current simulated price.
type SimulatorBroker struct {
	mu         sync.Mutex
	cash       decimal.Decimal
	prices     map[string]float64
	holdings   map[string]int64
	orders     map[string]*domain.Order
	rejectNext string
	seq        int
	fills      chan domain.FillEvent
}

// NewSimulatorBroker creates a SimulatorBroker holding cash.
func NewSimulatorBroker(cash decimal.Decimal) *SimulatorBroker {
	return &SimulatorBroker{
		cash:     cash,
		prices:   make(map[string]float64),
		holdings: make(map[string]int64),
		orders:   make(map[string]*domain.Order),
		fills:    make(chan domain.FillEvent, 64),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetPrice sets the simulated price of code.
func (b *SimulatorBroker) SetPrice(code string, price float64) {
	b.mu.Lock()
	b.prices[code] = price
	b.mu.Unlock()
}

// RejectNext makes the next SubmitOrder fail with reason.
func (b *SimulatorBroker) RejectNext(reason string) {
	b.mu.Lock()
	b.rejectNext = reason
	b.mu.Unlock()
}

// Orders returns copies of all accepted orders.
func (b *SimulatorBroker) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	return out
}

// GetAccount returns simulated cash; equity includes holdings at current prices.
func (b *SimulatorBroker) GetAccount(_ context.Context) (domain.AccountBalance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for code, qty := range b.holdings {
		equity = equity.Add(decimal.NewFromFloat(b.prices[code]).Mul(decimal.NewFromInt(qty)))
	}
	return domain.AccountBalance{Cash: b.cash, Equity: equity}, nil
}

// GetQuote returns the simulated price.
func (b *SimulatorBroker) GetQuote(_ context.Context, code string) (domain.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[code]
	if !ok || p <= 0 {
		return domain.Quote{}, fmt.Errorf("simulator quote %s: %w", code, domain.ErrNotFound)
	}
	return domain.Quote{Code: code, Price: p, Time: time.Now()}, nil
}

// SubmitOrder accepts the order and fills it immediately.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reason := b.rejectNext; reason != "" {
		b.rejectNext = ""
		return order, &domain.RejectedError{Code: "SIM", Reason: reason}
	}
	price, ok := b.prices[order.Code]
	if !ok || price <= 0 {
		return order, &domain.RejectedError{Code: "SIM", Reason: "no price for " + order.Code}
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(order.Qty))

	switch order.Side {
	case domain.OrderSideBuy:
		if notional.GreaterThan(b.cash) {
			return order, &domain.RejectedError{Code: "SIM", Reason: "insufficient cash"}
		}
		b.cash = b.cash.Sub(notional)
		b.holdings[order.Code] += order.Qty
	case domain.OrderSideSell:
		if b.holdings[order.Code] < order.Qty {
			return order, &domain.RejectedError{Code: "SIM", Reason: "insufficient holdings"}
		}
		b.cash = b.cash.Add(notional)
		b.holdings[order.Code] -= order.Qty
	}

	b.seq++
	order.BrokerID = fmt.Sprintf("SIM-%d", b.seq)
	cp := *order
	b.orders[order.BrokerID] = &cp

	select {
	case b.fills <- domain.FillEvent{
		OrderID:  order.ID,
		BrokerID: order.BrokerID,
		Code:     order.Code,
		Qty:      order.Qty,
		Price:    price,
		Time:     time.Now(),
	}:
	default:
	}
	return order, nil
}

// GetHolding returns the simulated quantity held.
func (b *SimulatorBroker) GetHolding(_ context.Context, code string) (domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.Holding{Code: code, Qty: b.holdings[code]}, nil
}

// Fills returns the fill notification channel.
func (b *SimulatorBroker) Fills() <-chan domain.FillEvent {
	return b.fills
}
