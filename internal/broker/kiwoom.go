package broker

import (
	"context"

	"momentum/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*KiwoomBroker)(nil)

// kiwoomAPI is the subset of *kiwoom.API the broker needs.
type kiwoomAPI interface {
	Balance(ctx context.Context) (domain.AccountBalance, error)
	Quote(ctx context.Context, code string) (domain.Quote, error)
	Holding(ctx context.Context, code string) (domain.Holding, error)
	PlaceMarketOrder(ctx context.Context, side domain.OrderSide, code string, qty int64) (string, error)
}

// KiwoomBroker implements the Broker interface on the Kiwoom REST API.
// The REST surface has no fill push, so Fills returns nil.
type KiwoomBroker struct {
	api kiwoomAPI
}

// NewKiwoomBroker creates a KiwoomBroker over api (usually *kiwoom.API).
func NewKiwoomBroker(api kiwoomAPI) *KiwoomBroker {
	return &KiwoomBroker{api: api}
}

// Name returns "kiwoom".
func (b *KiwoomBroker) Name() string {
	return "kiwoom"
}

// GetAccount queries the deposit endpoint.
func (b *KiwoomBroker) GetAccount(ctx context.Context) (domain.AccountBalance, error) {
	return b.api.Balance(ctx)
}

// GetQuote queries the current price endpoint.
func (b *KiwoomBroker) GetQuote(ctx context.Context, code string) (domain.Quote, error) {
	return b.api.Quote(ctx, code)
}

// SubmitOrder places a market order.
func (b *KiwoomBroker) SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	ordNo, err := b.api.PlaceMarketOrder(ctx, order.Side, order.Code, order.Qty)
	if err != nil {
		return order, err
	}
	order.BrokerID = ordNo
	return order, nil
}

// GetHolding queries the account evaluation endpoint.
func (b *KiwoomBroker) GetHolding(ctx context.Context, code string) (domain.Holding, error) {
	return b.api.Holding(ctx, code)
}

// Fills returns nil.
func (b *KiwoomBroker) Fills() <-chan domain.FillEvent {
	return nil
}
