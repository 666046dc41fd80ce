// Package broker defines the Broker interface and provides implementations
// for executing orders and querying accounts across different venues.
package broker

import (
	"context"

	"momentum/internal/domain"
)

// Broker abstracts venue operations for order execution and account state.
type Broker interface {
	// Name returns the broker identifier (e.g. "kiwoom", "simulator").
	Name() string

	// GetAccount returns a fresh snapshot of orderable cash and equity.
	GetAccount(ctx context.Context) (domain.AccountBalance, error)

	// GetQuote returns the latest price of an instrument.
	GetQuote(ctx context.Context, code string) (domain.Quote, error)

	// SubmitOrder sends a market order and records the broker-assigned ID on
	// it. A refusal is returned as an error wrapping domain.ErrOrderRejected.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// GetHolding returns the quantity currently held for an instrument.
	GetHolding(ctx context.Context, code string) (domain.Holding, error)

	// Fills delivers execution notifications. A nil channel means the venue
	// has no push notifications.
	Fills() <-chan domain.FillEvent
}
