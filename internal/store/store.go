// Package store defines storage interfaces for persisting and retrieving
// intraday records, orders, signals and cached market statistics.
package store

import (
	"context"
	"errors"
	"time"

	"momentum/internal/domain"
)

// ErrOrderExists is returned when an order was already journaled for the
// same session date and phase.
var ErrOrderExists = errors.New("order already journaled for session phase")

// BarStore persists and retrieves the intraday log.
type BarStore interface {
	// Append merges records into storage. Records sharing (date, time, code)
	// with existing rows replace them.
	Append(ctx context.Context, records []domain.PersistedRecord) error

	// Read returns all records for the given session date sorted by time.
	Read(ctx context.Context, date string) ([]domain.PersistedRecord, error)

	// ListDates returns all session dates with stored records, ascending.
	ListDates(ctx context.Context) ([]string, error)
}

// OrderStore persists and retrieves order records.
type OrderStore interface {
	// SaveOrder inserts a new order. It returns ErrOrderExists if an order
	// for the same session date and phase is already present.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// FindOrder retrieves the order journaled for a session phase.
	FindOrder(ctx context.Context, sessionDate string, phase domain.Phase) (*domain.Order, error)

	// ListOrders returns all orders of a session date.
	ListOrders(ctx context.Context, sessionDate string) ([]domain.Order, error)

	// UpdateOrder persists status and fill changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// SignalRecord is one journaled decision.
type SignalRecord struct {
	RunID       string
	SessionDate string
	Signal      domain.Signal
	CreatedAt   time.Time
}

// SignalStore persists and retrieves decisions.
type SignalStore interface {
	// SaveSignal inserts a decision for a run.
	SaveSignal(ctx context.Context, rec SignalRecord) error

	// ListSignals returns the most recent decisions, up to limit.
	ListSignals(ctx context.Context, limit int) ([]SignalRecord, error)
}

// FlowStore caches the daily net foreign flow used by the entry filter and
// the offline grid search.
type FlowStore interface {
	SaveForeignFlow(ctx context.Context, date string, net float64) error
	GetForeignFlow(ctx context.Context, date string) (float64, error)
	ForeignFlows(ctx context.Context) (map[string]float64, error)
}
