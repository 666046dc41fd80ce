package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"momentum/internal/broker"
	"momentum/internal/domain"
	"momentum/internal/store"
	"momentum/internal/util"
)

// OrderExecutor submits market orders at most once per session phase. Each
// order is journaled as pending before it is sent, so a restarted process
// never resubmits an order whose outcome is unknown.
type OrderExecutor struct {
	broker      broker.Broker
	journal     store.OrderStore
	sessionDate string
	log         *slog.Logger
}

// NewOrderExecutor creates an OrderExecutor for one session date.
func NewOrderExecutor(b broker.Broker, journal store.OrderStore, sessionDate string) *OrderExecutor {
	return &OrderExecutor{
		broker:      b,
		journal:     journal,
		sessionDate: sessionDate,
		log:         slog.Default().With("component", "executor", "broker", b.Name()),
	}
}

// Submit sends a market order for phase. If the phase was already journaled
// the existing order is returned with an error wrapping
// store.ErrOrderExists. A broker refusal wraps domain.ErrOrderRejected and
// is never retried.
func (x *OrderExecutor) Submit(ctx context.Context, phase domain.Phase, code string, side domain.OrderSide, qty int64) (*domain.Order, error) {
	if existing, err := x.journal.FindOrder(ctx, x.sessionDate, phase); err == nil {
		x.log.Warn("order already journaled, not resubmitting", "phase", phase, "order_id", existing.ID, "status", existing.Status)
		return existing, fmt.Errorf("%s %s: %w", x.sessionDate, phase, store.ErrOrderExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("journal lookup: %w", err)
	}

	now := time.Now()
	order := &domain.Order{
		ID:          util.NewID(),
		SessionDate: x.sessionDate,
		Phase:       phase,
		Code:        code,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		Qty:         qty,
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := x.journal.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("journal order: %w", err)
	}

	// The order is on its way once journaled; a cancelled run must still
	// record the broker's answer.
	sctx := context.WithoutCancel(ctx)
	x.log.Info("submitting order", "order_id", order.ID, "phase", phase, "side", side, "code", code, "qty", qty)
	_, err := x.broker.SubmitOrder(sctx, order)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderRejected) {
			x.log.Error("order outcome unknown, left pending", "order_id", order.ID, "error", err)
			return order, fmt.Errorf("submit %s: %w", order.ID, err)
		}
		order.Reason = err.Error()
		if aerr := order.Advance(domain.OrderStatusRejected); aerr != nil {
			return order, aerr
		}
		if uerr := x.journal.UpdateOrder(sctx, order); uerr != nil {
			x.log.Error("journal update failed", "order_id", order.ID, "error", uerr)
		}
		x.log.Error("order rejected", "order_id", order.ID, "reason", order.Reason)
		return order, err
	}

	if err := order.Advance(domain.OrderStatusAccepted); err != nil {
		return order, err
	}
	if err := x.journal.UpdateOrder(sctx, order); err != nil {
		x.log.Error("journal update failed", "order_id", order.ID, "error", err)
	}
	x.log.Info("order accepted", "order_id", order.ID, "broker_id", order.BrokerID)
	return order, nil
}

// ApplyFill records a fill against its journaled order, advancing it to
// filled once the full quantity executed.
func (x *OrderExecutor) ApplyFill(ctx context.Context, ev domain.FillEvent) (*domain.Order, error) {
	order, err := x.journal.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return nil, fmt.Errorf("fill for %s: %w", ev.OrderID, err)
	}
	if order.Status.Terminal() {
		return order, nil
	}

	total := order.FilledQty + ev.Qty
	if total > 0 {
		order.FilledAvgPrice = (order.FilledAvgPrice*float64(order.FilledQty) + ev.Price*float64(ev.Qty)) / float64(total)
	}
	order.FilledQty = total
	order.UpdatedAt = time.Now()
	if order.FilledQty >= order.Qty {
		if err := order.Advance(domain.OrderStatusFilled); err != nil {
			return order, err
		}
	}
	if err := x.journal.UpdateOrder(ctx, order); err != nil {
		return order, err
	}
	x.log.Info("fill applied", "order_id", order.ID, "filled_qty", order.FilledQty, "avg_price", order.FilledAvgPrice, "status", order.Status)
	return order, nil
}

// DrainFills applies every notification already waiting on ch without
// blocking and returns how many were applied. A nil channel is a no-op.
func (x *OrderExecutor) DrainFills(ctx context.Context, ch <-chan domain.FillEvent) int {
	n := 0
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return n
			}
			if _, err := x.ApplyFill(ctx, ev); err != nil {
				x.log.Warn("fill not applied", "order_id", ev.OrderID, "error", err)
				continue
			}
			n++
		default:
			return n
		}
	}
}
