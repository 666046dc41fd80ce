// Package domain defines the core value types shared by every layer of the
// execution engine: bars, signals, orders, balances and persisted records.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one intraday price observation. Time is always normalized to HHMM
// regardless of the precision the upstream endpoint reported.
type Bar struct {
	Date  string  // YYYYMMDD
	Time  string  // HHMM
	Code  string  // instrument code
	Price float64 // last traded price in the minute
}

// ReturnObservation is a Bar expressed relative to the session's opening
// reference bar.
type ReturnObservation struct {
	MinuteOffset int
	RetFromStart float64
}

// Observe derives the ReturnObservation of b relative to open. When open is
// nil (not observed yet) the return is NaN and the offset is measured from
// the supplied fallback clock time.
func Observe(b Bar, open *Bar, fallbackOpen string) ReturnObservation {
	base := fallbackOpen
	if open != nil {
		base = open.Time
	}
	obs := ReturnObservation{RetFromStart: math.NaN()}
	if off, err := MinutesBetween(base, b.Time); err == nil {
		obs.MinuteOffset = off
	}
	if open != nil && open.Price > 0 {
		obs.RetFromStart = b.Price/open.Price - 1
	}
	return obs
}

// ClockMinutes converts an HHMM string into minutes since midnight.
func ClockMinutes(hhmm string) (int, error) {
	if len(hhmm) != 4 {
		return 0, fmt.Errorf("clock %q: want HHMM", hhmm)
	}
	n, err := strconv.Atoi(hhmm)
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", hhmm, err)
	}
	h, m := n/100, n%100
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("clock %q: out of range", hhmm)
	}
	return h*60 + m, nil
}

// MinutesBetween returns to-from in minutes for two HHMM clock values.
func MinutesBetween(from, to string) (int, error) {
	a, err := ClockMinutes(from)
	if err != nil {
		return 0, err
	}
	b, err := ClockMinutes(to)
	if err != nil {
		return 0, err
	}
	return b - a, nil
}

// AddMinutes shifts an HHMM clock value by delta minutes.
func AddMinutes(hhmm string, delta int) (string, error) {
	m, err := ClockMinutes(hhmm)
	if err != nil {
		return "", err
	}
	m += delta
	if m < 0 || m >= 24*60 {
		return "", fmt.Errorf("clock %q%+d: out of range", hhmm, delta)
	}
	return fmt.Sprintf("%02d%02d", m/60, m%60), nil
}

// Quote is a latest-price snapshot used for sizing.
type Quote struct {
	Code  string
	Price float64
	Time  time.Time
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Direction is the outcome of a session's decision.
type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

// FilterVerdict is the result of a pre-trade risk filter.
type FilterVerdict struct {
	Name    string
	Allowed bool
	Value   float64
	Reason  string
}

// Signal is computed once per run, after both reference bars were observed
// or the polling window expired.
type Signal struct {
	Direction Direction
	Open      *Bar
	Reference *Bar
	Return    float64
	Filter    *FilterVerdict
	Reason    string
}

// Tradable reports whether the signal asks for a position.
func (s Signal) Tradable() bool {
	return s.Direction == DirectionLong || s.Direction == DirectionShort
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide indicates whether an order is a buy or a sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style. Only market orders are supported.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusAccepted OrderStatus = "accepted"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusFilled   OrderStatus = "filled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusRejected || s == OrderStatusFilled
}

// Phase names the point in the session an order belongs to.
type Phase string

const (
	PhaseEntry Phase = "entry"
	PhaseExit  Phase = "exit"
)

// Order is a single market order submitted by the engine.
type Order struct {
	ID             string // client-side ULID
	BrokerID       string
	SessionDate    string
	Phase          Phase
	Code           string
	Side           OrderSide
	Type           OrderType
	Qty            int64
	Status         OrderStatus
	Reason         string
	FilledQty      int64
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Advance moves the order to next, refusing regressions:
// pending→accepted→filled and pending→rejected.
func (o *Order) Advance(next OrderStatus) error {
	allowed := false
	switch o.Status {
	case OrderStatusPending:
		allowed = next == OrderStatusAccepted || next == OrderStatusRejected
	case OrderStatusAccepted:
		allowed = next == OrderStatusFilled
	}
	if !allowed {
		return fmt.Errorf("order %s: illegal transition %s -> %s", o.ID, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return nil
}

// FillEvent is an execution notification delivered by a broker.
type FillEvent struct {
	OrderID  string
	BrokerID string
	Code     string
	Qty      int64
	Price    float64
	Time     time.Time
}

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

// AccountBalance is a fresh snapshot of cash available for orders.
type AccountBalance struct {
	Cash   decimal.Decimal
	Equity decimal.Decimal
}

// Holding is the broker-reported quantity held for one instrument.
type Holding struct {
	Code     string
	Qty      int64
	AvgPrice float64
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// PersistedRecord is one row of the intraday log. (Date, Time, Code) is
// unique within a store.
type PersistedRecord struct {
	Date         string
	Time         string
	MinuteOffset int
	Code         string
	Price        float64
	RetFromStart float64 // NaN when the opening bar was not observed
}

// NewRecord builds a PersistedRecord for b relative to open.
func NewRecord(b Bar, open *Bar, fallbackOpen string) PersistedRecord {
	obs := Observe(b, open, fallbackOpen)
	return PersistedRecord{
		Date:         b.Date,
		Time:         b.Time,
		MinuteOffset: obs.MinuteOffset,
		Code:         b.Code,
		Price:        b.Price,
		RetFromStart: obs.RetFromStart,
	}
}
