// Package httpapi provides a read-only HTTP REST API over the engine's
// journal: persisted intraday records, orders and decisions in JSON format.
package httpapi

import (
	"math"
	"time"

	"momentum/internal/domain"
	"momentum/internal/store"
)

// RecordJSON is the JSON representation of one intraday log row. Ret is
// omitted when the opening bar was not observed.
type RecordJSON struct {
	Time   string   `json:"time"`
	Offset int      `json:"offset"`
	Code   string   `json:"code"`
	Price  float64  `json:"price"`
	Ret    *float64 `json:"ret,omitempty"`
}

// BarsResponse holds one session's records.
type BarsResponse struct {
	Date    string       `json:"date"`
	Records []RecordJSON `json:"records"`
}

// OrderJSON is the JSON representation of a journaled order.
type OrderJSON struct {
	ID             string    `json:"id"`
	BrokerID       string    `json:"brokerId,omitempty"`
	Phase          string    `json:"phase"`
	Code           string    `json:"code"`
	Side           string    `json:"side"`
	Qty            int64     `json:"qty"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	FilledQty      int64     `json:"filledQty"`
	FilledAvgPrice float64   `json:"filledAvgPrice,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SignalJSON is the JSON representation of a journaled decision.
type SignalJSON struct {
	RunID       string    `json:"runId"`
	SessionDate string    `json:"sessionDate"`
	Direction   string    `json:"direction"`
	OpenPrice   float64   `json:"openPrice,omitempty"`
	RefPrice    float64   `json:"refPrice,omitempty"`
	Ret         *float64  `json:"ret,omitempty"`
	Filter      string    `json:"filter,omitempty"`
	FilterValue *float64  `json:"filterValue,omitempty"`
	Allowed     *bool     `json:"allowed,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func convertRecord(r domain.PersistedRecord) RecordJSON {
	return RecordJSON{
		Time:   r.Time,
		Offset: r.MinuteOffset,
		Code:   r.Code,
		Price:  r.Price,
		Ret:    finite(r.RetFromStart),
	}
}

func convertOrder(o domain.Order) OrderJSON {
	return OrderJSON{
		ID:             o.ID,
		BrokerID:       o.BrokerID,
		Phase:          string(o.Phase),
		Code:           o.Code,
		Side:           string(o.Side),
		Qty:            o.Qty,
		Status:         string(o.Status),
		Reason:         o.Reason,
		FilledQty:      o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func convertSignal(rec store.SignalRecord) SignalJSON {
	s := rec.Signal
	out := SignalJSON{
		RunID:       rec.RunID,
		SessionDate: rec.SessionDate,
		Direction:   string(s.Direction),
		Reason:      s.Reason,
		CreatedAt:   rec.CreatedAt,
	}
	if s.Open != nil {
		out.OpenPrice = s.Open.Price
	}
	if s.Reference != nil {
		out.RefPrice = s.Reference.Price
		out.Ret = finite(s.Return)
	}
	if f := s.Filter; f != nil {
		allowed := f.Allowed
		out.Filter = f.Name
		out.FilterValue = finite(f.Value)
		out.Allowed = &allowed
	}
	return out
}
