package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"momentum/internal/domain"
	"momentum/internal/store"
	"momentum/internal/util"
)

// RiskFilter is consulted once, after the opening bar was observed. A
// verdict with Allowed=false, or an error, blocks the session's entry.
type RiskFilter interface {
	Name() string
	Evaluate(ctx context.Context, sessionDate string) (domain.FilterVerdict, error)
}

// NopFilter allows every session.
type NopFilter struct{}

// Name returns "none".
func (NopFilter) Name() string { return "none" }

// Evaluate always allows.
func (NopFilter) Evaluate(context.Context, string) (domain.FilterVerdict, error) {
	return domain.FilterVerdict{Name: "none", Allowed: true}, nil
}

// FlowSource reports the net foreign flow of a market on a date.
type FlowSource interface {
	ForeignNetFlow(ctx context.Context, date, market, sectorPrefix string) (float64, error)
}

// ForeignFlowFilter allows a session only when the previous trading day's
// net foreign flow exceeds Min. Fetched values are cached in the FlowStore
// keyed by the flow's own date.
type ForeignFlowFilter struct {
	Source FlowSource
	Cache  store.FlowStore // optional
	Cal    *util.TradingCalendar
	Min    float64
	Market string
	Sector string

	log *slog.Logger
}

// NewForeignFlowFilter creates a ForeignFlowFilter.
func NewForeignFlowFilter(src FlowSource, cache store.FlowStore, cal *util.TradingCalendar, min float64, market, sector string) *ForeignFlowFilter {
	return &ForeignFlowFilter{
		Source: src,
		Cache:  cache,
		Cal:    cal,
		Min:    min,
		Market: market,
		Sector: sector,
		log:    slog.Default().With("component", "foreign-filter"),
	}
}

// Name returns "foreign_flow".
func (f *ForeignFlowFilter) Name() string { return "foreign_flow" }

// Evaluate looks up the prior session's flow, from cache when possible.
func (f *ForeignFlowFilter) Evaluate(ctx context.Context, sessionDate string) (domain.FilterVerdict, error) {
	day, err := f.Cal.ParseDate(sessionDate)
	if err != nil {
		return domain.FilterVerdict{}, err
	}
	prev := f.Cal.PrevTradingDay(day).Format("20060102")

	net, err := f.lookup(ctx, prev)
	if err != nil {
		return domain.FilterVerdict{}, fmt.Errorf("foreign flow %s: %w", prev, err)
	}
	v := domain.FilterVerdict{Name: f.Name(), Value: net, Allowed: net > f.Min}
	if v.Allowed {
		v.Reason = fmt.Sprintf("foreign net %s on %s > %s", FormatFlow(net), prev, FormatFlow(f.Min))
	} else {
		v.Reason = fmt.Sprintf("foreign net %s on %s <= %s", FormatFlow(net), prev, FormatFlow(f.Min))
	}
	return v, nil
}

func (f *ForeignFlowFilter) lookup(ctx context.Context, date string) (float64, error) {
	if f.Cache != nil {
		net, err := f.Cache.GetForeignFlow(ctx, date)
		if err == nil {
			return net, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			f.log.Warn("flow cache read failed", "date", date, "error", err)
		}
	}
	net, err := f.Source.ForeignNetFlow(ctx, date, f.Market, f.Sector)
	if err != nil {
		return 0, err
	}
	if f.Cache != nil {
		if err := f.Cache.SaveForeignFlow(ctx, date, net); err != nil {
			f.log.Warn("flow cache write failed", "date", date, "error", err)
		}
	}
	return net, nil
}

// FormatFlow renders a flow amount without exponent notation.
func FormatFlow(v float64) string {
	return fmt.Sprintf("%.0f", v)
}
