package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"momentum/internal/domain"
	"momentum/internal/store"
	"momentum/internal/util"
)

// GridParams configures an offline sweep. N values are entry offsets and M
// values exit offsets, both in minutes from BaseTime.
type GridParams struct {
	Code          string // empty = every code in the store
	StartDate     string // YYYYMMDD, inclusive; empty = unbounded
	EndDate       string
	BaseTime      string // HHMM
	AutoBaseTime  bool
	NValues       []int
	MValues       []int
	Cost          float64 // round-trip cost per trade
	ForeignFilter bool
	MinNetFlow    float64
	Workers       int
}

// GridResult holds the summary metrics of one (n, m) combination.
type GridResult struct {
	N           int
	M           int
	Trades      int
	CumReturn   float64
	Sharpe      float64
	MaxDrawdown float64
}

// Backtester replays persisted sessions through the time-gated rule for a
// grid of entry/exit offsets.
type Backtester struct {
	bars  store.BarStore
	flows store.FlowStore
	cal   *util.TradingCalendar
	log   *slog.Logger
}

// NewBacktester creates a Backtester. flows may be nil when the foreign
// filter is not used.
func NewBacktester(bars store.BarStore, flows store.FlowStore, cal *util.TradingCalendar) *Backtester {
	return &Backtester{
		bars:  bars,
		flows: flows,
		cal:   cal,
		log:   slog.Default().With("component", "backtest"),
	}
}

type pricePoint struct {
	time  string
	price float64
}

type session struct {
	date   string
	points []pricePoint // sorted by time
	flow   *float64
}

// Run evaluates every (n, m) combination and returns results sorted by
// (m, n). Combinations without a single trade are omitted.
func (bt *Backtester) Run(ctx context.Context, p GridParams) ([]GridResult, error) {
	if _, err := domain.ClockMinutes(p.BaseTime); err != nil {
		return nil, fmt.Errorf("base time: %w", err)
	}
	sessions, err := bt.loadSessions(ctx, p)
	if err != nil {
		return nil, err
	}
	bt.log.Info("grid search started", "sessions", len(sessions), "n_values", len(p.NValues), "m_values", len(p.MValues))

	type combo struct{ n, m int }
	var combos []combo
	for _, n := range p.NValues {
		for _, m := range p.MValues {
			combos = append(combos, combo{n, m})
		}
	}

	results := make([]*GridResult, len(combos))
	g, ctx := errgroup.WithContext(ctx)
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, c := range combos {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rets []float64
			for _, s := range sessions {
				if r, ok := simulateSession(s, p, c.n, c.m); ok {
					rets = append(rets, r)
				}
			}
			if len(rets) == 0 {
				return nil
			}
			cum, sharpe, mdd := Metrics(rets)
			results[i] = &GridResult{N: c.n, M: c.m, Trades: len(rets), CumReturn: cum, Sharpe: sharpe, MaxDrawdown: mdd}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]GridResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].M != out[j].M {
			return out[i].M < out[j].M
		}
		return out[i].N < out[j].N
	})
	return out, nil
}

func (bt *Backtester) loadSessions(ctx context.Context, p GridParams) ([]session, error) {
	dates, err := bt.bars.ListDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing dates: %w", err)
	}

	var flows map[string]float64
	if p.ForeignFilter && bt.flows != nil {
		if flows, err = bt.flows.ForeignFlows(ctx); err != nil {
			return nil, fmt.Errorf("loading foreign flows: %w", err)
		}
	}

	var sessions []session
	for _, d := range dates {
		if (p.StartDate != "" && d < p.StartDate) || (p.EndDate != "" && d > p.EndDate) {
			continue
		}
		recs, err := bt.bars.Read(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", d, err)
		}
		s := session{date: d}
		for _, r := range recs {
			if p.Code != "" && r.Code != p.Code {
				continue
			}
			s.points = append(s.points, pricePoint{time: r.Time, price: r.Price})
		}
		if len(s.points) == 0 {
			continue
		}
		sort.Slice(s.points, func(i, j int) bool { return s.points[i].time < s.points[j].time })

		if flows != nil && bt.cal != nil {
			if day, err := bt.cal.ParseDate(d); err == nil {
				if v, ok := flows[bt.cal.PrevTradingDay(day).Format("20060102")]; ok {
					s.flow = &v
				}
			}
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// simulateSession returns the net return of one session, or false when the
// session is skipped.
func simulateSession(s session, p GridParams, n, m int) (float64, bool) {
	if p.ForeignFilter && (s.flow == nil || *s.flow <= p.MinNetFlow) {
		return 0, false
	}

	base := p.BaseTime
	if p.AutoBaseTime && s.points[0].time > base {
		base = s.points[0].time
	}
	entry, err := domain.AddMinutes(base, n)
	if err != nil {
		return 0, false
	}
	exit, err := domain.AddMinutes(base, m)
	if err != nil {
		return 0, false
	}

	open, ok1 := pickPrice(s.points, base)
	ref, ok2 := pickPrice(s.points, entry)
	last, ok3 := pickPrice(s.points, exit)
	if !ok1 || !ok2 || !ok3 || open <= 0 {
		return 0, false
	}

	direction := -1.0
	if ref > open {
		direction = 1
	}
	return direction*(last-open)/open - p.Cost, true
}

// pickPrice returns the price at target, or the last price before it.
func pickPrice(points []pricePoint, target string) (float64, bool) {
	i := sort.Search(len(points), func(i int) bool { return points[i].time > target })
	if i == 0 {
		return 0, false
	}
	return points[i-1].price, true
}

// Metrics returns the compounded return, the annualised Sharpe ratio (sample
// standard deviation, 252 sessions) and the maximum drawdown of a series of
// per-session returns.
func Metrics(rets []float64) (cum, sharpe, mdd float64) {
	if len(rets) == 0 {
		return 0, 0, 0
	}
	equity, peak := 1.0, 0.0
	var sum float64
	for i, r := range rets {
		sum += r
		equity *= 1 + r
		if i == 0 || equity > peak {
			peak = equity
		}
		if dd := equity/peak - 1; dd < mdd {
			mdd = dd
		}
	}
	cum = equity - 1

	if len(rets) > 1 {
		mean := sum / float64(len(rets))
		var ss float64
		for _, r := range rets {
			ss += (r - mean) * (r - mean)
		}
		if sd := math.Sqrt(ss / float64(len(rets)-1)); sd > 0 {
			sharpe = mean / sd * math.Sqrt(252)
		}
	}
	return cum, sharpe, mdd
}
