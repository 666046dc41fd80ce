package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"momentum/internal/domain"
)

// State is the position of a SignalEngine in its once-per-session lifecycle.
type State int

const (
	StateAwaitOpen State = iota
	StateAwaitReference
	StateCompute
	StateDecided
)

func (s State) String() string {
	switch s {
	case StateAwaitOpen:
		return "await_open"
	case StateAwaitReference:
		return "await_reference"
	case StateCompute:
		return "compute"
	case StateDecided:
		return "decided"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SignalEngine indexes bars by clock time and produces exactly one Signal
// per session: once both the opening and the reference bars were observed,
// or when the polling window expires.
type SignalEngine struct {
	openTime string
	refTime  string
	rule     Rule
	filter   RiskFilter

	bars    map[string]domain.Bar
	state   State
	open    *domain.Bar
	ref     *domain.Bar
	verdict *domain.FilterVerdict
	signal  domain.Signal
	err     error
	log     *slog.Logger
}

// NewSignalEngine creates an engine comparing the bar at openTime with the
// bar at refTime (both HHMM). A nil filter behaves like NopFilter.
func NewSignalEngine(openTime, refTime string, rule Rule, filter RiskFilter) *SignalEngine {
	if filter == nil {
		filter = NopFilter{}
	}
	return &SignalEngine{
		openTime: openTime,
		refTime:  refTime,
		rule:     rule,
		filter:   filter,
		bars:     make(map[string]domain.Bar),
		log:      slog.Default().With("component", "signal"),
	}
}

// State returns the current lifecycle state.
func (e *SignalEngine) State() State { return e.state }

// Err returns the failure that must abort the session instead of yielding
// a Neutral decision: a filter whose credentials were refused.
func (e *SignalEngine) Err() error { return e.err }

// Observe indexes bar and advances as far as the observed bars allow. It
// returns the Signal and true once Decided; later bars are ignored.
func (e *SignalEngine) Observe(ctx context.Context, bar domain.Bar) (domain.Signal, bool) {
	if e.state == StateDecided {
		return e.signal, true
	}
	e.bars[bar.Time] = bar

	for {
		switch e.state {
		case StateAwaitOpen:
			b, ok := e.bars[e.openTime]
			if !ok {
				return domain.Signal{}, false
			}
			e.open = &b
			e.log.Info("open bar observed", "time", b.Time, "price", b.Price)
			if !e.runFilter(ctx, b.Date) {
				return e.signal, true
			}
			e.state = StateAwaitReference

		case StateAwaitReference:
			b, ok := e.bars[e.refTime]
			if !ok {
				return domain.Signal{}, false
			}
			e.ref = &b
			e.log.Info("reference bar observed", "time", b.Time, "price", b.Price)
			e.state = StateCompute

		case StateCompute:
			e.compute()
			return e.signal, true

		case StateDecided:
			return e.signal, true
		}
	}
}

// Expire closes the polling window. If the engine has not decided yet the
// outcome is Neutral with a "no data" reason.
func (e *SignalEngine) Expire() domain.Signal {
	if e.state == StateDecided {
		return e.signal
	}
	reason := "no data: open bar " + e.openTime + " not observed"
	if e.open != nil {
		reason = "no data: reference bar " + e.refTime + " not observed"
	}
	e.decide(domain.Signal{Direction: domain.DirectionNeutral, Reason: reason})
	return e.signal
}

func (e *SignalEngine) runFilter(ctx context.Context, sessionDate string) bool {
	v, err := e.filter.Evaluate(ctx, sessionDate)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			e.err = fmt.Errorf("risk filter %s: %w", e.filter.Name(), err)
		}
		e.log.Warn("risk filter failed, blocking entry", "filter", e.filter.Name(), "error", err)
		e.verdict = &domain.FilterVerdict{Name: e.filter.Name(), Reason: err.Error()}
		e.decide(domain.Signal{Direction: domain.DirectionNeutral, Reason: "filter error: " + err.Error()})
		return false
	}
	e.verdict = &v
	if !v.Allowed {
		e.log.Info("risk filter blocked entry", "filter", v.Name, "value", v.Value, "reason", v.Reason)
		e.decide(domain.Signal{Direction: domain.DirectionNeutral, Reason: "filtered: " + v.Reason})
		return false
	}
	return true
}

func (e *SignalEngine) compute() {
	if e.open.Price <= 0 {
		e.decide(domain.Signal{Direction: domain.DirectionNeutral, Reason: "no data: open price not positive"})
		return
	}
	ret := e.ref.Price/e.open.Price - 1
	dir, reason := e.rule.Decide(ret)
	e.decide(domain.Signal{Direction: dir, Return: ret, Reason: e.rule.Name() + ": " + reason})
}

func (e *SignalEngine) decide(s domain.Signal) {
	s.Open, s.Reference, s.Filter = e.open, e.ref, e.verdict
	e.signal = s
	e.state = StateDecided
	e.log.Info("signal decided", "direction", s.Direction, "return", s.Return, "reason", s.Reason)
}
