// Package engine runs one trading session: it polls bars until the decision
// time, decides once, sizes and submits the entry order, exits at the exit
// time and persists every bar it saw along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"momentum/internal/broker"
	"momentum/internal/config"
	"momentum/internal/domain"
	"momentum/internal/gather"
	"momentum/internal/store"
	"momentum/internal/strategy"
	"momentum/internal/util"
)

// Outcome summarises how a run ended.
type Outcome string

const (
	OutcomeClosed            Outcome = "market_closed"
	OutcomeNeutral           Outcome = "neutral"
	OutcomeInsufficientFunds Outcome = "insufficient_funds"
	OutcomeRejected          Outcome = "rejected"
	OutcomeRiskBlocked       Outcome = "risk_blocked"
	OutcomeUnknownEntry      Outcome = "unknown_entry"
	OutcomeEntered           Outcome = "entered"
	OutcomeExited            Outcome = "exited"
)

// RunReport is the result of Engine.Run.
type RunReport struct {
	RunID         string
	SessionDate   string
	Signal        domain.Signal
	Entry         *domain.Order
	Exit          *domain.Order
	BarsPersisted int
	Outcome       Outcome
	Warnings      []string
}

func (r *RunReport) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Source   gather.BarSource
	Broker   broker.Broker
	Bars     store.BarStore
	Orders   store.OrderStore
	Signals  store.SignalStore   // optional
	Filter   strategy.RiskFilter // optional
	Calendar *util.TradingCalendar
	Clock    Clock // optional
}

// Engine orchestrates one session.
type Engine struct {
	cfg   *config.Config
	deps  Deps
	sched *Scheduler
	log   *slog.Logger
}

// New creates an Engine.
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:   cfg,
		deps:  deps,
		sched: NewScheduler(deps.Clock, cfg.Schedule.HeartbeatInterval, cfg.Schedule.TestMode),
		log:   slog.Default().With("component", "engine"),
	}
}

// Run executes the session of sessionDate (YYYYMMDD). Neutral signals,
// insufficient funds and rejected orders end the run normally; the error
// return is reserved for conditions the operator must act on, such as an
// authentication failure, a held session lock, or a cancelled context.
func (e *Engine) Run(ctx context.Context, sessionDate string) (*RunReport, error) {
	report := &RunReport{RunID: util.NewID(), SessionDate: sessionDate}
	log := e.log.With("run_id", report.RunID, "session", sessionDate)

	lock, err := store.AcquireSessionLock(e.cfg.Storage.DataDir, sessionDate)
	if err != nil {
		return report, err
	}
	defer lock.Release()

	cal := e.deps.Calendar
	day, err := cal.ParseDate(sessionDate)
	if err != nil {
		return report, err
	}
	if !e.sched.TestMode() && !cal.IsTradingDay(day) {
		log.Info("not a trading day, nothing to do")
		report.Outcome = OutcomeClosed
		return report, nil
	}

	st := e.cfg.Strategy
	rec := gather.NewRecorder(e.deps.Bars, st.OpenTime)
	sig := strategy.NewSignalEngine(st.OpenTime, st.DecisionTime, strategy.ThresholdRule{Threshold: st.EntryThreshold}, e.deps.Filter)

	log.Info("session started", "broker", e.deps.Broker.Name(), "signal_code", st.SignalCode,
		"open", st.OpenTime, "decision", st.DecisionTime, "exit", st.ExitTime, "test_mode", e.sched.TestMode())

	signal, err := e.decide(ctx, day, rec, sig, report)
	if err != nil {
		return report, err
	}
	report.Signal = signal
	e.journalSignal(ctx, report)

	if signal.Tradable() {
		if err := e.trade(ctx, day, signal, report); err != nil {
			return report, err
		}
	} else {
		report.Outcome = OutcomeNeutral
		log.Info("no trade", "reason", signal.Reason)
	}

	// Final capture so the offline log holds the whole morning.
	if _, err := e.poll(ctx, rec, sig, report); err != nil && errors.Is(err, domain.ErrAuth) {
		return report, err
	}

	log.Info("session finished", "outcome", report.Outcome, "bars_persisted", report.BarsPersisted, "warnings", len(report.Warnings))
	return report, nil
}

// decide polls bars through the decision time until the SignalEngine has
// decided or the polling window closed.
func (e *Engine) decide(ctx context.Context, day time.Time, rec *gather.Recorder, sig *strategy.SignalEngine, report *RunReport) (domain.Signal, error) {
	cal, sc, st := e.deps.Calendar, e.cfg.Schedule, e.cfg.Strategy

	openAt, err := cal.At(day, st.OpenTime)
	if err != nil {
		return domain.Signal{}, err
	}
	decisionAt, err := cal.At(day, st.DecisionTime)
	if err != nil {
		return domain.Signal{}, err
	}

	// A minute bar is complete one minute after its label.
	if err := e.sched.WaitUntil(ctx, openAt.Add(time.Minute+sc.BarLag)); err != nil {
		return domain.Signal{}, err
	}
	if s, err := e.poll(ctx, rec, sig, report); err != nil {
		return domain.Signal{}, err
	} else if s != nil {
		return *s, nil
	}

	if err := e.sched.WaitUntil(ctx, decisionAt.Add(time.Minute+sc.BarLag)); err != nil {
		return domain.Signal{}, err
	}
	deadline := decisionAt.Add(time.Minute + sc.BarLag + sc.PollWindow)
	for {
		s, err := e.poll(ctx, rec, sig, report)
		if err != nil {
			return domain.Signal{}, err
		}
		if s != nil {
			return *s, nil
		}
		next := e.sched.Now().Add(sc.PollInterval)
		if e.sched.TestMode() || sc.PollInterval <= 0 || next.After(deadline) {
			return sig.Expire(), nil
		}
		if err := e.sched.WaitUntil(ctx, next); err != nil {
			return domain.Signal{}, err
		}
	}
}

// poll fetches the signal instrument's bars once, persists them before the
// SignalEngine sees them, and returns the signal if one was decided. Only
// authentication failures (of the fetch or of the risk filter) and context
// cancellation are returned as errors; other failures become warnings and
// the caller polls again.
func (e *Engine) poll(ctx context.Context, rec *gather.Recorder, sig *strategy.SignalEngine, report *RunReport) (*domain.Signal, error) {
	code, date := e.cfg.Strategy.SignalCode, report.SessionDate

	bars, err := gather.Collect(ctx, e.deps.Source, code, date)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) || ctx.Err() != nil {
			return nil, err
		}
		e.log.Warn("bar fetch failed", "code", code, "fetched", len(bars), "error", err)
		report.warn("fetch %s: %v", code, err)
	}

	if n, err := rec.Record(ctx, bars); err != nil {
		e.log.Warn("bars not persisted", "count", len(bars), "error", err)
		report.warn("persist: %v", err)
	} else {
		report.BarsPersisted += n
	}

	for _, b := range bars {
		s, ok := sig.Observe(ctx, b)
		if err := sig.Err(); err != nil {
			return nil, err
		}
		if ok {
			return &s, nil
		}
	}
	return nil, nil
}

// trade sizes and submits the entry, then exits at the exit time.
func (e *Engine) trade(ctx context.Context, day time.Time, signal domain.Signal, report *RunReport) error {
	st := e.cfg.Strategy
	b := e.deps.Broker
	exec := NewOrderExecutor(b, e.deps.Orders, report.SessionDate)
	risk := NewRiskManager(st.MaxPositionPct)

	code := st.LongCode
	if signal.Direction == domain.DirectionShort {
		code = st.ShortCode
	}

	entry, err := e.enter(ctx, exec, risk, code, report)
	if err != nil || entry == nil {
		return err
	}
	report.Entry = entry
	report.Outcome = OutcomeEntered
	if exec.DrainFills(ctx, b.Fills()) > 0 {
		if o, err := e.deps.Orders.GetOrder(ctx, entry.ID); err == nil {
			report.Entry = o
		}
	}

	if st.ExitTime == "" {
		return nil
	}
	exitAt, err := e.deps.Calendar.At(day, st.ExitTime)
	if err != nil {
		return err
	}
	if err := e.sched.WaitUntil(ctx, exitAt); err != nil {
		return err
	}
	return e.exit(ctx, exec, entry, report)
}

func (e *Engine) enter(ctx context.Context, exec *OrderExecutor, risk *RiskManager, code string, report *RunReport) (*domain.Order, error) {
	st := e.cfg.Strategy
	b := e.deps.Broker

	// A journaled entry from an earlier process is resumed, never resent.
	if existing, err := e.deps.Orders.FindOrder(ctx, report.SessionDate, domain.PhaseEntry); err == nil {
		e.log.Warn("entry already journaled, resuming", "order_id", existing.ID, "status", existing.Status)
		switch existing.Status {
		case domain.OrderStatusRejected:
			report.Entry = existing
			report.Outcome = OutcomeRejected
			return nil, nil
		case domain.OrderStatusPending:
			return e.resumePending(ctx, existing, report)
		}
		return existing, nil
	}

	bal, err := b.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	quote, err := b.GetQuote(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w", code, err)
	}

	sizer := strategy.PositionSizer{Fraction: st.AllocationFraction, FixedAmount: st.FixedInvestAmount, CashBuffer: st.CashBuffer}
	qty, err := sizer.Quantity(bal.Cash, quote.Price)
	if errors.Is(err, domain.ErrInsufficientFunds) {
		e.log.Warn("insufficient funds, no order", "cash", bal.Cash.String(), "price", quote.Price, "error", err)
		report.Outcome = OutcomeInsufficientFunds
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	intent := &domain.Order{Phase: domain.PhaseEntry, Code: code, Side: domain.OrderSideBuy, Qty: qty}
	if err := risk.CheckOrder(intent, bal, quote.Price); err != nil {
		e.log.Warn("entry blocked by risk check", "error", err)
		report.Outcome = OutcomeRiskBlocked
		report.warn("%v", err)
		return nil, nil
	}

	order, err := exec.Submit(ctx, domain.PhaseEntry, code, domain.OrderSideBuy, qty)
	switch {
	case err == nil:
		risk.RecordEntry()
		return order, nil
	case errors.Is(err, domain.ErrOrderRejected):
		report.Entry = order
		report.Outcome = OutcomeRejected
		return nil, nil
	case errors.Is(err, store.ErrOrderExists):
		return order, nil
	default:
		return nil, err
	}
}

// resumePending handles an entry whose submission outcome was never
// recorded. It is only exited when the broker's holdings confirm the fill;
// otherwise the run ends with OutcomeUnknownEntry and nothing is sold.
func (e *Engine) resumePending(ctx context.Context, entry *domain.Order, report *RunReport) (*domain.Order, error) {
	if e.cfg.Strategy.ExitQuantityPolicy == "holdings" {
		h, err := e.deps.Broker.GetHolding(ctx, entry.Code)
		if err != nil {
			return nil, fmt.Errorf("holding %s: %w", entry.Code, err)
		}
		if h.Qty > 0 {
			report.warn("entry %s pending from an earlier run; broker holds %d %s", entry.ID, h.Qty, entry.Code)
			return entry, nil
		}
	}
	e.log.Error("entry outcome unknown, exit skipped", "order_id", entry.ID, "code", entry.Code)
	report.Entry = entry
	report.Outcome = OutcomeUnknownEntry
	report.warn("entry %s still pending from an earlier run; no exit sent, check the broker", entry.ID)
	return nil, nil
}

func (e *Engine) exit(ctx context.Context, exec *OrderExecutor, entry *domain.Order, report *RunReport) error {
	b := e.deps.Broker
	qty := entry.Qty
	if e.cfg.Strategy.ExitQuantityPolicy == "holdings" {
		h, err := b.GetHolding(ctx, entry.Code)
		if err != nil {
			return fmt.Errorf("holding %s: %w", entry.Code, err)
		}
		qty = h.Qty
	}
	if qty <= 0 {
		e.log.Warn("nothing to sell at exit", "code", entry.Code)
		report.warn("exit skipped: no quantity for %s", entry.Code)
		return nil
	}

	order, err := exec.Submit(ctx, domain.PhaseExit, entry.Code, domain.OrderSideSell, qty)
	report.Exit = order
	switch {
	case err == nil:
		report.Outcome = OutcomeExited
	case errors.Is(err, domain.ErrOrderRejected):
		report.warn("exit rejected: %v", err)
	case errors.Is(err, store.ErrOrderExists):
		report.Outcome = OutcomeExited
	default:
		return err
	}
	exec.DrainFills(ctx, b.Fills())
	return nil
}

func (e *Engine) journalSignal(ctx context.Context, report *RunReport) {
	if e.deps.Signals == nil {
		return
	}
	rec := store.SignalRecord{
		RunID:       report.RunID,
		SessionDate: report.SessionDate,
		Signal:      report.Signal,
		CreatedAt:   time.Now(),
	}
	if err := e.deps.Signals.SaveSignal(ctx, rec); err != nil {
		e.log.Warn("signal not journaled", "error", err)
		report.warn("journal signal: %v", err)
	}
}
