package engine

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"momentum/internal/broker"
	"momentum/internal/config"
	"momentum/internal/domain"
	"momentum/internal/store"
	"momentum/internal/strategy"
	"momentum/internal/util"
)

const session = "20240105"

type fakeSource struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (f *fakeSource) FetchBars(context.Context, string, string) iter.Seq2[domain.Bar, error] {
	f.calls++
	return func(yield func(domain.Bar, error) bool) {
		if f.err != nil {
			yield(domain.Bar{}, f.err)
			return
		}
		for _, b := range f.bars {
			if !yield(b, nil) {
				return
			}
		}
	}
}

func morningBars() []domain.Bar {
	return []domain.Bar{
		{Date: session, Time: "0900", Code: "069500", Price: 50000},
		{Date: session, Time: "0901", Code: "069500", Price: 50050},
		{Date: session, Time: "0902", Code: "069500", Price: 50100},
	}
}

type harness struct {
	cfg    *config.Config
	sim    *broker.SimulatorBroker
	bars   *store.ParquetStore
	orders *store.SQLiteStore
	src    *fakeSource
	filter strategy.RiskFilter
	engine *Engine
}

func newHarness(t *testing.T, cash int64) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Schedule.TestMode = true
	cfg.Storage.DataDir = dir
	cfg.Strategy.ExitTime = ""

	db, err := store.NewSQLiteStore(filepath.Join(dir, "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sim := broker.NewSimulatorBroker(decimal.NewFromInt(cash))
	sim.SetPrice("069500", 50000)
	sim.SetPrice("114800", 5000)

	h := &harness{
		cfg:    cfg,
		sim:    sim,
		bars:   store.NewParquetStore(dir),
		orders: db,
		src:    &fakeSource{bars: morningBars()},
	}
	h.build()
	return h
}

func (h *harness) build() {
	h.engine = New(h.cfg, Deps{
		Source:   h.src,
		Broker:   h.sim,
		Bars:     h.bars,
		Orders:   h.orders,
		Signals:  h.orders,
		Filter:   h.filter,
		Calendar: util.NewTradingCalendar(time.UTC, nil),
	})
}

func TestRunInsufficientFundsPersistsBars(t *testing.T) {
	h := newHarness(t, 500000)
	ctx := context.Background()

	rep, err := h.engine.Run(ctx, session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Signal.Direction != domain.DirectionLong {
		t.Errorf("direction = %s, want long", rep.Signal.Direction)
	}
	if rep.Outcome != OutcomeInsufficientFunds {
		t.Errorf("outcome = %s, want %s", rep.Outcome, OutcomeInsufficientFunds)
	}
	if rep.Entry != nil {
		t.Errorf("unexpected entry order %+v", rep.Entry)
	}

	recs, err := h.bars.Read(ctx, session)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("persisted %d records, want 3", len(recs))
	}
	orders, _ := h.orders.ListOrders(ctx, session)
	if len(orders) != 0 {
		t.Errorf("journal has %d orders, want 0", len(orders))
	}
	sigs, _ := h.orders.ListSignals(ctx, 10)
	if len(sigs) != 1 {
		t.Errorf("journaled %d signals, want 1", len(sigs))
	}
}

func TestRunBuysLongCode(t *testing.T) {
	h := newHarness(t, 5000000)
	ctx := context.Background()

	rep, err := h.engine.Run(ctx, session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeEntered {
		t.Fatalf("outcome = %s, want %s", rep.Outcome, OutcomeEntered)
	}
	e := rep.Entry
	if e.Side != domain.OrderSideBuy || e.Code != "069500" || e.Qty != 3 {
		t.Errorf("entry = %+v, want buy 3 of 069500", e)
	}
	if e.Status != domain.OrderStatusAccepted && e.Status != domain.OrderStatusFilled {
		t.Errorf("entry status = %s", e.Status)
	}
	if e.BrokerID == "" {
		t.Error("broker id not recorded")
	}

	journaled, err := h.orders.FindOrder(ctx, session, domain.PhaseEntry)
	if err != nil {
		t.Fatalf("FindOrder: %v", err)
	}
	if journaled.Status != domain.OrderStatusFilled || journaled.FilledQty != 3 {
		t.Errorf("journaled entry = %+v", journaled)
	}
}

func TestRunShortBuysInverse(t *testing.T) {
	h := newHarness(t, 5000000)
	h.src.bars = []domain.Bar{
		{Date: session, Time: "0900", Code: "069500", Price: 50000},
		{Date: session, Time: "0902", Code: "069500", Price: 49900},
	}

	rep, err := h.engine.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Entry == nil || rep.Entry.Code != "114800" || rep.Entry.Side != domain.OrderSideBuy || rep.Entry.Qty != 30 {
		t.Errorf("entry = %+v, want buy 30 of 114800", rep.Entry)
	}
}

func TestRunExitAndResume(t *testing.T) {
	h := newHarness(t, 5000000)
	h.cfg.Strategy.ExitTime = "1000"
	h.cfg.Strategy.ExitQuantityPolicy = "holdings"
	h.build()
	ctx := context.Background()

	rep, err := h.engine.Run(ctx, session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeExited {
		t.Fatalf("outcome = %s, want %s", rep.Outcome, OutcomeExited)
	}
	if rep.Exit == nil || rep.Exit.Side != domain.OrderSideSell || rep.Exit.Qty != 3 {
		t.Errorf("exit = %+v, want sell 3", rep.Exit)
	}
	if n := len(h.sim.Orders()); n != 2 {
		t.Fatalf("broker saw %d orders, want 2", n)
	}

	// A second run for the same session must not resubmit anything.
	if _, err := h.engine.Run(ctx, session); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if n := len(h.sim.Orders()); n != 2 {
		t.Errorf("broker saw %d orders after rerun, want 2", n)
	}
}

type fakeFlows struct {
	net   float64
	err   error
	dates []string
}

func (f *fakeFlows) ForeignNetFlow(_ context.Context, date, _, _ string) (float64, error) {
	f.dates = append(f.dates, date)
	return f.net, f.err
}

func (h *harness) useForeignFilter(flows *fakeFlows) {
	h.filter = strategy.NewForeignFlowFilter(flows, h.orders, util.NewTradingCalendar(time.UTC, nil), 0, "0", "001")
	h.build()
}

func openRefBars() []domain.Bar {
	return []domain.Bar{
		{Date: session, Time: "0900", Code: "069500", Price: 100},
		{Date: session, Time: "0902", Code: "069500", Price: 101},
	}
}

func TestRunFilteredSessionSizing(t *testing.T) {
	tests := []struct {
		name    string
		cash    int64
		outcome Outcome
		orders  int
	}{
		{"cash 500k", 500000, OutcomeInsufficientFunds, 0},
		{"cash 5M", 5000000, OutcomeEntered, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cash)
			h.src.bars = openRefBars()
			flows := &fakeFlows{net: 1.5e9}
			h.useForeignFilter(flows)
			ctx := context.Background()

			rep, err := h.engine.Run(ctx, session)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if rep.Signal.Direction != domain.DirectionLong {
				t.Errorf("direction = %s, want long (return %.4f)", rep.Signal.Direction, rep.Signal.Return)
			}
			if f := rep.Signal.Filter; f == nil || !f.Allowed || f.Value != 1.5e9 {
				t.Errorf("filter verdict = %+v", f)
			}
			if rep.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", rep.Outcome, tt.outcome)
			}
			if n := len(h.sim.Orders()); n != tt.orders {
				t.Errorf("broker saw %d orders, want %d", n, tt.orders)
			}
			if tt.orders > 0 {
				e := rep.Entry
				if e == nil || e.Side != domain.OrderSideBuy || e.Code != "069500" || e.Qty != 3 {
					t.Fatalf("entry = %+v, want buy 3 of 069500", e)
				}
				if e.Status != domain.OrderStatusAccepted && e.Status != domain.OrderStatusFilled {
					t.Errorf("entry status = %s", e.Status)
				}
			}

			recs, err := h.bars.Read(ctx, session)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(recs) != 2 {
				t.Errorf("persisted %d records, want 2", len(recs))
			}
			if len(flows.dates) != 1 || flows.dates[0] != "20240104" {
				t.Errorf("flow lookups = %v, want [20240104]", flows.dates)
			}
			if net, err := h.orders.GetForeignFlow(ctx, "20240104"); err != nil || net != 1.5e9 {
				t.Errorf("cached flow = %v, %v", net, err)
			}
		})
	}
}

func TestRunFilterAuthFailureIsFatal(t *testing.T) {
	h := newHarness(t, 5000000)
	h.useForeignFilter(&fakeFlows{err: &domain.APIError{APIID: "ka10051", Status: 401, Kind: domain.ErrAuth}})

	_, err := h.engine.Run(context.Background(), session)
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if n := len(h.sim.Orders()); n != 0 {
		t.Errorf("broker saw %d orders, want 0", n)
	}
}

func TestRunFilterTransientErrorIsNeutral(t *testing.T) {
	h := newHarness(t, 5000000)
	h.useForeignFilter(&fakeFlows{err: &domain.APIError{APIID: "ka10051", Status: 503, Kind: domain.ErrRateLimit}})

	rep, err := h.engine.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeNeutral {
		t.Errorf("outcome = %s, want %s", rep.Outcome, OutcomeNeutral)
	}
}

func journalPendingEntry(t *testing.T, h *harness) *domain.Order {
	t.Helper()
	now := time.Now()
	o := &domain.Order{
		ID:          util.NewID(),
		SessionDate: session,
		Phase:       domain.PhaseEntry,
		Code:        "069500",
		Side:        domain.OrderSideBuy,
		Type:        domain.OrderTypeMarket,
		Qty:         3,
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.orders.SaveOrder(context.Background(), o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	return o
}

func TestRunPendingEntryIsNotExited(t *testing.T) {
	h := newHarness(t, 5000000)
	h.cfg.Strategy.ExitTime = "1000"
	h.build()
	pending := journalPendingEntry(t, h)
	ctx := context.Background()

	rep, err := h.engine.Run(ctx, session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeUnknownEntry {
		t.Errorf("outcome = %s, want %s", rep.Outcome, OutcomeUnknownEntry)
	}
	if rep.Entry == nil || rep.Entry.ID != pending.ID || rep.Exit != nil {
		t.Errorf("entry = %+v, exit = %+v", rep.Entry, rep.Exit)
	}
	if n := len(h.sim.Orders()); n != 0 {
		t.Errorf("broker saw %d orders, want 0", n)
	}
	if _, err := h.orders.FindOrder(ctx, session, domain.PhaseExit); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("exit journaled: err = %v", err)
	}
}

func TestRunPendingEntryConfirmedByHoldings(t *testing.T) {
	h := newHarness(t, 5000000)
	h.cfg.Strategy.ExitTime = "1000"
	h.cfg.Strategy.ExitQuantityPolicy = "holdings"
	h.build()
	pending := journalPendingEntry(t, h)
	ctx := context.Background()

	// The earlier process's order reached the broker before it died.
	if _, err := h.sim.SubmitOrder(ctx, &domain.Order{ID: pending.ID, Code: "069500", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 3}); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}

	rep, err := h.engine.Run(ctx, session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeExited {
		t.Fatalf("outcome = %s, want %s", rep.Outcome, OutcomeExited)
	}
	if rep.Exit == nil || rep.Exit.Side != domain.OrderSideSell || rep.Exit.Qty != 3 {
		t.Errorf("exit = %+v, want sell 3", rep.Exit)
	}
	if n := len(h.sim.Orders()); n != 2 {
		t.Errorf("broker saw %d orders, want 2", n)
	}
}

func TestRunRejectedEntry(t *testing.T) {
	h := newHarness(t, 5000000)
	h.sim.RejectNext("market closed")

	rep, err := h.engine.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeRejected {
		t.Errorf("outcome = %s, want %s", rep.Outcome, OutcomeRejected)
	}
	if rep.Entry == nil || rep.Entry.Status != domain.OrderStatusRejected || rep.Entry.Reason == "" {
		t.Errorf("entry = %+v", rep.Entry)
	}
}

func TestRunNoOpenBarIsNeutral(t *testing.T) {
	h := newHarness(t, 5000000)
	h.src.bars = morningBars()[1:]

	rep, err := h.engine.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Signal.Direction != domain.DirectionNeutral || rep.Outcome != OutcomeNeutral {
		t.Errorf("signal = %+v, outcome = %s", rep.Signal, rep.Outcome)
	}
	if rep.BarsPersisted == 0 {
		t.Error("bars not persisted")
	}
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	h := newHarness(t, 5000000)
	h.src.err = &domain.APIError{APIID: "ka10080", Status: 401, Kind: domain.ErrAuth}

	_, err := h.engine.Run(context.Background(), session)
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
}

func TestRunTransientFetchIsWarning(t *testing.T) {
	h := newHarness(t, 5000000)
	h.src.err = &domain.APIError{APIID: "ka10080", Status: 503, Kind: domain.ErrRateLimit}

	rep, err := h.engine.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeNeutral || len(rep.Warnings) == 0 {
		t.Errorf("outcome = %s, warnings = %v", rep.Outcome, rep.Warnings)
	}
}

func TestRunSessionLocked(t *testing.T) {
	h := newHarness(t, 5000000)
	lock, err := store.AcquireSessionLock(h.cfg.Storage.DataDir, session)
	if err != nil {
		t.Fatalf("AcquireSessionLock: %v", err)
	}
	defer lock.Release()

	if _, err := h.engine.Run(context.Background(), session); !errors.Is(err, domain.ErrSessionLocked) {
		t.Errorf("err = %v, want ErrSessionLocked", err)
	}
	if h.src.calls != 0 {
		t.Errorf("fetched %d times while locked", h.src.calls)
	}
}

func TestRiskManagerCheckOrder(t *testing.T) {
	rm := NewRiskManager(0.10)
	bal := domain.AccountBalance{Cash: decimal.NewFromInt(50000), Equity: decimal.NewFromInt(100000)}

	order := &domain.Order{Phase: domain.PhaseEntry, Code: "069500", Side: domain.OrderSideBuy, Qty: 1}
	if err := rm.CheckOrder(order, bal, 9000); err != nil {
		t.Fatalf("CheckOrder returned unexpected error: %v", err)
	}
	if err := rm.CheckOrder(order, bal, 20000); !errors.Is(err, ErrRiskCheck) {
		t.Errorf("equity cap: err = %v", err)
	}
	if err := rm.CheckOrder(order, bal, 60000); !errors.Is(err, ErrRiskCheck) {
		t.Errorf("cash cap: err = %v", err)
	}
	rm.RecordEntry()
	if err := rm.CheckOrder(order, bal, 9000); !errors.Is(err, ErrRiskCheck) {
		t.Errorf("second entry: err = %v", err)
	}
	if err := rm.CheckOrder(&domain.Order{Phase: domain.PhaseExit, Side: domain.OrderSideSell}, bal, 1); !errors.Is(err, ErrRiskCheck) {
		t.Errorf("zero quantity: err = %v", err)
	}
}

type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestSchedulerWaitUntil(t *testing.T) {
	start := time.Date(2024, 1, 5, 8, 57, 30, 0, time.UTC)
	clock := &fakeClock{now: start}
	s := NewScheduler(clock, time.Minute, false)

	target := start.Add(150 * time.Second)
	if err := s.WaitUntil(context.Background(), target); err != nil {
		t.Fatalf("WaitUntil: %v", err)
	}
	if !clock.now.Equal(target) {
		t.Errorf("clock = %v, want %v", clock.now, target)
	}
	if len(clock.waits) != 3 || clock.waits[2] != 30*time.Second {
		t.Errorf("waits = %v, want [1m 1m 30s]", clock.waits)
	}

	// Targets in the past return immediately.
	clock.waits = nil
	if err := s.WaitUntil(context.Background(), start); err != nil || len(clock.waits) != 0 {
		t.Errorf("past target: err=%v waits=%v", err, clock.waits)
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler(SystemClock{}, time.Hour, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitUntil(ctx, time.Now().Add(time.Hour)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if err := NewScheduler(nil, 0, true).WaitUntil(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Errorf("test mode wait: %v", err)
	}
}

func TestExecutorDrainFillsNil(t *testing.T) {
	x := NewOrderExecutor(broker.NewSimulatorBroker(decimal.Zero), nil, session)
	if n := x.DrainFills(context.Background(), nil); n != 0 {
		t.Errorf("DrainFills(nil) = %d", n)
	}
}
