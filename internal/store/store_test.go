package store

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"momentum/internal/domain"
)

func rec(date, hhmm string, price float64) domain.PersistedRecord {
	return domain.PersistedRecord{
		Date:         date,
		Time:         hhmm,
		Code:         "069500",
		Price:        price,
		RetFromStart: math.NaN(),
	}
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.intradayPath("20240102")
	want := filepath.Join("/data", "intraday", "20240102.parquet")
	if got != want {
		t.Errorf("intradayPath mismatch:\n  got  %s\n  want %s", got, want)
	}
	if c := csvPathFor(got); c != filepath.Join("/data", "intraday", "20240102.csv") {
		t.Errorf("csvPathFor = %s", c)
	}
}

func TestParquetStoreAppendRead(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	in := []domain.PersistedRecord{
		{Date: "20240102", Time: "0902", MinuteOffset: 2, Code: "069500", Price: 101, RetFromStart: 0.01},
		{Date: "20240102", Time: "0900", MinuteOffset: 0, Code: "069500", Price: 100, RetFromStart: 0},
	}
	if err := ps.Append(ctx, in); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := ps.Read(ctx, "20240102")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d records, want 2", len(got))
	}
	if got[0].Time != "0900" || got[1].Time != "0902" {
		t.Errorf("records not sorted by time: %+v", got)
	}
	if got[1].MinuteOffset != 2 || got[1].RetFromStart != 0.01 {
		t.Errorf("record fields not preserved: %+v", got[1])
	}
}

func TestParquetStoreDeduplicates(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	batch := []domain.PersistedRecord{rec("20240102", "0900", 100), rec("20240102", "0901", 100.5)}
	for i := 0; i < 3; i++ {
		if err := ps.Append(ctx, batch); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
	// Newest wins on the same key.
	if err := ps.Append(ctx, []domain.PersistedRecord{rec("20240102", "0901", 100.7)}); err != nil {
		t.Fatalf("Append update: %v", err)
	}

	got, err := ps.Read(ctx, "20240102")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d records after repeated appends, want 2", len(got))
	}
	if got[1].Price != 100.7 {
		t.Errorf("updated price = %v, want 100.7", got[1].Price)
	}
	if !math.IsNaN(got[0].RetFromStart) {
		t.Errorf("RetFromStart = %v, want NaN preserved", got[0].RetFromStart)
	}
}

func TestParquetStoreFallbackCSV(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ps.writeParquet = func(string, []IntradayRecord) error { return errors.New("disk says no") }
	ctx := context.Background()

	if err := ps.Append(ctx, []domain.PersistedRecord{rec("20240102", "0900", 100)}); err != nil {
		t.Fatalf("Append with failing parquet should fall back: %v", err)
	}
	if err := ps.Append(ctx, []domain.PersistedRecord{rec("20240102", "0900", 100), rec("20240102", "0901", 99)}); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	csvPath := filepath.Join(dir, "intraday", "20240102.csv")
	if _, err := os.Stat(csvPath); err != nil {
		t.Fatalf("csv fallback not written: %v", err)
	}
	got, err := ps.Read(ctx, "20240102")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Read returned %d records from fallback, want 2", len(got))
	}

	// Once the primary recovers the fallback rows are folded in and the csv removed.
	ps.writeParquet = writeParquetFile[IntradayRecord]
	if err := ps.Append(ctx, []domain.PersistedRecord{rec("20240102", "0902", 98)}); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if _, err := os.Stat(csvPath); !os.IsNotExist(err) {
		t.Errorf("csv fallback should be removed after merge, stat err = %v", err)
	}
	got, err = ps.Read(ctx, "20240102")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Read returned %d records after recovery, want 3", len(got))
	}
}

func TestParquetStoreBothFail(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the intraday directory should be breaks both writers.
	if err := os.WriteFile(filepath.Join(dir, "intraday"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ps := NewParquetStore(dir)

	err := ps.Append(context.Background(), []domain.PersistedRecord{rec("20240102", "0900", 100)})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("Append error = %v, want ErrPersistence", err)
	}
}

func TestParquetStoreListDates(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	dates, err := ps.ListDates(ctx)
	if err != nil || len(dates) != 0 {
		t.Fatalf("ListDates on empty dir = %v, %v", dates, err)
	}

	_ = ps.Append(ctx, []domain.PersistedRecord{rec("20240103", "0900", 1), rec("20240102", "0900", 1)})
	if err := writeCSVFile(filepath.Join(dir, "intraday", "20240104.csv"), nil); err != nil {
		t.Fatal(err)
	}

	dates, err = ps.ListDates(ctx)
	if err != nil {
		t.Fatalf("ListDates: %v", err)
	}
	want := []string{"20240102", "20240103", "20240104"}
	if len(dates) != len(want) {
		t.Fatalf("ListDates = %v, want %v", dates, want)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("ListDates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}
}

func TestSQLiteOrderJournal(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "momentum.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	o := &domain.Order{
		ID: "01HX", SessionDate: "20240102", Phase: domain.PhaseEntry, Code: "069500",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 3,
		Status: domain.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	dup := *o
	dup.ID = "01HY"
	if err := s.SaveOrder(ctx, &dup); !errors.Is(err, ErrOrderExists) {
		t.Fatalf("second SaveOrder for same phase = %v, want ErrOrderExists", err)
	}

	if err := o.Advance(domain.OrderStatusAccepted); err != nil {
		t.Fatal(err)
	}
	o.BrokerID = "B-1"
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	got, err := s.FindOrder(ctx, "20240102", domain.PhaseEntry)
	if err != nil {
		t.Fatalf("FindOrder: %v", err)
	}
	if got.Status != domain.OrderStatusAccepted || got.BrokerID != "B-1" || got.Qty != 3 {
		t.Errorf("FindOrder = %+v", got)
	}

	if _, err := s.FindOrder(ctx, "20240102", domain.PhaseExit); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindOrder(exit) err = %v, want ErrNotFound", err)
	}

	// Terminal rows cannot be moved to another status.
	o.Status = domain.OrderStatusFilled
	if err := s.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder filled: %v", err)
	}
	o.Status = domain.OrderStatusAccepted
	if err := s.UpdateOrder(ctx, o); err == nil {
		t.Error("UpdateOrder should refuse to regress a filled order")
	}

	orders, err := s.ListOrders(ctx, "20240102")
	if err != nil || len(orders) != 1 {
		t.Fatalf("ListOrders = %v, %v", orders, err)
	}
}

func TestSQLiteSignalsAndFlows(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	sig := domain.Signal{
		Direction: domain.DirectionLong,
		Open:      &domain.Bar{Time: "0900", Price: 100},
		Reference: &domain.Bar{Time: "0902", Price: 101},
		Return:    0.01,
	}
	if err := s.SaveSignal(ctx, SignalRecord{RunID: "r1", SessionDate: "20240102", Signal: sig, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	if err := s.SaveSignal(ctx, SignalRecord{RunID: "r2", SessionDate: "20240103",
		Signal:    domain.Signal{Direction: domain.DirectionNeutral, Return: math.NaN(), Reason: "no data"},
		CreatedAt: time.Now().Add(time.Second)}); err != nil {
		t.Fatalf("SaveSignal neutral: %v", err)
	}
	recs, err := s.ListSignals(ctx, 10)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(recs) != 2 || recs[0].RunID != "r2" {
		t.Fatalf("ListSignals = %+v", recs)
	}
	if recs[1].Signal.Reference == nil || recs[1].Signal.Reference.Price != 101 {
		t.Errorf("reference bar not restored: %+v", recs[1].Signal)
	}

	if _, err := s.GetForeignFlow(ctx, "20240102"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetForeignFlow on empty = %v, want ErrNotFound", err)
	}
	_ = s.SaveForeignFlow(ctx, "20240102", 12.5)
	_ = s.SaveForeignFlow(ctx, "20240102", -3)
	v, err := s.GetForeignFlow(ctx, "20240102")
	if err != nil || v != -3 {
		t.Errorf("GetForeignFlow = %v, %v; want -3", v, err)
	}
	flows, err := s.ForeignFlows(ctx)
	if err != nil || len(flows) != 1 {
		t.Errorf("ForeignFlows = %v, %v", flows, err)
	}
}

func TestSessionLock(t *testing.T) {
	dir := t.TempDir()
	l, err := AcquireSessionLock(dir, "20240102")
	if err != nil {
		t.Fatalf("AcquireSessionLock: %v", err)
	}

	if _, err := AcquireSessionLock(dir, "20240102"); !errors.Is(err, domain.ErrSessionLocked) {
		t.Fatalf("second lock err = %v, want ErrSessionLocked", err)
	}
	other, err := AcquireSessionLock(dir, "20240103")
	if err != nil {
		t.Fatalf("lock for a different date: %v", err)
	}
	_ = other.Release()

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	again, err := AcquireSessionLock(dir, "20240102")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	defer again.Release()

	raw, err := os.ReadFile(filepath.Join(dir, "locks", "20240102.lock"))
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	if got, want := strings.TrimSpace(string(raw)), strconv.Itoa(os.Getpid()); got != want {
		t.Errorf("lock holder = %q, want %q", got, want)
	}
}
