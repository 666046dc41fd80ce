package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"momentum/internal/domain"
	"momentum/internal/util"
)

type memBars map[string][]domain.PersistedRecord

func (m memBars) Append(context.Context, []domain.PersistedRecord) error { return nil }
func (m memBars) Read(_ context.Context, d string) ([]domain.PersistedRecord, error) {
	return m[d], nil
}
func (m memBars) ListDates(context.Context) ([]string, error) {
	return []string{"20240104", "20240105", "20240108"}, nil
}

func rec(d, tm string, p float64) domain.PersistedRecord {
	return domain.PersistedRecord{Date: d, Time: tm, Code: "001", Price: p}
}

func gridStore() memBars {
	return memBars{
		// Up at 09:02, exits higher: long wins 2%.
		"20240104": {rec("20240104", "0900", 100), rec("20240104", "0902", 101), rec("20240104", "1000", 102)},
		// Down at 09:02, exit bar missing so 09:58 is used: short wins 1%.
		"20240105": {rec("20240105", "0958", 99), rec("20240105", "0902", 99.5), rec("20240105", "0900", 100)},
		// Data starts at 09:05; only counted with auto base time.
		"20240108": {rec("20240108", "0905", 200), rec("20240108", "0907", 202), rec("20240108", "1005", 204)},
	}
}

func TestBacktesterGrid(t *testing.T) {
	bt := NewBacktester(gridStore(), nil, util.NewTradingCalendar(time.UTC, nil))
	res, err := bt.Run(context.Background(), GridParams{
		BaseTime: "0900",
		NValues:  []int{2, 1},
		MValues:  []int{60},
		Workers:  2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2", len(res))
	}
	if res[0].N != 1 || res[1].N != 2 {
		t.Errorf("results not sorted by (m, n): %+v", res)
	}
	r := res[1]
	if r.Trades != 2 {
		t.Errorf("trades = %d, want 2", r.Trades)
	}
	want := 1.02*1.01 - 1
	if math.Abs(r.CumReturn-want) > 1e-9 {
		t.Errorf("cum return = %v, want %v", r.CumReturn, want)
	}
	if r.MaxDrawdown != 0 {
		t.Errorf("mdd = %v, want 0", r.MaxDrawdown)
	}

	res, _ = bt.Run(context.Background(), GridParams{
		BaseTime: "0900", AutoBaseTime: true, NValues: []int{2}, MValues: []int{60},
	})
	if len(res) != 1 || res[0].Trades != 3 {
		t.Errorf("auto base time: %+v", res)
	}
}

func TestBacktesterForeignFilter(t *testing.T) {
	flows := memFlowStore{"20240103": 10, "20240104": -5}
	bt := NewBacktester(gridStore(), flows, util.NewTradingCalendar(time.UTC, nil))
	res, err := bt.Run(context.Background(), GridParams{
		BaseTime: "0900", NValues: []int{2}, MValues: []int{60}, ForeignFilter: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Only 20240104 (prior flow on 20240103 positive) trades.
	if len(res) != 1 || res[0].Trades != 1 {
		t.Fatalf("results = %+v", res)
	}
	if math.Abs(res[0].CumReturn-0.02) > 1e-9 {
		t.Errorf("cum return = %v, want 0.02", res[0].CumReturn)
	}
}

func TestMetrics(t *testing.T) {
	cum, sharpe, mdd := Metrics([]float64{0.1, -0.2, 0.05})
	if want := 1.1*0.8*1.05 - 1; math.Abs(cum-want) > 1e-12 {
		t.Errorf("cum = %v, want %v", cum, want)
	}
	if math.Abs(mdd+0.2) > 1e-12 {
		t.Errorf("mdd = %v, want -0.2", mdd)
	}
	if sharpe >= 0 || math.IsNaN(sharpe) {
		t.Errorf("sharpe = %v", sharpe)
	}
	if _, s, _ := Metrics([]float64{0.01}); s != 0 {
		t.Errorf("single-observation sharpe = %v, want 0", s)
	}
}

func TestPickPrice(t *testing.T) {
	pts := []pricePoint{{"0900", 1}, {"0905", 2}}
	if p, ok := pickPrice(pts, "0903"); !ok || p != 1 {
		t.Errorf("pickPrice(0903) = %v, %v", p, ok)
	}
	if _, ok := pickPrice(pts, "0859"); ok {
		t.Error("pickPrice before first bar should fail")
	}
}
