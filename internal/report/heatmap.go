package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"momentum/internal/strategy"
)

const (
	colorLoss = "#d73027"
	colorFlat = "#ffffbf"
	colorGain = "#1a9850"
)

// RenderHeatmap writes an HTML heatmap of cumulative return, entry offset
// (n) on the x axis and exit offset (m) on the y axis.
func RenderHeatmap(w io.Writer, title string, results []strategy.GridResult) error {
	if len(results) == 0 {
		return fmt.Errorf("heatmap: no results")
	}

	ns, ms := axisValues(results, func(r strategy.GridResult) int { return r.N }), axisValues(results, func(r strategy.GridResult) int { return r.M })
	xIdx, yIdx := indexOf(ns), indexOf(ms)

	lo, hi := math.Inf(1), math.Inf(-1)
	data := make([]opts.HeatMapData, 0, len(results))
	for _, r := range results {
		v := r.CumReturn * 100
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		data = append(data, opts.HeatMapData{
			Value: [3]interface{}{xIdx[r.N], yIdx[r.M], math.Round(v*100) / 100},
		})
	}
	// Keep zero at the middle of the color range.
	bound := math.Max(math.Abs(lo), math.Abs(hi))
	if bound == 0 {
		bound = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: "cumulative return (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:      "entry n (min)",
			Type:      "category",
			Data:      labels(ns),
			SplitArea: &opts.SplitArea{Show: opts.Bool(true)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "exit m (min)",
			Type:      "category",
			Data:      labels(ms),
			SplitArea: &opts.SplitArea{Show: opts.Bool(true)},
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        float32(-bound),
			Max:        float32(bound),
			InRange:    &opts.VisualMapInRange{Color: []string{colorLoss, colorFlat, colorGain}},
		}),
	)
	hm.AddSeries("cum_return", data, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}))
	return hm.Render(w)
}

func axisValues(results []strategy.GridResult, key func(strategy.GridResult) int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, r := range results {
		k := key(r)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func indexOf(vals []int) map[int]int {
	m := make(map[int]int, len(vals))
	for i, v := range vals {
		m[v] = i
	}
	return m
}

func labels(vals []int) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = strconv.Itoa(v)
	}
	return out
}
