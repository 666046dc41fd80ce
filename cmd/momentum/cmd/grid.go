package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"momentum/internal/report"
	"momentum/internal/strategy"
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Sweep entry/exit offsets over persisted sessions",
	Long: `Replay the persisted intraday log through the time-gated rule for every
(n, m) pair: the direction is taken from the move between the base time and
base+n minutes, the position is held until base+m minutes.

Example:
  momentum grid --code 069500 --start 20240101 --heatmap grid.html`,
	RunE: runGrid,
}

var (
	gridCode     string
	gridStart    string
	gridEnd      string
	gridBase     string
	gridAutoBase bool
	gridN        []int
	gridM        []int
	gridCost     float64
	gridForeign  bool
	gridMinFlow  float64
	gridWorkers  int
	gridHeatmap  string
)

func init() {
	rootCmd.AddCommand(gridCmd)

	f := gridCmd.Flags()
	f.StringVar(&gridCode, "code", "", "instrument code (default strategy.signal_code)")
	f.StringVar(&gridStart, "start", "", "first session YYYYMMDD")
	f.StringVar(&gridEnd, "end", "", "last session YYYYMMDD")
	f.StringVar(&gridBase, "base", "", "base time HHMM (default grid.base_time)")
	f.BoolVar(&gridAutoBase, "auto-base", false, "use the first bar when no bar is at or before the base time")
	f.IntSliceVar(&gridN, "n", nil, "entry offsets in minutes")
	f.IntSliceVar(&gridM, "m", nil, "exit offsets in minutes")
	f.Float64Var(&gridCost, "cost", 0, "round-trip cost per trade (default grid.cost)")
	f.BoolVar(&gridForeign, "foreign-filter", false, "only trade after positive prior-day foreign flow")
	f.Float64Var(&gridMinFlow, "min-flow", 0, "minimum net foreign flow for the filter")
	f.IntVar(&gridWorkers, "workers", 0, "parallel combinations (default grid.workers)")
	f.StringVar(&gridHeatmap, "heatmap", "", "write an HTML heatmap of cumulative return to this path")
}

func runGrid(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	st, err := newStack(cfg, "offline")
	if err != nil {
		return err
	}
	defer st.Close()

	g := cfg.Grid
	p := strategy.GridParams{
		Code:          cfg.Strategy.SignalCode,
		StartDate:     gridStart,
		EndDate:       gridEnd,
		BaseTime:      g.BaseTime,
		AutoBaseTime:  g.AutoBaseTime || gridAutoBase,
		NValues:       g.EntryMinutes,
		MValues:       g.ExitMinutes,
		Cost:          g.Cost,
		ForeignFilter: gridForeign,
		MinNetFlow:    gridMinFlow,
		Workers:       g.Workers,
	}
	flags := cmd.Flags()
	if gridCode != "" {
		p.Code = gridCode
	}
	if gridBase != "" {
		p.BaseTime = gridBase
	}
	if len(gridN) > 0 {
		p.NValues = gridN
	}
	if len(gridM) > 0 {
		p.MValues = gridM
	}
	if flags.Changed("cost") {
		p.Cost = gridCost
	}
	if gridWorkers > 0 {
		p.Workers = gridWorkers
	}

	results, err := strategy.NewBacktester(st.bars, st.db, st.cal).Run(cmd.Context(), p)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "no trades in the selected sessions")
		return nil
	}
	if err := report.WriteGridTable(out, p.BaseTime, results); err != nil {
		return err
	}
	if best, ok := report.Best(results); ok {
		fmt.Fprintf(out, "\nbest: n=%d m=%d cum=%s sharpe=%.2f mdd=%s\n",
			best.N, best.M, report.FormatPct(best.CumReturn), best.Sharpe, report.FormatPct(best.MaxDrawdown))
	}

	if gridHeatmap == "" {
		return nil
	}
	f, err := os.Create(gridHeatmap)
	if err != nil {
		return fmt.Errorf("creating heatmap: %w", err)
	}
	defer f.Close()
	title := fmt.Sprintf("%s cumulative return (base %s)", p.Code, p.BaseTime)
	if err := report.RenderHeatmap(f, title, results); err != nil {
		return err
	}
	fmt.Fprintf(out, "heatmap written to %s\n", gridHeatmap)
	return nil
}
