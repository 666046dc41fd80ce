package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"momentum/internal/broker"
	"momentum/internal/domain"
	"momentum/internal/engine"
	"momentum/internal/kiwoom"
	"momentum/internal/report"
	"momentum/internal/strategy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one trading session",
	Long: `Run the session of the given date: poll minute bars from the open,
decide once at the decision time, place the entry order, exit at the exit
time and persist every bar seen.

Neutral signals, insufficient funds and rejected orders end the run with
status 0. Authentication failures, a held session lock and interrupts exit
non-zero.

Example:
  momentum run --test-mode --broker simulator`,
	RunE: runRun,
}

var (
	runTestMode bool
	runDate     string
	runBroker   string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runTestMode, "test-mode", false, "skip waiting and the trading-day check")
	runCmd.Flags().StringVar(&runDate, "date", "", "session date YYYYMMDD (default today)")
	runCmd.Flags().StringVar(&runBroker, "broker", "", "kiwoom, alpaca or simulator (default from config)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if runTestMode {
		cfg.Schedule.TestMode = true
	}
	kind := strings.ToLower(cfg.Broker.Kind)
	if runBroker != "" {
		kind = strings.ToLower(runBroker)
	}

	st, err := newStack(cfg, kind)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	date := runDate
	if date == "" {
		date = time.Now().In(st.cal.Location()).Format("20060102")
	}

	if st.client != nil {
		if err := st.client.Authenticate(ctx); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}
	src, err := st.source(cfg, kind)
	if err != nil {
		return err
	}
	b, err := st.broker(cfg, kind)
	if err != nil {
		return err
	}
	if sim, ok := b.(*broker.SimulatorBroker); ok {
		seedSimulator(ctx, sim, st.api, cfg.Strategy.LongCode, cfg.Strategy.ShortCode)
	}

	var filter strategy.RiskFilter
	if ff := cfg.Strategy.ForeignFilter; ff.Enabled {
		if st.api == nil {
			return fmt.Errorf("foreign filter needs the kiwoom API (broker %s)", kind)
		}
		filter = strategy.NewForeignFlowFilter(st.api, st.db, st.cal, ff.MinNetFlow, ff.Market, ff.SectorCode)
	}

	eng := engine.New(cfg, engine.Deps{
		Source:   src,
		Broker:   b,
		Bars:     st.bars,
		Orders:   st.db,
		Signals:  st.db,
		Filter:   filter,
		Calendar: st.cal,
	})
	rep, err := eng.Run(ctx, date)
	if rep != nil {
		printRunReport(cmd.OutOrStdout(), rep)
	}
	return err
}

// seedSimulator prices the simulator from live quotes so that paper runs
// size against real prices.
func seedSimulator(ctx context.Context, sim *broker.SimulatorBroker, api *kiwoom.API, codes ...string) {
	for _, code := range codes {
		q, err := api.Quote(ctx, code)
		if err != nil {
			slog.Warn("simulator price unavailable", "code", code, "error", err)
			continue
		}
		sim.SetPrice(code, q.Price)
	}
}

func printRunReport(w io.Writer, rep *engine.RunReport) {
	fmt.Fprintf(w, "session %s  run %s  outcome %s\n", rep.SessionDate, rep.RunID, rep.Outcome)
	s := rep.Signal
	if s.Direction != "" {
		fmt.Fprintf(w, "  signal     %s  ret %s", s.Direction, report.FormatPct(s.Return))
		if s.Filter != nil {
			fmt.Fprintf(w, "  %s=%s allowed=%v", s.Filter.Name, report.FormatAmount(s.Filter.Value), s.Filter.Allowed)
		}
		if s.Reason != "" {
			fmt.Fprintf(w, "  (%s)", s.Reason)
		}
		fmt.Fprintln(w)
	}
	printOrder(w, "entry", rep.Entry)
	printOrder(w, "exit", rep.Exit)
	fmt.Fprintf(w, "  bars       %s persisted\n", report.FormatInt(int64(rep.BarsPersisted)))
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  warning    %s\n", warn)
	}
}

func printOrder(w io.Writer, label string, o *domain.Order) {
	if o == nil {
		return
	}
	fmt.Fprintf(w, "  %-10s %s %s x%s  %s", label, o.Side, o.Code, report.FormatInt(o.Qty), o.Status)
	if o.FilledQty > 0 {
		fmt.Fprintf(w, "  filled %s @ %s = %s", report.FormatInt(o.FilledQty), report.FormatPrice(o.FilledAvgPrice),
			report.FormatAmount(float64(o.FilledQty)*o.FilledAvgPrice))
	}
	if o.Reason != "" {
		fmt.Fprintf(w, "  (%s)", o.Reason)
	}
	fmt.Fprintln(w)
}
