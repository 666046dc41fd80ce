package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"momentum/internal/strategy/builtins"
)

var zsignalCmd = &cobra.Command{
	Use:   "zsignal",
	Short: "Evaluate the residual z-score reversion ladder",
	Long: `Evaluate the day's residual z-score against the configured thresholds
and print the target position and the orders that would move the account
there. No order is placed.

The current position is taken from --position, or from broker holdings of
the long and short codes with --from-holdings.

Example:
  momentum zsignal --z -2.4 --vix-rank 0.5 --fx-shock 0.3 --position none`,
	RunE: runZSignal,
}

var (
	zsZ            float64
	zsVIXRank      float64
	zsFXShock      float64
	zsPosition     string
	zsFromHoldings bool
)

func init() {
	rootCmd.AddCommand(zsignalCmd)

	f := zsignalCmd.Flags()
	f.Float64Var(&zsZ, "z", 0, "residual z-score (required)")
	f.Float64Var(&zsVIXRank, "vix-rank", 0, "VIX percentile rank in [0,1]")
	f.Float64Var(&zsFXShock, "fx-shock", 0, "FX shock percentile rank in [0,1]")
	f.StringVar(&zsPosition, "position", "none", "current position: none, long or short")
	f.BoolVar(&zsFromHoldings, "from-holdings", false, "read the current position from the broker")
	zsignalCmd.MarkFlagRequired("z")
}

func runZSignal(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	st := cfg.Strategy

	current, err := builtins.ParsePosition(zsPosition)
	if err != nil {
		return err
	}
	if zsFromHoldings {
		kind := strings.ToLower(cfg.Broker.Kind)
		stk, err := newStack(cfg, kind)
		if err != nil {
			return err
		}
		defer stk.Close()
		b, err := stk.broker(cfg, kind)
		if err != nil {
			return err
		}
		long, err := b.GetHolding(cmd.Context(), st.LongCode)
		if err != nil {
			return fmt.Errorf("holding %s: %w", st.LongCode, err)
		}
		short, err := b.GetHolding(cmd.Context(), st.ShortCode)
		if err != nil {
			return fmt.Errorf("holding %s: %w", st.ShortCode, err)
		}
		current = builtins.CurrentPosition(long.Qty, short.Qty)
	}

	r := st.Residual
	params := builtins.ResidualParams{
		EntryZ:       r.EntryZ,
		ExitZ:        r.ExitZ,
		StopLossMult: r.StopLossMult,
		VIXQuantile:  r.VIXQuantile,
		FXQuantile:   r.FXQuantile,
	}
	d := params.Decide(builtins.ResidualInputs{Z: zsZ, VIXRank: zsVIXRank, FXShock: zsFXShock})
	target := builtins.TargetPosition(d.Signal, current)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "signal   %s (%s)\n", d.Signal, d.Reason)
	fmt.Fprintf(out, "position %s -> %s\n", current, target)
	steps := builtins.Plan(current, target, st.LongCode, st.ShortCode)
	if len(steps) == 0 {
		fmt.Fprintln(out, "no orders")
	}
	for i, s := range steps {
		fmt.Fprintf(out, "  %d. %s %s\n", i+1, s.Side, s.Code)
	}
	return nil
}
