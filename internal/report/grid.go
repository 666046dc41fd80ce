package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"momentum/internal/domain"
	"momentum/internal/strategy"
)

// WriteGridTable prints one row per (n, m) combination in the given order.
func WriteGridTable(w io.Writer, baseTime string, results []strategy.GridResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "n\tm\tentry\texit\ttrades\tcum_return\tsharpe\tmdd\t")
	for _, r := range results {
		entry, _ := domain.AddMinutes(baseTime, r.N)
		exit, _ := domain.AddMinutes(baseTime, r.M)
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\t%.2f\t%s\t\n",
			r.N, r.M, entry, exit, r.Trades, FormatPct(r.CumReturn), r.Sharpe, FormatPct(r.MaxDrawdown))
	}
	return tw.Flush()
}

// Best returns the result with the highest cumulative return.
func Best(results []strategy.GridResult) (strategy.GridResult, bool) {
	if len(results) == 0 {
		return strategy.GridResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.CumReturn > best.CumReturn {
			best = r
		}
	}
	return best, true
}
