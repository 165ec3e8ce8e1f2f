// Package report renders optimizer runs for the terminal.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"emagrid/internal/domain"
)

// Header describes the parameters of a run, printed before the search.
type Header struct {
	Strategy   string
	DataFile   string
	First      time.Time
	Last       time.Time
	Candles    int
	StartIndex int
	FeePct     float64
	Upper      float64
	Lower      float64
	MinTrades  int
	FastRange  string
	SlowRange  string
	Pairs      int
	Workers    int
}

// Summary is the outcome of a finished search.
type Summary struct {
	RunID     string
	Strategy  string
	DataFile  string
	Best      *domain.BacktestResult
	Runs      int
	Feasible  int
	Elapsed   time.Duration
	Truncated bool
}

// PrintHeader writes the run parameters.
func PrintHeader(w io.Writer, h Header) {
	fmt.Fprintf(w, "%s\n", h.Strategy)
	fmt.Fprintf(w, "========================================================\n")
	fmt.Fprintf(w, "  Data file:        %s\n", h.DataFile)
	fmt.Fprintf(w, "  Candles:          %d (%s -> %s)\n", h.Candles,
		h.First.Format(time.DateTime), h.Last.Format(time.DateTime))
	if h.StartIndex < h.Candles {
		fmt.Fprintf(w, "  Simulation start: candle %d\n", h.StartIndex)
	}
	fmt.Fprintf(w, "  Fee:              %.3f%%\n", h.FeePct)
	fmt.Fprintf(w, "  StochRSI band:    %.2f / %.2f\n", h.Lower, h.Upper)
	fmt.Fprintf(w, "  Min trades:       %d\n", h.MinTrades)
	fmt.Fprintf(w, "  Fast EMA range:   %s\n", h.FastRange)
	fmt.Fprintf(w, "  Slow EMA range:   %s\n", h.SlowRange)
	fmt.Fprintf(w, "  Pairs:            %d on %d workers\n", h.Pairs, h.Workers)
	fmt.Fprintf(w, "========================================================\n\n")
}

// Print writes the best feasible result. It falls back to PrintNoResult
// when s.Best is nil.
func Print(w io.Writer, s Summary) {
	r := s.Best
	if r == nil {
		PrintNoResult(w, s)
		return
	}

	fmt.Fprintf(w, "\n%s\n", s.Strategy)
	fmt.Fprintf(w, "  Data file: %s\n\n", s.DataFile)

	tbl := tablewriter.NewWriter(w)
	tbl.Header("Metric", "Value")
	tbl.Append("Fast / slow EMA", r.Pair.String())
	tbl.Append("Gain", pct(r.GainPct))
	tbl.Append("Final wallet", fmt.Sprintf("%.2f", r.FinalWallet))
	tbl.Append("Win rate", pct(r.WinRatePct))
	tbl.Append("Max drawdown", pct(r.MaxDrawdownPct))
	tbl.Append("Gain / DDC", fmt.Sprintf("%.2f", r.GainOverDDC))
	tbl.Append("Score", fmt.Sprintf("%.4f", r.Score))
	tbl.Append("Trades", fmt.Sprintf("%d (%d won, %d lost)", r.TradeCount, r.Wins, r.Losses))
	tbl.Append("Fees paid", fmt.Sprintf("%.2f", r.FeesPaid))
	tbl.Append("Max days between highs", fmt.Sprintf("%.1f", r.MaxDaysBetweenHighs))
	tbl.Render()

	if len(r.YearlyGains) > 0 {
		fmt.Fprintln(w, "\n  Yearly gains")
		years := tablewriter.NewWriter(w)
		years.Header("Year", "Gain")
		for _, g := range r.YearlyGains {
			years.Append(strconv.Itoa(g.Year), pct(g.Rounded()))
		}
		years.Render()
	}

	printFooter(w, s)
}

// PrintNoResult writes the outcome of a search in which no pair passed the
// constraints.
func PrintNoResult(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n%s\n", s.Strategy)
	fmt.Fprintf(w, "  Data file: %s\n", s.DataFile)
	fmt.Fprintf(w, "\n  NO RESULT: none of the %d simulated pairs satisfied the constraints.\n", s.Runs)
	printFooter(w, s)
}

func printFooter(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n  Runs:     %d (%d feasible)\n", s.Runs, s.Feasible)
	fmt.Fprintf(w, "  Time:     %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Truncated {
		fmt.Fprintf(w, "  Search stopped before covering the full grid.\n")
	}
	if s.RunID != "" {
		fmt.Fprintf(w, "  Run ID:   %s\n", s.RunID)
	}
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}
