package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"emagrid/internal/config"
	"emagrid/internal/domain"
	"emagrid/internal/report"
	"emagrid/internal/store"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: emagrid-cli [-config path] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version         Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  runs [limit]    List saved optimizer runs, newest first\n")
	fmt.Fprintf(os.Stderr, "  show <run-id>   Print the result of a saved run\n")
	fmt.Fprintf(os.Stderr, "  inspect <file>  Summarize a candle file (.csv or .parquet)\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	cfgPath := flag.String("config", os.Getenv("EMAGRID_CONFIG"), "path to YAML config")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("emagrid-cli %s\n", version)

	case "runs":
		limit := 20
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				log.Fatalf("invalid limit %q", args[1])
			}
			limit = n
		}
		withResults(*cfgPath, func(ctx context.Context, rs store.RunStore) error {
			runs, err := rs.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(os.Stdout, runs)
			return nil
		})

	case "show":
		if len(args) < 2 {
			log.Fatal("show requires a run id")
		}
		withResults(*cfgPath, func(ctx context.Context, rs store.RunStore) error {
			run, err := rs.GetRun(ctx, args[1])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[1])
			}
			if err != nil {
				return err
			}
			report.Print(os.Stdout, runSummary(run))
			return nil
		})

	case "inspect":
		if len(args) < 2 {
			log.Fatal("inspect requires a candle file")
		}
		series, err := store.LoadCandles(args[1])
		if err != nil {
			log.Fatalf("reading %s: %v", args[1], err)
		}
		inspect(os.Stdout, args[1], series)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
}

func withResults(cfgPath string, fn func(context.Context, store.RunStore) error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rs, err := store.OpenResultStore(ctx, cfg.Storage.ResultsDriver, cfg.Storage.ResultsDSN)
	if err != nil {
		log.Fatalf("opening results: %v", err)
	}
	defer rs.Close()

	if err := fn(ctx, rs); err != nil {
		log.Fatalf("%v", err)
	}
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no saved runs")
		return
	}
	tbl := tablewriter.NewWriter(w)
	tbl.Header("Run ID", "Created", "Data", "Pair", "Gain", "Score", "Runs", "Feasible")
	for _, r := range runs {
		pair, gain, score := "-", "-", "-"
		if r.HasResult {
			pair = domain.ParamPair{Fast: r.Fast, Slow: r.Slow}.String()
			gain = fmt.Sprintf("%.2f%%", r.GainPct)
			score = fmt.Sprintf("%.4f", r.Score)
		}
		tbl.Append(
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.DataFile,
			pair,
			gain,
			score,
			strconv.Itoa(r.Runs),
			strconv.Itoa(r.Feasible),
		)
	}
	tbl.Render()
}

func runSummary(r *store.Run) report.Summary {
	s := report.Summary{
		RunID:     r.ID,
		Strategy:  r.Strategy,
		DataFile:  r.DataFile,
		Runs:      r.Runs,
		Feasible:  r.Feasible,
		Elapsed:   r.Elapsed,
		Truncated: r.Truncated,
	}
	if r.HasResult {
		s.Best = &domain.BacktestResult{
			Pair:                domain.ParamPair{Fast: r.Fast, Slow: r.Slow},
			FinalWallet:         r.FinalWallet,
			GainPct:             r.GainPct,
			WinRatePct:          r.WinRatePct,
			MaxDrawdownPct:      r.MaxDrawdownPct,
			GainOverDDC:         r.GainOverDDC,
			Score:               r.Score,
			TradeCount:          r.TradeCount,
			FeesPaid:            r.FeesPaid,
			MaxDaysBetweenHighs: r.MaxDaysBetweenHighs,
			YearlyGains:         r.YearlyGains,
		}
	}
	return s
}

func inspect(w io.Writer, path string, series domain.Series) {
	fmt.Fprintf(w, "%s\n", path)
	if len(series) == 0 {
		fmt.Fprintln(w, "  empty")
		return
	}
	first, last := series.Span()
	lo, hi := series[0].Low, series[0].High
	for _, c := range series {
		lo = min(lo, c.Low)
		hi = max(hi, c.High)
	}
	fmt.Fprintf(w, "  Candles:  %d\n", len(series))
	fmt.Fprintf(w, "  First:    %s\n", first.Format(time.DateTime))
	fmt.Fprintf(w, "  Last:     %s\n", last.Format(time.DateTime))
	fmt.Fprintf(w, "  Years:    %d..%d (%d covered)\n", first.Year(), last.Year(), series.YearsCovered())
	fmt.Fprintf(w, "  Range:    %.2f .. %.2f\n", lo, hi)
	if err := series.Validate(); err != nil {
		fmt.Fprintf(w, "  Invalid:  %v\n", err)
	}
}
