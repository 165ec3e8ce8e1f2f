package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"emagrid/internal/api"
	"emagrid/internal/backtest"
	"emagrid/internal/config"
	"emagrid/internal/domain"
	"emagrid/internal/indicator"
	"emagrid/internal/report"
	"emagrid/internal/search"
	"emagrid/internal/store"
	"emagrid/internal/util"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("EMAGRID_CONFIG"), "path to YAML config")
	dataFile := flag.String("data", "", "candle file (.csv or .parquet), overrides data.file")
	maxRuns := flag.Int("max-runs", 0, "stop after this many simulated pairs (0 = full grid)")
	noSave := flag.Bool("no-save", false, "do not persist the run to the results database")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *dataFile != "" {
		cfg.Data.File = *dataFile
	}
	if *maxRuns > 0 {
		cfg.Search.MaxRuns = *maxRuns
	}
	if err := cfg.ValidateOptimize(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx := sigCtx
	if cfg.Search.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, cfg.Search.Timeout)
		defer tcancel()
	}

	series, source, err := loadSeries(ctx, cfg)
	if err != nil {
		log.Fatalf("loading candles: %v", err)
	}
	if err := series.Validate(); err != nil {
		log.Fatalf("candles from %s: %v", source, err)
	}

	metrics := api.NewMetrics()
	srv := api.NewServer(cfg.Server, metrics)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("starting status server: %v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("status server shutdown", "err", err)
		}
	}()

	scfg := searchConfig(cfg, metrics)
	workers := scfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	first, last := series.Span()
	report.PrintHeader(os.Stdout, report.Header{
		Strategy:   cfg.Strategy.Name,
		DataFile:   source,
		First:      first,
		Last:       last,
		Candles:    len(series),
		StartIndex: scfg.StartFor(series),
		FeePct:     cfg.Strategy.FeePct,
		Upper:      cfg.Strategy.Upper,
		Lower:      cfg.Strategy.Lower,
		MinTrades:  scfg.Constraints.Resolve(series.YearsCovered()).MinTrades,
		FastRange:  scfg.Fast.String(),
		SlowRange:  scfg.Slow.String(),
		Pairs:      len(search.Pairs(scfg.Fast, scfg.Slow, scfg.MinGap)),
		Workers:    workers,
	})

	opts := indicator.DefaultOptions(scfg.MaxPeriod())
	opts.StochLength = cfg.Strategy.Stoch.Length
	opts.RSILength = cfg.Strategy.Stoch.RSILength
	opts.SmoothK = cfg.Strategy.Stoch.K
	opts.SmoothD = cfg.Strategy.Stoch.D
	opts.Line = indicator.Line(cfg.Strategy.Stoch.Line)
	opts.Workers = cfg.Search.Workers

	began := time.Now()
	set, err := indicator.Compute(series, opts)
	if err != nil {
		log.Fatalf("computing indicators: %v", err)
	}
	slog.Info("indicators ready", "max_period", set.MaxPeriod(), "elapsed", time.Since(began).Round(time.Millisecond))

	out, err := search.Run(ctx, series, set, scfg)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Fatalf("search failed: %v", err)
	}
	if err != nil {
		slog.Warn("search interrupted, reporting partial results", "err", err)
	}
	metrics.ObserveSearch(out.Best, out.Elapsed)
	srv.SetSearchDone(true)

	report.Print(os.Stdout, report.Summary{
		RunID:     out.RunID,
		Strategy:  cfg.Strategy.Name,
		DataFile:  source,
		Best:      out.Best,
		Runs:      out.Runs,
		Feasible:  out.Feasible,
		Elapsed:   out.Elapsed,
		Truncated: out.Truncated,
	})

	if !*noSave {
		if err := saveRun(cfg, source, out); err != nil {
			log.Fatalf("saving run: %v", err)
		}
	}
	srv.Linger(sigCtx)
}

// loadSeries reads the configured candle file, or the stored bundle of
// data.symbol when no file is set.
func loadSeries(ctx context.Context, cfg *config.Config) (domain.Series, string, error) {
	if cfg.Data.File != "" {
		s, err := store.LoadCandles(cfg.Data.File)
		return s, cfg.Data.File, err
	}
	var cs store.CandleStore = store.NewParquetStore(cfg.Storage.DataDir)
	s, err := cs.ReadCandles(ctx, cfg.Data.Exchange, cfg.Data.Interval, cfg.Data.Symbol)
	source := fmt.Sprintf("%s/%s/%s", cfg.Data.Exchange, cfg.Data.Interval, cfg.Data.Symbol)
	return s, source, err
}

func searchConfig(cfg *config.Config, m *api.Metrics) search.Config {
	scfg := search.DefaultConfig()
	scfg.Fast = cfg.Search.Fast
	scfg.Slow = cfg.Search.Slow
	if cfg.Search.MinGap > 0 {
		scfg.MinGap = cfg.Search.MinGap
	}
	scfg.Constraints = cfg.Constraints
	scfg.Strategy = backtest.Params{
		InitialCapital: cfg.Strategy.InitialCapital,
		FeePct:         cfg.Strategy.FeePct,
		Upper:          cfg.Strategy.Upper,
		Lower:          cfg.Strategy.Lower,
	}
	scfg.StartYear = cfg.Data.StartYear
	scfg.Workers = cfg.Search.Workers
	scfg.MaxRuns = cfg.Search.MaxRuns
	scfg.ProgressEvery = cfg.Search.ProgressEvery
	scfg.OnResult = m.ObserveResult
	return scfg
}

func saveRun(cfg *config.Config, source string, out search.Outcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := store.OpenResultStore(ctx, cfg.Storage.ResultsDriver, cfg.Storage.ResultsDSN)
	if err != nil {
		return err
	}
	defer results.Close()
	var rs store.RunStore = results

	run := &store.Run{
		ID:        out.RunID,
		CreatedAt: time.Now(),
		Strategy:  cfg.Strategy.Name,
		DataFile:  source,
		FastMin:   cfg.Search.Fast.Min,
		FastMax:   cfg.Search.Fast.Max,
		SlowMin:   cfg.Search.Slow.Min,
		SlowMax:   cfg.Search.Slow.Max,
		FeePct:    cfg.Strategy.FeePct,
		MinTrades: out.MinTrades,
		Runs:      out.Runs,
		Feasible:  out.Feasible,
		Elapsed:   out.Elapsed,
		Truncated: out.Truncated,
	}
	run.SetResult(out.Best)
	if err := rs.SaveRun(ctx, run); err != nil {
		return err
	}
	slog.Info("run saved", "run_id", run.ID, "driver", cfg.Storage.ResultsDriver)
	return nil
}
