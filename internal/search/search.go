package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"emagrid/internal/backtest"
	"emagrid/internal/domain"
)

// Indicators supplies the precomputed series the search reads.
// *indicator.Set implements it.
type Indicators interface {
	EMA(period int) ([]float64, bool)
	Oscillator() []float64
}

// Config controls a grid search.
type Config struct {
	Fast        Grid
	Slow        Grid
	MinGap      int
	Constraints Constraints

	// Strategy carries capital, fee and bands. Its StartIndex is ignored.
	Strategy backtest.Params
	// StartIndex overrides the first simulated candle. Zero means
	// WarmupIndex of the largest tested period, so candle 0 itself cannot be
	// chosen; every EMA is still undefined there anyway.
	StartIndex int
	// StartYear, when set, moves the start forward to the first candle of
	// that year.
	StartYear int

	Workers       int
	MaxRuns       int
	ProgressEvery int
	Logger        *slog.Logger

	// OnResult, if set, sees every checked result. It is called from the
	// worker goroutines and must be safe for concurrent use.
	OnResult func(*domain.BacktestResult)
}

// DefaultConfig returns the default grid, constraints and strategy.
func DefaultConfig() Config {
	return Config{
		Fast:          DefaultGrid(),
		Slow:          DefaultGrid(),
		MinGap:        domain.DefaultMinGap,
		Constraints:   DefaultConstraints(),
		Strategy:      backtest.DefaultParams(0),
		ProgressEvery: 1000,
	}
}

// MaxPeriod returns the largest moving-average period of either grid.
func (c Config) MaxPeriod() int {
	top := c.Fast.Top()
	if s := c.Slow.Top(); s > top {
		top = s
	}
	return top
}

// StartFor returns the first candle index simulated for series: StartIndex,
// or the warm-up of MaxPeriod, moved forward to StartYear when set.
func (c Config) StartFor(series domain.Series) int {
	start := c.StartIndex
	if start == 0 {
		start = WarmupIndex(c.MaxPeriod())
	}
	if c.StartYear > 0 {
		if y := series.FirstIndexOfYear(c.StartYear); y > start {
			start = y
		}
	}
	return start
}

// Outcome is the result of a search. Best is nil when no pair was feasible.
type Outcome struct {
	RunID       string
	Best        *domain.BacktestResult
	Runs        int
	Feasible    int
	Elapsed     time.Duration
	StartIndex  int
	MinTrades   int
	Truncated   bool
	TotalPairs  int
	Constraints Constraints
}

type job struct {
	idx  int
	pair domain.ParamPair
}

// partial is one worker's best result and its enumeration index.
type partial struct {
	idx      int
	best     *domain.BacktestResult
	runs     int
	feasible int
}

// better reports whether cand (at index ci) replaces cur (at curIdx).
// A strictly greater score wins; equal scores go to the earlier pair.
func better(cand *domain.BacktestResult, ci int, cur *domain.BacktestResult, curIdx int) bool {
	if cur == nil {
		return true
	}
	if cand.Score != cur.Score {
		return cand.Score > cur.Score
	}
	return ci < curIdx
}

// Run simulates every admissible pair and returns the best feasible result.
// Cancelling ctx or reaching MaxRuns stops dispatch; the outcome then covers
// the pairs already simulated and is marked Truncated. A cancelled run also
// returns ctx.Err().
func Run(ctx context.Context, series domain.Series, ind Indicators, cfg Config) (Outcome, error) {
	if err := cfg.Fast.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("fast range: %w", err)
	}
	if err := cfg.Slow.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("slow range: %w", err)
	}
	if len(series) == 0 {
		return Outcome{}, errors.New("search: empty candle series")
	}
	osc := ind.Oscillator()
	if len(osc) != len(series) {
		return Outcome{}, fmt.Errorf("search: oscillator has %d values for %d candles", len(osc), len(series))
	}

	fastVals, slowVals := cfg.Fast.Values(), cfg.Slow.Values()
	emas := make(map[int][]float64)
	for _, vals := range [][]int{fastVals, slowVals} {
		for _, p := range vals {
			if _, ok := emas[p]; ok {
				continue
			}
			e, ok := ind.EMA(p)
			if !ok {
				return Outcome{}, fmt.Errorf("search: no EMA precomputed for period %d", p)
			}
			emas[p] = e
		}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default().With("component", "search")
	}
	minGap := cfg.MinGap
	if minGap <= 0 {
		minGap = domain.DefaultMinGap
	}

	start := cfg.StartFor(series)
	params := cfg.Strategy
	params.StartIndex = start
	params.Observe = nil

	cons := cfg.Constraints.Resolve(series.YearsCovered())
	pairs := Pairs(cfg.Fast, cfg.Slow, minGap)

	out := Outcome{
		RunID:       uuid.NewString(),
		StartIndex:  start,
		MinTrades:   cons.MinTrades,
		TotalPairs:  len(pairs),
		Constraints: cons,
	}
	began := time.Now()

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	log.Info("search started",
		"run_id", out.RunID,
		"pairs", len(pairs),
		"workers", workers,
		"start_index", start,
		"min_trades", cons.MinTrades,
	)

	base := backtest.NewInputs(series, nil, nil, osc)

	jobCh := make(chan job, workers*4)
	partCh := make(chan partial, workers)
	var done atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			part := partial{idx: -1}
			for j := range jobCh {
				in := base.WithPair(emas[j.pair.Fast], emas[j.pair.Slow])
				res := backtest.Simulate(in, j.pair, params)
				res.Feasibility = cons.Check(&res)
				part.runs++
				if cfg.OnResult != nil {
					cfg.OnResult(&res)
				}

				n := done.Add(1)
				if cfg.ProgressEvery > 0 && n%int64(cfg.ProgressEvery) == 0 {
					log.Info("progress", "done", n, "total", len(pairs), "pair", j.pair.String())
				}

				if res.Feasibility != domain.Feasible {
					continue
				}
				part.feasible++
				if better(&res, j.idx, part.best, part.idx) {
					r := res
					part.best = &r
					part.idx = j.idx
				}
			}
			partCh <- part
		}()
	}

	// Dispatch in enumeration order.
	dispatched := 0
dispatch:
	for i, p := range pairs {
		if cfg.MaxRuns > 0 && dispatched >= cfg.MaxRuns {
			break
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobCh <- job{idx: i, pair: p}:
			dispatched++
		}
	}
	close(jobCh)

	go func() {
		wg.Wait()
		close(partCh)
	}()

	bestIdx := -1
	for part := range partCh {
		out.Runs += part.runs
		out.Feasible += part.feasible
		if part.best != nil && better(part.best, part.idx, out.Best, bestIdx) {
			out.Best = part.best
			bestIdx = part.idx
		}
	}

	out.Elapsed = time.Since(began)
	out.Truncated = dispatched < len(pairs)

	attrs := []any{
		"run_id", out.RunID,
		"runs", out.Runs,
		"feasible", out.Feasible,
		"elapsed", out.Elapsed.Round(time.Millisecond),
		"truncated", out.Truncated,
	}
	if out.Best != nil {
		attrs = append(attrs, "best", out.Best.Pair.String(), "score", out.Best.Score)
	}
	log.Info("search finished", attrs...)

	if err := ctx.Err(); err != nil && out.Truncated {
		return out, err
	}
	return out, nil
}
