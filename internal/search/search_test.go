package search

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emagrid/internal/backtest"
	"emagrid/internal/domain"
	"emagrid/internal/indicator"
)

// fakeIndicators serves hand-built series.
type fakeIndicators struct {
	emas map[int][]float64
	osc  []float64
}

func (f fakeIndicators) EMA(p int) ([]float64, bool) {
	e, ok := f.emas[p]
	return e, ok
}

func (f fakeIndicators) Oscillator() []float64 { return f.osc }

func daily(closes []float64) domain.Series {
	t0 := time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC).Unix()
	s := make(domain.Series, len(closes))
	for i, c := range closes {
		s[i] = domain.Candle{Timestamp: t0 + int64(i)*86400, Close: c}
	}
	return s
}

func TestPairsSkipCloseNeighbours(t *testing.T) {
	g := Grid{Min: 2, Max: 10, Step: 1}
	pairs := Pairs(g, g, domain.DefaultMinGap)

	assert.Len(t, pairs, 42)
	for _, p := range pairs {
		d := p.Fast - p.Slow
		if d < 0 {
			d = -d
		}
		assert.GreaterOrEqual(t, d, 3, "pair %v", p)
	}
	// Outer fast, inner slow, ascending.
	assert.Equal(t, domain.ParamPair{Fast: 2, Slow: 5}, pairs[0])
	assert.Equal(t, domain.ParamPair{Fast: 2, Slow: 6}, pairs[1])
	assert.Equal(t, domain.ParamPair{Fast: 10, Slow: 7}, pairs[len(pairs)-1])
}

func TestGrid(t *testing.T) {
	assert.Equal(t, []int{2, 5, 8}, Grid{Min: 2, Max: 9, Step: 3}.Values())
	assert.Equal(t, 8, Grid{Min: 2, Max: 9, Step: 3}.Top())
	assert.Equal(t, 349, DefaultGrid().Top())
	assert.Len(t, DefaultGrid().Values(), 348)

	assert.Error(t, Grid{Min: 1, Max: 5, Step: 1}.Validate())
	assert.Error(t, Grid{Min: 5, Max: 4, Step: 1}.Validate())
	assert.Error(t, Grid{Min: 2, Max: 4, Step: 0}.Validate())
	assert.NoError(t, DefaultGrid().Validate())
	assert.Equal(t, 352, WarmupIndex(DefaultGrid().Top()))
}

func TestConstraintsResolve(t *testing.T) {
	c := DefaultConstraints()
	assert.Equal(t, 42, c.Resolve(3).MinTrades)

	c.MinTrades = 5
	assert.Equal(t, 5, c.Resolve(3).MinTrades)

	c.MinTrades = -1
	r := c.Resolve(3)
	assert.Equal(t, 0, r.MinTrades)
	assert.Equal(t, domain.Feasible, r.Check(&domain.BacktestResult{
		GainPct:        10,
		MaxDrawdownPct: -5,
		YearlyGains:    []domain.YearlyGain{{Year: 2021, Pct: 10}},
	}))
}

func TestConstraintsCheck(t *testing.T) {
	c := DefaultConstraints().Resolve(2)
	require.Equal(t, 28, c.MinTrades)

	good := domain.BacktestResult{
		TradeCount:     30,
		GainPct:        120,
		MaxDrawdownPct: -20,
		YearlyGains:    []domain.YearlyGain{{Year: 2021, Pct: 40}, {Year: 2022, Pct: 50}},
	}
	tests := []struct {
		name   string
		mutate func(r *domain.BacktestResult)
		want   domain.Feasibility
	}{
		{"feasible", func(r *domain.BacktestResult) {}, domain.Feasible},
		{"simulator verdict kept", func(r *domain.BacktestResult) { r.Feasibility = domain.NoDrawdown }, domain.NoDrawdown},
		{"too few trades", func(r *domain.BacktestResult) { r.TradeCount = 27 }, domain.TooFewTrades},
		{"implausible gain", func(r *domain.BacktestResult) { r.GainPct = 100000 }, domain.GainImplausible},
		{"deep drawdown", func(r *domain.BacktestResult) { r.MaxDrawdownPct = -60 }, domain.DrawdownTooDeep},
		{"drawdown at floor", func(r *domain.BacktestResult) { r.MaxDrawdownPct = -50 }, domain.DrawdownTooDeep},
		{"bad year", func(r *domain.BacktestResult) { r.YearlyGains[1].Pct = -100 }, domain.YearlyGainTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := good
			r.YearlyGains = append([]domain.YearlyGain(nil), good.YearlyGains...)
			tt.mutate(&r)
			assert.Equal(t, tt.want, c.Check(&r))
		})
	}

	c.MaxDaysBetweenHighs = 100
	r := good
	r.MaxDaysBetweenHighs = 101
	assert.Equal(t, domain.HighsTooFarApart, c.Check(&r))
}

// drawdownFixture has two pairs. 2/5 trades through a crash to the largest
// score with a drawdown near -62%; 2/6 stops after one small loss.
func drawdownFixture() (domain.Series, fakeIndicators) {
	closes := []float64{100, 100, 95, 100, 40, 41, 1000}
	osc := []float64{0.5, 0.9, 0.1, 0.9, 0.1, 0.9, 0.5}
	zero := make([]float64, len(closes))
	return daily(closes), fakeIndicators{
		emas: map[int][]float64{
			2: zero,
			5: zero,
			6: {0, 0, 0, -1, -1, -1, -1},
		},
		osc: osc,
	}
}

func drawdownConfig(minDD float64) Config {
	cfg := DefaultConfig()
	cfg.Fast = Grid{Min: 2, Max: 2, Step: 1}
	cfg.Slow = Grid{Min: 5, Max: 6, Step: 1}
	cfg.StartIndex = 1
	cfg.Constraints.MinTrades = 1
	cfg.Constraints.MinDrawdownPct = minDD
	cfg.Workers = 2
	return cfg
}

func TestRun_DeepDrawdownExcluded(t *testing.T) {
	series, ind := drawdownFixture()

	loose, err := Run(context.Background(), series, ind, drawdownConfig(-70))
	require.NoError(t, err)
	require.NotNil(t, loose.Best)
	assert.Equal(t, domain.ParamPair{Fast: 2, Slow: 5}, loose.Best.Pair)
	assert.Less(t, loose.Best.MaxDrawdownPct, -60.0)

	strict, err := Run(context.Background(), series, ind, drawdownConfig(-50))
	require.NoError(t, err)
	require.NotNil(t, strict.Best)
	assert.Equal(t, domain.ParamPair{Fast: 2, Slow: 6}, strict.Best.Pair)
	assert.Less(t, strict.Best.Score, loose.Best.Score+1e-9)
	assert.Equal(t, 2, strict.Runs)
	assert.Equal(t, 1, strict.Feasible)
}

func TestRun_NoFeasiblePair(t *testing.T) {
	series, ind := drawdownFixture()
	cfg := drawdownConfig(-70)
	cfg.Constraints.MinTrades = 1000

	out, err := Run(context.Background(), series, ind, cfg)
	require.NoError(t, err)
	assert.Nil(t, out.Best)
	assert.Equal(t, 2, out.Runs)
	assert.Equal(t, 0, out.Feasible)
	assert.NotEmpty(t, out.RunID)
}

func randomSetup(t *testing.T) (domain.Series, *indicator.Set) {
	t.Helper()
	r := rand.New(rand.NewSource(99))
	n := 4000
	series := make(domain.Series, n)
	t0 := time.Date(2019, time.June, 1, 0, 0, 0, 0, time.UTC).Unix()
	p := 500.0
	for i := range series {
		p *= 1 + r.NormFloat64()*0.015
		series[i] = domain.Candle{Timestamp: t0 + int64(i)*6*3600, Close: p}
	}
	set, err := indicator.Compute(series, indicator.DefaultOptions(30))
	require.NoError(t, err)
	return series, set
}

func relaxedConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.Fast = Grid{Min: 2, Max: 30, Step: 1}
	cfg.Slow = Grid{Min: 2, Max: 30, Step: 1}
	cfg.Constraints = Constraints{
		MinTrades:        1,
		MaxGainPct:       100000,
		MinDrawdownPct:   -100,
		MinYearlyGainPct: -100,
	}
	cfg.Workers = workers
	return cfg
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	series, set := randomSetup(t)

	seq, err := Run(context.Background(), series, set, relaxedConfig(1))
	require.NoError(t, err)
	par, err := Run(context.Background(), series, set, relaxedConfig(8))
	require.NoError(t, err)

	require.NotNil(t, seq.Best)
	require.NotNil(t, par.Best)
	assert.Equal(t, *seq.Best, *par.Best)
	assert.Equal(t, seq.Runs, par.Runs)
	assert.Equal(t, seq.Feasible, par.Feasible)
	assert.Equal(t, len(Pairs(relaxedConfig(1).Fast, relaxedConfig(1).Slow, 3)), seq.Runs)
	assert.False(t, seq.Truncated)
	assert.Equal(t, WarmupIndex(30), seq.StartIndex)

	// A plain sequential scan with the strictly-greater rule agrees.
	cfg := relaxedConfig(1)
	cons := cfg.Constraints.Resolve(series.YearsCovered())
	params := cfg.Strategy
	params.StartIndex = WarmupIndex(30)
	in := backtest.NewInputs(series, nil, nil, set.Oscillator())
	var best *domain.BacktestResult
	for _, p := range Pairs(cfg.Fast, cfg.Slow, 3) {
		fast, _ := set.EMA(p.Fast)
		slow, _ := set.EMA(p.Slow)
		res := backtest.Simulate(in.WithPair(fast, slow), p, params)
		res.Feasibility = cons.Check(&res)
		if res.Feasibility != domain.Feasible {
			continue
		}
		if best == nil || res.Score > best.Score {
			r := res
			best = &r
		}
	}
	require.NotNil(t, best)
	assert.Equal(t, best.Pair, par.Best.Pair)
}

func TestRun_MaxRuns(t *testing.T) {
	series, set := randomSetup(t)
	cfg := relaxedConfig(3)
	cfg.MaxRuns = 5

	out, err := Run(context.Background(), series, set, cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Runs)
	assert.True(t, out.Truncated)
}

func TestConfigStartFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fast = Grid{Min: 2, Max: 20, Step: 1}
	cfg.Slow = Grid{Min: 5, Max: 50, Step: 5}
	series := daily(make([]float64, 400))

	assert.Equal(t, 50, cfg.MaxPeriod())
	assert.Equal(t, 53, cfg.StartFor(series))

	cfg.StartIndex = 7
	assert.Equal(t, 7, cfg.StartFor(series))

	assert.Equal(t, 352, WarmupIndex(DefaultGrid().Top()))
	assert.Equal(t, "2..349 step 1", DefaultGrid().String())
}

func TestRun_OnResultSeesEveryRun(t *testing.T) {
	series, set := randomSetup(t)
	cfg := relaxedConfig(4)
	var seen, feasible atomic.Int64
	cfg.OnResult = func(r *domain.BacktestResult) {
		seen.Add(1)
		if r.Feasibility == domain.Feasible {
			feasible.Add(1)
		}
	}

	out, err := Run(context.Background(), series, set, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(out.Runs), seen.Load())
	assert.Equal(t, int64(out.Feasible), feasible.Load())
}

func TestRun_Cancelled(t *testing.T) {
	series, set := randomSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := Run(ctx, series, set, relaxedConfig(2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, out.Runs)
	assert.True(t, out.Truncated)
	assert.Nil(t, out.Best)
}

func TestRun_StartYear(t *testing.T) {
	series, set := randomSetup(t)
	cfg := relaxedConfig(2)
	cfg.StartYear = 2020

	out, err := Run(context.Background(), series, set, cfg)
	require.NoError(t, err)
	assert.Equal(t, series.FirstIndexOfYear(2020), out.StartIndex)
}

func TestRun_MissingEMA(t *testing.T) {
	series, set := randomSetup(t)
	cfg := relaxedConfig(1)
	cfg.Slow.Max = 60

	_, err := Run(context.Background(), series, set, cfg)
	assert.Error(t, err)
}
