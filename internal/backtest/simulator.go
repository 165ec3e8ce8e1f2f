// Package backtest replays a candle series for one moving-average pair and
// computes the resulting performance metrics.
//
// Strategy: go long when the slow EMA is at or above the fast EMA and the
// stochastic RSI is above the upper band; go flat when the slow EMA is at or
// below the fast EMA and the oscillator is below the lower band. Any open
// position is closed on the last candle.
package backtest

import (
	"emagrid/internal/domain"
)

// Default strategy parameters.
const (
	DefaultInitialCapital = 1000.0
	DefaultFeePct         = 0.07
	DefaultUpper          = 0.800
	DefaultLower          = 0.200
)

// Inputs are the read-only series a simulation reads. All slices are aligned
// by index with Candles. Simulate never modifies them, so one Inputs value
// may be shared by concurrent simulations.
type Inputs struct {
	Candles domain.Series
	Years   []int
	Fast    []float64
	Slow    []float64
	Stoch   []float64
}

// NewInputs builds Inputs for series, deriving the per-candle years.
func NewInputs(series domain.Series, fast, slow, stoch []float64) Inputs {
	return Inputs{
		Candles: series,
		Years:   series.Years(),
		Fast:    fast,
		Slow:    slow,
		Stoch:   stoch,
	}
}

// WithPair returns a copy of in using the given moving averages.
func (in Inputs) WithPair(fast, slow []float64) Inputs {
	in.Fast = fast
	in.Slow = slow
	return in
}

// Params configures a simulation.
type Params struct {
	InitialCapital float64
	// FeePct is charged on every conversion, in percent of the converted
	// amount.
	FeePct float64
	Upper  float64
	Lower  float64
	// StartIndex is the first candle evaluated. Earlier candles only feed the
	// indicators.
	StartIndex int

	// Observe, when set, is called after every evaluated candle.
	Observe func(Step)
}

// DefaultParams returns the default capital, fee and bands with the given
// start index.
func DefaultParams(startIndex int) Params {
	return Params{
		InitialCapital: DefaultInitialCapital,
		FeePct:         DefaultFeePct,
		Upper:          DefaultUpper,
		Lower:          DefaultLower,
		StartIndex:     startIndex,
	}
}

// Step is the simulator state after processing one candle.
type Step struct {
	Index    int
	State    domain.PositionState
	Cash     float64
	Coin     float64
	FeesPaid float64
	Opened   bool
	Closed   bool
	Trades   int
}

// Simulate runs the strategy for pair over in.
func Simulate(in Inputs, pair domain.ParamPair, p Params) domain.BacktestResult {
	n := len(in.Candles)
	start := p.StartIndex
	if start < 0 {
		start = 0
	}

	var (
		cash       = p.InitialCapital
		coin       float64
		entry      float64
		fees       float64
		trades     int
		wins       int
		losses     int
		maxDD      float64
		peak       = p.InitialCapital
		yearBegin  = p.InitialCapital
		yearly     []domain.YearlyGain
		lastHighTs int64
		maxHighGap int64
	)
	if start < n {
		lastHighTs = in.Candles[start].Timestamp
	}

	for i := start; i < n; i++ {
		c := in.Candles[i]
		px := c.Close
		last := i == n-1

		openCond := in.Slow[i] >= in.Fast[i] && in.Stoch[i] > p.Upper
		closeCond := in.Slow[i] <= in.Fast[i] && in.Stoch[i] < p.Lower

		var opened, closed bool

		// Close is evaluated first. A candle that closes never reopens.
		if coin > 0 && (closeCond || last) {
			cash = coin * px
			coin = 0
			fee := cash * p.FeePct / 100
			cash -= fee
			fees += fee
			if px >= entry {
				wins++
			} else {
				losses++
			}
			closed = true
		}

		if !closed && coin == 0 && openCond && !last {
			entry = px
			coin = cash / px
			cash = 0
			fee := coin * p.FeePct / 100
			coin -= fee
			fees += fee * px
			trades++
			opened = true
		}

		if last || in.Years[i] != in.Years[i+1] {
			wallet := cash + coin*px
			yearly = append(yearly, domain.YearlyGain{
				Year: in.Years[i],
				Pct:  YearlyGainPct(wallet, yearBegin),
			})
			yearBegin = wallet
		}

		// Drawdown and wallet highs are sampled only where the exit condition
		// holds, whether or not a position was open, and on the last candle.
		if closeCond || last {
			wallet := cash + coin*px
			if wallet > peak {
				peak = wallet
				if gap := c.Timestamp - lastHighTs; gap > maxHighGap {
					maxHighGap = gap
				}
				lastHighTs = c.Timestamp
			}
			if dd := drawdownPct(wallet, peak); dd < maxDD {
				maxDD = dd
			}
			if last {
				if gap := c.Timestamp - lastHighTs; gap > maxHighGap {
					maxHighGap = gap
				}
			}
		}

		if p.Observe != nil {
			state := domain.Flat
			if coin > 0 {
				state = domain.Long
			}
			p.Observe(Step{
				Index:    i,
				State:    state,
				Cash:     cash,
				Coin:     coin,
				FeesPaid: fees,
				Opened:   opened,
				Closed:   closed,
				Trades:   trades,
			})
		}
	}

	final := cash
	if n > 0 {
		final += coin * in.Candles[n-1].Close
	}

	res := domain.BacktestResult{
		Pair:                pair,
		FinalWallet:         final,
		GainPct:             GainPct(final, p.InitialCapital),
		MaxDrawdownPct:      maxDD,
		DDC:                 DDC(maxDD),
		YearlyGains:         yearly,
		TradeCount:          trades,
		Wins:                wins,
		Losses:              losses,
		FeesPaid:            fees,
		MaxDaysBetweenHighs: float64(maxHighGap) / 86400,
	}

	wr, ok := WinRatePct(wins, trades)
	if !ok {
		res.Feasibility = domain.NoTrades
		return res
	}
	res.WinRatePct = wr

	score, ok := Score(res.GainPct, res.DDC, wr)
	if !ok {
		res.Feasibility = domain.NoDrawdown
		return res
	}
	res.Score = score
	res.GainOverDDC = res.GainPct / res.DDC
	res.Feasibility = domain.Feasible
	return res
}
