package domain

import (
	"fmt"
	"math"
)

// DefaultMinGap is the smallest allowed distance between the fast and slow
// moving-average periods of a parameter pair.
const DefaultMinGap = 3

// ParamPair is one point of the search grid.
type ParamPair struct {
	Fast int
	Slow int
}

// Admissible reports whether the pair is far enough apart to be simulated.
func (p ParamPair) Admissible(minGap int) bool {
	d := p.Fast - p.Slow
	if d < 0 {
		d = -d
	}
	return d >= minGap
}

func (p ParamPair) String() string {
	return fmt.Sprintf("%d/%d", p.Fast, p.Slow)
}

// PositionState is the simulator state. Only long positions exist.
type PositionState int

const (
	Flat PositionState = iota
	Long
)

func (s PositionState) String() string {
	switch s {
	case Flat:
		return "flat"
	case Long:
		return "long"
	default:
		return fmt.Sprintf("PositionState(%d)", int(s))
	}
}

// YearlyGain is the wallet return over one calendar year, in percent. Pct is
// kept at full precision; use Rounded for display.
type YearlyGain struct {
	Year int
	Pct  float64
}

// Rounded returns Pct rounded to two decimals.
func (g YearlyGain) Rounded() float64 {
	return math.Round(g.Pct*100) / 100
}

// Feasibility classifies a simulated result. Only Feasible results take part
// in best-result selection.
type Feasibility int

const (
	Feasible Feasibility = iota
	// NoTrades means no position was ever opened; the win rate is undefined.
	NoTrades
	// NoDrawdown means the wallet never fell below its peak at a sample
	// point, so the drawdown coefficient is zero and the score undefined.
	NoDrawdown
	TooFewTrades
	GainImplausible
	DrawdownTooDeep
	YearlyGainTooLow
	HighsTooFarApart
)

var feasibilityNames = map[Feasibility]string{
	Feasible:         "feasible",
	NoTrades:         "no_trades",
	NoDrawdown:       "no_drawdown",
	TooFewTrades:     "too_few_trades",
	GainImplausible:  "gain_implausible",
	DrawdownTooDeep:  "drawdown_too_deep",
	YearlyGainTooLow: "yearly_gain_too_low",
	HighsTooFarApart: "highs_too_far_apart",
}

func (f Feasibility) String() string {
	if s, ok := feasibilityNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Feasibility(%d)", int(f))
}

// BacktestResult is the outcome of replaying the price history once for a
// single parameter pair. It is created by the simulator and never modified
// afterwards, except for Feasibility which the search sets when applying its
// constraints.
type BacktestResult struct {
	Pair ParamPair

	FinalWallet    float64
	GainPct        float64
	WinRatePct     float64
	MaxDrawdownPct float64
	// DDC is the drawdown-to-capital coefficient: the gain in percent needed
	// to recover from the maximum drawdown.
	DDC         float64
	GainOverDDC float64
	Score       float64

	YearlyGains []YearlyGain
	TradeCount  int
	Wins        int
	Losses      int
	FeesPaid    float64

	// MaxDaysBetweenHighs is the longest time, in days, between two wallet
	// samples that set a new all-time high.
	MaxDaysBetweenHighs float64

	Feasibility Feasibility
}

// MinYearlyGain returns the lowest yearly gain, or +Inf when there are none.
func (r *BacktestResult) MinYearlyGain() float64 {
	lo := math.Inf(1)
	for _, g := range r.YearlyGains {
		if g.Pct < lo {
			lo = g.Pct
		}
	}
	return lo
}
