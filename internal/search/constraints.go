package search

import "emagrid/internal/domain"

// Constraints decide whether a simulated result may be selected as best.
type Constraints struct {
	// MinTrades is the minimum number of trades. When zero it is derived as
	// MinTradesPerYear times the number of calendar years in the data; a
	// negative value disables the minimum.
	MinTrades        int     `yaml:"min_trades"`
	MinTradesPerYear int     `yaml:"min_trades_per_year"`
	MaxGainPct       float64 `yaml:"max_gain_pct"`
	MinDrawdownPct   float64 `yaml:"min_drawdown_pct"`
	MinYearlyGainPct float64 `yaml:"min_yearly_gain_pct"`
	// MaxDaysBetweenHighs caps the longest stretch without a new wallet
	// high. Zero disables the check.
	MaxDaysBetweenHighs float64 `yaml:"max_days_between_highs"`
}

// DefaultConstraints returns 14 trades per year, gains below 100000%,
// drawdown above -50% and every yearly gain above -100%.
func DefaultConstraints() Constraints {
	return Constraints{
		MinTradesPerYear: 14,
		MaxGainPct:       100000,
		MinDrawdownPct:   -50,
		MinYearlyGainPct: -100,
	}
}

// Resolve fills MinTrades from the number of years covered when unset and
// clamps a negative MinTrades to zero.
func (c Constraints) Resolve(yearsCovered int) Constraints {
	switch {
	case c.MinTrades < 0:
		c.MinTrades = 0
	case c.MinTrades == 0:
		c.MinTrades = c.MinTradesPerYear * yearsCovered
	}
	return c
}

// Check classifies r. Results the simulator already marked infeasible keep
// their classification.
func (c Constraints) Check(r *domain.BacktestResult) domain.Feasibility {
	if r.Feasibility != domain.Feasible {
		return r.Feasibility
	}
	switch {
	case r.TradeCount < c.MinTrades:
		return domain.TooFewTrades
	case r.GainPct >= c.MaxGainPct:
		return domain.GainImplausible
	case r.MaxDrawdownPct <= c.MinDrawdownPct:
		return domain.DrawdownTooDeep
	case r.MinYearlyGain() <= c.MinYearlyGainPct:
		return domain.YearlyGainTooLow
	case c.MaxDaysBetweenHighs > 0 && r.MaxDaysBetweenHighs > c.MaxDaysBetweenHighs:
		return domain.HighsTooFarApart
	}
	return domain.Feasible
}
