// Package search runs the backtest over a grid of moving-average period
// pairs and keeps the best feasible result.
package search

import (
	"fmt"

	"emagrid/internal/domain"
)

// WarmupMargin is added to the largest tested period to get the first
// simulated candle, so that every EMA is defined.
const WarmupMargin = 3

// Grid is an inclusive integer range of moving-average periods.
type Grid struct {
	Min  int `yaml:"min"`
	Max  int `yaml:"max"`
	Step int `yaml:"step"`
}

// DefaultGrid is 2..349 in steps of one.
func DefaultGrid() Grid {
	return Grid{Min: 2, Max: 349, Step: 1}
}

// Validate checks that the range is usable.
func (g Grid) Validate() error {
	if g.Min < 2 {
		return fmt.Errorf("grid min %d < 2", g.Min)
	}
	if g.Max < g.Min {
		return fmt.Errorf("grid max %d < min %d", g.Max, g.Min)
	}
	if g.Step <= 0 {
		return fmt.Errorf("grid step %d must be positive", g.Step)
	}
	return nil
}

// Values returns the periods in ascending order.
func (g Grid) Values() []int {
	if g.Step <= 0 || g.Max < g.Min {
		return nil
	}
	out := make([]int, 0, (g.Max-g.Min)/g.Step+1)
	for v := g.Min; v <= g.Max; v += g.Step {
		out = append(out, v)
	}
	return out
}

func (g Grid) String() string {
	return fmt.Sprintf("%d..%d step %d", g.Min, g.Max, g.Step)
}

// Top returns the largest value actually produced by Values.
func (g Grid) Top() int {
	v := g.Values()
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

// Pairs enumerates fast (outer) by slow (inner), both ascending, and drops
// every pair closer than minGap. The order is the tie-break order of the
// search.
func Pairs(fast, slow Grid, minGap int) []domain.ParamPair {
	fv, sv := fast.Values(), slow.Values()
	out := make([]domain.ParamPair, 0, len(fv)*len(sv))
	for _, f := range fv {
		for _, s := range sv {
			p := domain.ParamPair{Fast: f, Slow: s}
			if !p.Admissible(minGap) {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// WarmupIndex returns the first candle index simulated when the largest
// tested period is maxPeriod.
func WarmupIndex(maxPeriod int) int {
	return maxPeriod + WarmupMargin
}
