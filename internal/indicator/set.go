package indicator

import (
	"fmt"
	"runtime"
	"sync"

	"emagrid/internal/domain"
)

// Line selects which stochastic RSI line drives the strategy.
type Line string

const (
	LineRaw Line = "raw"
	LineK   Line = "k"
	LineD   Line = "d"
)

// Options configures Compute.
type Options struct {
	// MaxPeriod is the largest moving-average period the search will ask for.
	MaxPeriod int
	// Margin extra periods are computed beyond MaxPeriod.
	Margin int

	StochLength int
	RSILength   int
	SmoothK     int
	SmoothD     int
	Line        Line

	// Workers bounds the goroutines used to compute the EMA family.
	// Zero means runtime.NumCPU().
	Workers int
}

// DefaultOptions returns the stochastic RSI (14, 14, 3, 3) on the raw line.
func DefaultOptions(maxPeriod int) Options {
	return Options{
		MaxPeriod:   maxPeriod,
		Margin:      5,
		StochLength: 14,
		RSILength:   14,
		SmoothK:     3,
		SmoothD:     3,
		Line:        LineRaw,
	}
}

// Set holds every indicator series the search reads. It is immutable after
// Compute returns and safe for concurrent use.
type Set struct {
	emas  [][]float64 // indexed by period; nil below 2
	Stoch []float64
	Lines StochRSILines
}

// Compute precomputes the EMA family 2..MaxPeriod+Margin and the stochastic
// RSI for the series.
func Compute(series domain.Series, opts Options) (*Set, error) {
	if opts.MaxPeriod < 2 {
		return nil, fmt.Errorf("indicator: max period %d < 2", opts.MaxPeriod)
	}
	if opts.StochLength <= 0 || opts.RSILength <= 0 || opts.SmoothK <= 0 || opts.SmoothD <= 0 {
		return nil, fmt.Errorf("indicator: stochastic RSI windows must be positive")
	}

	closes := series.Closes()
	top := opts.MaxPeriod + opts.Margin
	set := &Set{emas: make([][]float64, top+1)}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	periodCh := make(chan int, top)
	for p := 2; p <= top; p++ {
		periodCh <- p
	}
	close(periodCh)

	// Each worker writes a distinct slot of set.emas.
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range periodCh {
				set.emas[p] = EMA(closes, p)
			}
		}()
	}
	wg.Wait()

	set.Lines = StochRSI(closes, opts.StochLength, opts.RSILength, opts.SmoothK, opts.SmoothD)
	switch opts.Line {
	case LineRaw, "":
		set.Stoch = set.Lines.Raw
	case LineK:
		set.Stoch = set.Lines.K
	case LineD:
		set.Stoch = set.Lines.D
	default:
		return nil, fmt.Errorf("indicator: unknown stochastic RSI line %q", opts.Line)
	}
	return set, nil
}

// EMA returns the precomputed EMA for period.
func (s *Set) EMA(period int) ([]float64, bool) {
	if period < 2 || period >= len(s.emas) || s.emas[period] == nil {
		return nil, false
	}
	return s.emas[period], true
}

// Oscillator returns the stochastic RSI line selected by Options.Line.
func (s *Set) Oscillator() []float64 {
	return s.Stoch
}

// MaxPeriod returns the largest precomputed EMA period.
func (s *Set) MaxPeriod() int {
	return len(s.emas) - 1
}
