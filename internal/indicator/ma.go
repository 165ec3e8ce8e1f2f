// Package indicator computes the technical indicators consumed by the
// backtest: moving averages, RSI and the stochastic RSI oscillator.
//
// Every function is strictly causal: output[i] depends only on input[0..i].
// Outputs are aligned with the input and hold NaN until the indicator's
// look-back window is filled.
package indicator

import "math"

// SMA over the last p points; NaN for warm-up, and NaN for any window that
// contains a NaN.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	var sum float64
	nans := 0
	for i := range x {
		if math.IsNaN(x[i]) {
			nans++
		} else {
			sum += x[i]
		}
		if i >= p {
			if math.IsNaN(x[i-p]) {
				nans--
			} else {
				sum -= x[i-p]
			}
		}
		if i < p-1 || nans > 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA with smoothing 2/(p+1). The first value, at index p-1, is seeded with
// SMA(p); earlier values are NaN.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	if len(x) < p {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / float64(p+1)

	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	seed /= float64(p)
	for i := 0; i < p-1; i++ {
		out[i] = math.NaN()
	}
	out[p-1] = seed
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// RollingMin returns the minimum over the last p points. A window holding a
// NaN yields NaN.
func RollingMin(x []float64, p int) []float64 {
	return rolling(x, p, math.Min)
}

// RollingMax returns the maximum over the last p points. A window holding a
// NaN yields NaN.
func RollingMax(x []float64, p int) []float64 {
	return rolling(x, p, math.Max)
}

func rolling(x []float64, p int, pick func(a, b float64) float64) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range x {
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		v := x[i-p+1]
		for j := i - p + 2; j <= i; j++ {
			v = pick(v, x[j])
		}
		out[i] = v
	}
	return out
}
