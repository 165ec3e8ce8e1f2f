package indicator

import "math"

// RSI computes the relative strength index over p periods using Wilder
// smoothing. The first value is at index p. A window with no price movement
// at all has no defined RSI and yields NaN.
func RSI(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(x) <= p {
		return out
	}

	var gain, loss float64
	for i := 1; i <= p; i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(p)
	loss /= float64(p)
	out[p] = rsiValue(gain, loss)

	for i := p + 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(p-1) + g) / float64(p)
		loss = (loss*float64(p-1) + l) / float64(p)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if gain+loss == 0 {
		return math.NaN()
	}
	return 100 * gain / (gain + loss)
}

// StochRSILines holds the three stochastic RSI lines, each in [0, 1] and
// rounded to four decimals.
type StochRSILines struct {
	Raw []float64
	K   []float64
	D   []float64
}

// StochRSI normalises the RSI against its own rolling range:
//
//	raw = (rsi - min(rsi, length)) / (max(rsi, length) - min(rsi, length))
//
// K is SMA(raw, k) and D is SMA(K, d). A flat RSI window (max == min) yields
// zero rather than a division by zero.
func StochRSI(close []float64, length, rsiLength, k, d int) StochRSILines {
	rsi := RSI(close, rsiLength)
	lo := RollingMin(rsi, length)
	hi := RollingMax(rsi, length)

	pct := make([]float64, len(close))
	for i := range pct {
		rng := hi[i] - lo[i]
		switch {
		case math.IsNaN(rng):
			pct[i] = math.NaN()
		case rng == 0:
			pct[i] = 0
		default:
			pct[i] = 100 * (rsi[i] - lo[i]) / rng
		}
	}

	kLine := SMA(pct, k)
	dLine := SMA(kLine, d)
	return StochRSILines{
		Raw: unitRound(pct),
		K:   unitRound(kLine),
		D:   unitRound(dLine),
	}
}

// unitRound maps a 0-100 series to 0-1 and rounds to 4 decimals, half to
// even.
func unitRound(pct []float64) []float64 {
	out := make([]float64, len(pct))
	for i, v := range pct {
		out[i] = Round4(v / 100)
	}
	return out
}

// Round4 rounds v to four decimals, half to even. NaN stays NaN.
func Round4(v float64) float64 {
	return math.RoundToEven(v*1e4) / 1e4
}
