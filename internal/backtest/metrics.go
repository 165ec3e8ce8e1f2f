package backtest

// GainPct is the percentage change from initial to final.
func GainPct(final, initial float64) float64 {
	return (final - initial) / initial * 100
}

// WinRatePct returns wins/trades in percent. ok is false when no trade was
// made and the rate is undefined.
func WinRatePct(wins, trades int) (rate float64, ok bool) {
	if trades == 0 {
		return 0, false
	}
	return float64(wins) / float64(trades) * 100, true
}

// DDC converts a (non-positive) maximum drawdown percentage into the gain in
// percent required to recover from it. A drawdown of zero gives zero.
func DDC(maxDrawdownPct float64) float64 {
	return (1/(1+maxDrawdownPct/100) - 1) * 100
}

// Score ranks results: gain relative to the drawdown coefficient, weighted by
// the win rate. ok is false when ddc is zero.
func Score(gainPct, ddc, winRatePct float64) (score float64, ok bool) {
	if ddc == 0 {
		return 0, false
	}
	return gainPct / ddc * winRatePct, true
}

// YearlyGainPct is the wallet change over a year relative to its value at the
// start of that year.
func YearlyGainPct(wallet, beginOfYear float64) float64 {
	return (wallet - beginOfYear) / beginOfYear * 100
}

// drawdownPct returns the percentage deviation of wallet from peak; zero or
// negative.
func drawdownPct(wallet, peak float64) float64 {
	return (wallet - peak) / peak * 100
}
