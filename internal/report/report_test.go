package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"emagrid/internal/domain"
)

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Summary{
		RunID:    "run-1",
		Strategy: "2-EMA crossover with Stoch RSI",
		DataFile: "BTCUSDT.csv",
		Best: &domain.BacktestResult{
			Pair:                domain.ParamPair{Fast: 12, Slow: 40},
			FinalWallet:         2345.678,
			GainPct:             134.5678,
			WinRatePct:          55.5,
			MaxDrawdownPct:      -21.25,
			GainOverDDC:         4.9,
			Score:               1.2345,
			TradeCount:          40,
			Wins:                22,
			Losses:              18,
			FeesPaid:            12.345,
			MaxDaysBetweenHighs: 87.5,
			YearlyGains: []domain.YearlyGain{
				{Year: 2019, Pct: 12.3456},
				{Year: 2020, Pct: -3.001},
			},
		},
		Runs:     1000,
		Feasible: 120,
		Elapsed:  1500 * time.Millisecond,
	})

	out := buf.String()
	for _, want := range []string{
		"2-EMA crossover with Stoch RSI",
		"BTCUSDT.csv",
		"12/40",
		"134.57%",
		"2345.68",
		"-21.25%",
		"12.35",
		"2019", "12.35%", "-3.00%",
		"40 (22 won, 18 lost)",
		"87.5",
		"1000 (120 feasible)",
		"1.5s",
		"run-1",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "NO RESULT")
}

func TestPrintNoResult(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, Summary{Strategy: "s", DataFile: "f", Runs: 42, Truncated: true})

	out := buf.String()
	assert.Contains(t, out, "NO RESULT")
	assert.Contains(t, out, "42 simulated pairs")
	assert.Contains(t, out, "stopped before")
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	first := time.Date(2017, 8, 17, 4, 0, 0, 0, time.UTC)
	PrintHeader(&buf, Header{
		Strategy:   "s",
		DataFile:   "f.csv",
		First:      first,
		Last:       first.Add(24 * time.Hour),
		Candles:    25,
		StartIndex: 10,
		FeePct:     0.07,
		Upper:      0.8,
		Lower:      0.2,
		MinTrades:  70,
		FastRange:  "2..349 step 1",
		SlowRange:  "2..349 step 1",
		Pairs:      119370,
		Workers:    8,
	})

	out := buf.String()
	assert.Contains(t, out, "2017-08-17 04:00:00")
	assert.Contains(t, out, "0.070%")
	assert.Contains(t, out, "0.20 / 0.80")
	assert.Contains(t, out, "119370 on 8 workers")
	assert.Contains(t, out, "candle 10")
}
