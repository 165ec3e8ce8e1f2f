package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"emagrid/internal/domain"
	"emagrid/internal/store"
)

func TestRunSummary(t *testing.T) {
	r := &store.Run{ID: "abc", Runs: 10, Feasible: 2, HasResult: true, Fast: 5, Slow: 30, Score: 1.5,
		YearlyGains: []domain.YearlyGain{{Year: 2020, Pct: 10}}}
	s := runSummary(r)
	if s.Best == nil || s.Best.Pair.String() != "5/30" || len(s.Best.YearlyGains) != 1 {
		t.Fatalf("runSummary = %+v", s)
	}

	r.HasResult = false
	if runSummary(r).Best != nil {
		t.Error("run without result should have nil Best")
	}
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, nil)
	if !strings.Contains(buf.String(), "no saved runs") {
		t.Errorf("printRuns(nil) = %q", buf.String())
	}

	buf.Reset()
	printRuns(&buf, []store.Run{
		{ID: "run-1", CreatedAt: time.Now(), DataFile: "BTC.csv", HasResult: true, Fast: 3, Slow: 9, GainPct: 12.345},
		{ID: "run-2", CreatedAt: time.Now(), DataFile: "ETH.csv"},
	})
	out := buf.String()
	for _, want := range []string{"run-1", "3/9", "12.35%", "run-2", "ETH.csv"} {
		if !strings.Contains(out, want) {
			t.Errorf("printRuns output missing %q:\n%s", want, out)
		}
	}
}

func TestInspect(t *testing.T) {
	t0 := time.Date(2019, 12, 31, 23, 0, 0, 0, time.UTC).Unix()
	series := domain.Series{
		{Timestamp: t0, Low: 5, High: 9},
		{Timestamp: t0 + 3600, Low: 3, High: 12},
	}
	var buf bytes.Buffer
	inspect(&buf, "x.csv", series)
	out := buf.String()
	for _, want := range []string{"Candles:  2", "2019-12-31 23:00:00", "2019..2020 (2 covered)", "3.00 .. 12.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	inspect(&buf, "empty.csv", nil)
	if !strings.Contains(buf.String(), "empty") {
		t.Errorf("inspect(empty) = %q", buf.String())
	}
}
