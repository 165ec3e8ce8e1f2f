// Package domain defines the core value types shared across emagrid:
// candles, candle series, strategy parameter pairs and backtest results.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Sentinel errors returned by Series.Validate and the candle readers.
var (
	ErrUnsortedSeries     = errors.New("candle timestamps are not increasing")
	ErrDuplicateTimestamp = errors.New("duplicate candle timestamp")
	ErrBadValue           = errors.New("candle value is not a finite number")
	ErrNonPositiveClose   = errors.New("candle close is not positive")
)

// Candle is a single OHLCV bar. Timestamp is in whole seconds since the Unix
// epoch (UTC).
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Time returns the candle open time in UTC.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// Year returns the UTC calendar year of the candle.
func (c Candle) Year() int {
	return c.Time().Year()
}

// Series is a chronologically ordered candle sequence indexed 0..N-1. Gaps
// between candles are allowed; duplicates are not.
type Series []Candle

// Validate checks that timestamps are strictly increasing. The returned error
// wraps ErrDuplicateTimestamp or ErrUnsortedSeries and names the offending
// index.
func (s Series) Validate() error {
	for i := 1; i < len(s); i++ {
		prev, cur := s[i-1].Timestamp, s[i].Timestamp
		switch {
		case cur == prev:
			return fmt.Errorf("candle %d (ts=%d): %w", i, cur, ErrDuplicateTimestamp)
		case cur < prev:
			return fmt.Errorf("candle %d (ts=%d < %d): %w", i, cur, prev, ErrUnsortedSeries)
		}
	}
	return nil
}

// Normalize returns a new series with duplicates removed (the last occurrence
// of a timestamp wins) and candles sorted ascending by timestamp. The
// receiver is not modified.
func (s Series) Normalize() Series {
	seen := make(map[int64]int, len(s))
	out := make(Series, 0, len(s))
	for _, c := range s {
		if i, ok := seen[c.Timestamp]; ok {
			out[i] = c
			continue
		}
		seen[c.Timestamp] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Closes returns the close prices in series order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Years returns the UTC calendar year of every candle.
func (s Series) Years() []int {
	out := make([]int, len(s))
	for i, c := range s {
		out[i] = c.Year()
	}
	return out
}

// YearsCovered returns the number of calendar years spanned by the series,
// counting both the first and last year. An empty series covers zero years.
func (s Series) YearsCovered() int {
	if len(s) == 0 {
		return 0
	}
	lo, hi := s[0].Year(), s[0].Year()
	for _, c := range s[1:] {
		y := c.Year()
		if y < lo {
			lo = y
		}
		if y > hi {
			hi = y
		}
	}
	return hi - lo + 1
}

// FirstIndexOfYear returns the index of the first candle whose year is at
// least year, or 0 when the data starts later than year. It returns len(s)
// when every candle is before year.
func (s Series) FirstIndexOfYear(year int) int {
	for i, c := range s {
		if c.Year() >= year {
			return i
		}
	}
	return len(s)
}

// Span returns the first and last candle times. Both are zero for an empty
// series.
func (s Series) Span() (time.Time, time.Time) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}
	}
	return s[0].Time(), s[len(s)-1].Time()
}
