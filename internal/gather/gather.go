// Package gather downloads historical candles from exchange APIs and
// persists them in the formats the optimizer reads.
package gather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emagrid/internal/domain"
)

// ErrPermanent marks a source failure that retrying cannot fix, such as an
// unknown symbol or a malformed request.
var ErrPermanent = errors.New("permanent source error")

// Source fetches candles for one bounded window.
type Source interface {
	// Name returns the source identifier, also used as the exchange
	// directory in the data layout.
	Name() string
	// FetchCandles returns the candles opening in [start, end]. Timestamps
	// are in seconds; order is not guaranteed.
	FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time) (domain.Series, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Windows splits [start, end) into consecutive ranges spanning size
// intervals each. The last range is clipped to end.
func Windows(start, end time.Time, step time.Duration, size int) []DateRange {
	if size <= 0 || step <= 0 || !end.After(start) {
		return nil
	}
	span := step * time.Duration(size)
	var out []DateRange
	for cur := start; cur.Before(end); cur = cur.Add(span) {
		next := cur.Add(span)
		if next.After(end) {
			next = end
		}
		out = append(out, DateRange{Start: cur, End: next})
	}
	return out
}

// Pad widens r by pad intervals on each side.
func (r DateRange) Pad(step time.Duration, pad int) DateRange {
	d := step * time.Duration(pad)
	return DateRange{Start: r.Start.Add(-d), End: r.End.Add(d)}
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration maps an exchange interval code ("1h", "4h", "1d") to its
// length.
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return d, nil
}
