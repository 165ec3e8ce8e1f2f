// Package store persists candles and search runs: delimited candle files for
// the optimizer, Parquet candle bundles for harvested data, and a SQL
// database of completed runs.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"emagrid/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CandleStore persists and retrieves candle series per symbol.
type CandleStore interface {
	// WriteCandles merges series into the stored candles of symbol.
	WriteCandles(ctx context.Context, exchange, interval, symbol string, series domain.Series) error

	// ReadCandles returns every stored candle of symbol, oldest first.
	ReadCandles(ctx context.Context, exchange, interval, symbol string) (domain.Series, error)

	// ListSymbols returns the symbols stored for exchange and interval.
	ListSymbols(ctx context.Context, exchange, interval string) ([]string, error)
}

// RunStore persists completed search runs.
type RunStore interface {
	// SaveRun inserts a run together with its yearly gains.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a single run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// LoadCandles reads a candle file, choosing the format by extension:
// ".parquet" bundles or delimited text otherwise.
func LoadCandles(path string) (domain.Series, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return ReadCandleParquet(path)
	}
	return LoadCandleCSV(path)
}
