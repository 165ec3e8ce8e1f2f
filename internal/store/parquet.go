package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"emagrid/internal/domain"
)

// Compile-time interface check.
var _ CandleStore = (*ParquetStore)(nil)

// ParquetStore implements CandleStore with one Parquet file per symbol:
//
//	<DataDir>/<exchange>/<interval>/<SYMBOL>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// CandleRecord is the Parquet schema for candle data.
type CandleRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func toRecord(c domain.Candle) CandleRecord {
	return CandleRecord{
		Timestamp: c.Timestamp * 1000,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

func (r CandleRecord) candle() domain.Candle {
	return domain.Candle{
		Timestamp: r.Timestamp / 1000,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// WriteCandles merges series into the symbol's file. Incoming candles
// replace stored candles with the same timestamp.
func (s *ParquetStore) WriteCandles(_ context.Context, exchange, interval, symbol string, series domain.Series) error {
	if len(series) == 0 {
		return nil
	}
	path := s.candlePath(exchange, interval, symbol)

	existing, err := readParquetFile[CandleRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	incoming := make([]CandleRecord, len(series))
	for i, c := range series {
		incoming[i] = toRecord(c)
	}

	if err := writeParquetFile(path, mergeCandleRecords(existing, incoming)); err != nil {
		return fmt.Errorf("writing candles for %s: %w", symbol, err)
	}
	return nil
}

// ReadCandles reads every stored candle of symbol. A missing file yields
// ErrNotFound.
func (s *ParquetStore) ReadCandles(_ context.Context, exchange, interval, symbol string) (domain.Series, error) {
	path := s.candlePath(exchange, interval, symbol)
	records, err := readParquetFile[CandleRecord](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s %s %s: %w", exchange, interval, symbol, ErrNotFound)
		}
		return nil, err
	}
	series := make(domain.Series, len(records))
	for i, r := range records {
		series[i] = r.candle()
	}
	return series, nil
}

// ListSymbols lists the symbols stored for exchange and interval.
func (s *ParquetStore) ListSymbols(_ context.Context, exchange, interval string) ([]string, error) {
	dir := filepath.Join(s.DataDir, exchange, interval)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, ".parquet"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ReadCandleParquet reads a candle bundle from an explicit path.
func ReadCandleParquet(path string) (domain.Series, error) {
	records, err := readParquetFile[CandleRecord](path)
	if err != nil {
		return nil, err
	}
	series := make(domain.Series, len(records))
	for i, r := range records {
		series[i] = r.candle()
	}
	return series, nil
}

// candlePath returns the filesystem path for a symbol's Parquet file.
func (s *ParquetStore) candlePath(exchange, interval, symbol string) string {
	return filepath.Join(s.DataDir, exchange, interval, strings.ToUpper(symbol)+".parquet")
}

// CandleFileBase returns the path without extension under which the
// delimited and text exports of a symbol are written.
func (s *ParquetStore) CandleFileBase(exchange, interval, symbol string) string {
	return filepath.Join(s.DataDir, exchange, interval, strings.ToUpper(symbol))
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeCandleRecords deduplicates by timestamp, preferring incoming records,
// and sorts ascending.
func mergeCandleRecords(existing, incoming []CandleRecord) []CandleRecord {
	seen := make(map[int64]CandleRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]CandleRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
