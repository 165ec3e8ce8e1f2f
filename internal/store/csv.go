package store

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"emagrid/internal/domain"
)

// Candle files hold one candle per row, no header:
//
//	time_ms;open;high;low;close;volume
const (
	candleDelimiter = ';'
	candleFields    = 6
)

// LoadCandleCSV reads a candle file from path.
func LoadCandleCSV(path string) (domain.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candle file: %w", err)
	}
	defer f.Close()

	series, err := ReadCandleCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return series, nil
}

// ReadCandleCSV parses candle rows from r. Timestamps are converted from
// milliseconds to seconds. The first malformed row stops parsing with an
// error naming its line: a wrong field count, a non-numeric or non-finite
// value, a close that is not positive, or a timestamp not after the previous
// one. Blank lines are skipped.
func ReadCandleCSV(r io.Reader) (domain.Series, error) {
	cr := csv.NewReader(r)
	cr.Comma = candleDelimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var series domain.Series
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading candles: %w", err)
		}
		line, _ := cr.FieldPos(0)

		if len(rec) != candleFields {
			return nil, fmt.Errorf("line %d: want %d fields, got %d", line, candleFields, len(rec))
		}
		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: time %q: %w", line, rec[0], err)
		}
		var v [candleFields - 1]float64
		for i := range v {
			v[i], err = strconv.ParseFloat(rec[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: field %d %q: %w", line, i+2, rec[i+1], err)
			}
			if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
				return nil, fmt.Errorf("line %d: field %d %q: %w", line, i+2, rec[i+1], domain.ErrBadValue)
			}
		}
		if v[3] <= 0 {
			return nil, fmt.Errorf("line %d: close %q: %w", line, rec[4], domain.ErrNonPositiveClose)
		}

		c := domain.Candle{
			Timestamp: ms / 1000,
			Open:      v[0],
			High:      v[1],
			Low:       v[2],
			Close:     v[3],
			Volume:    v[4],
		}
		if n := len(series); n > 0 && c.Timestamp <= series[n-1].Timestamp {
			return nil, fmt.Errorf("line %d: timestamp %d not after %d: %w",
				line, c.Timestamp, series[n-1].Timestamp, domain.ErrUnsortedSeries)
		}
		series = append(series, c)
	}
	return series, nil
}

// WriteCandleCSV writes series in the candle file format.
func WriteCandleCSV(w io.Writer, series domain.Series) error {
	cw := csv.NewWriter(w)
	cw.Comma = candleDelimiter
	for _, c := range series {
		row := []string{
			strconv.FormatInt(c.Timestamp*1000, 10),
			fmtPrice(c.Open),
			fmtPrice(c.High),
			fmtPrice(c.Low),
			fmtPrice(c.Close),
			fmtPrice(c.Volume),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCandleText writes "timestamp open high low close" rows, space
// delimited, prices to two decimals.
func WriteCandleText(w io.Writer, series domain.Series) error {
	bw := bufio.NewWriter(w)
	for _, c := range series {
		if _, err := fmt.Fprintf(bw, "%d %.2f %.2f %.2f %.2f\n",
			c.Timestamp, c.Open, c.High, c.Low, c.Close); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteCandleFile writes series to path using write, creating parent
// directories as needed.
func WriteCandleFile(path string, series domain.Series, write func(io.Writer, domain.Series) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, series); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func fmtPrice(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
