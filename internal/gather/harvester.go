package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"emagrid/internal/domain"
	"emagrid/internal/store"
	"emagrid/internal/util"
)

// HarvestOptions controls windowing and retries.
type HarvestOptions struct {
	Interval      string
	WindowCandles int
	PadCandles    int
	MaxAttempts   int
	BaseDelay     time.Duration
	Workers       int
}

// SymbolResult reports the outcome for one symbol.
type SymbolResult struct {
	Symbol  string
	Candles int // rows in the merged bundle after the write
	Fetched int // rows fetched in this run
	CSVPath string
	TxtPath string
	Err     error
}

// Harvester downloads full candle histories window by window and persists
// them as a parquet bundle plus delimited and text exports.
type Harvester struct {
	source Source
	store  *store.ParquetStore
	opts   HarvestOptions
	step   time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewHarvester validates opts and returns a Harvester writing through st.
func NewHarvester(src Source, st *store.ParquetStore, opts HarvestOptions) (*Harvester, error) {
	step, err := IntervalDuration(opts.Interval)
	if err != nil {
		return nil, err
	}
	if opts.WindowCandles <= 0 {
		return nil, fmt.Errorf("window_candles must be positive, got %d", opts.WindowCandles)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Harvester{
		source: src,
		store:  st,
		opts:   opts,
		step:   step,
		now:    time.Now,
		log:    slog.Default().With("gatherer", src.Name(), "interval", opts.Interval),
	}, nil
}

// Harvest fetches every symbol over [start, end). Symbols are processed
// concurrently; a failing symbol does not stop the others. The returned
// error joins all per-symbol failures.
func (h *Harvester) Harvest(ctx context.Context, symbols []string, start, end time.Time) ([]SymbolResult, error) {
	results := make([]SymbolResult, len(symbols))
	var done atomic.Int64
	runStart := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.opts.Workers)
	for i, sym := range symbols {
		g.Go(func() error {
			res := h.harvestSymbol(gctx, sym, start, end)
			results[i] = res
			n := done.Add(1)
			if res.Err != nil {
				h.log.Error("symbol failed", "symbol", sym, "err", res.Err)
			} else {
				h.log.Info("symbol done",
					"symbol", sym,
					"fetched", res.Fetched,
					"candles", res.Candles,
					"progress", fmt.Sprintf("%d/%d", n, len(symbols)),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
			// Only cancellation aborts the group.
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				return res.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Symbol, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

func (h *Harvester) harvestSymbol(ctx context.Context, symbol string, start, end time.Time) SymbolResult {
	res := SymbolResult{Symbol: symbol}

	series, err := h.Fetch(ctx, symbol, start, end)
	if err != nil {
		res.Err = err
		return res
	}
	res.Fetched = len(series)
	if len(series) == 0 {
		res.Err = fmt.Errorf("no candles between %s and %s", start.Format(time.DateOnly), end.Format(time.DateOnly))
		return res
	}

	name := fileSymbol(symbol)
	exchange := h.source.Name()
	if err := h.store.WriteCandles(ctx, exchange, h.opts.Interval, name, series); err != nil {
		res.Err = fmt.Errorf("writing bundle: %w", err)
		return res
	}
	merged, err := h.store.ReadCandles(ctx, exchange, h.opts.Interval, name)
	if err != nil {
		res.Err = fmt.Errorf("reading merged bundle: %w", err)
		return res
	}
	res.Candles = len(merged)

	base := h.store.CandleFileBase(exchange, h.opts.Interval, name)
	res.CSVPath, res.TxtPath = base+".csv", base+".txt"
	if err := store.WriteCandleFile(res.CSVPath, merged, store.WriteCandleCSV); err != nil {
		res.Err = err
		return res
	}
	if err := store.WriteCandleFile(res.TxtPath, merged, store.WriteCandleText); err != nil {
		res.Err = err
	}
	return res
}

// Fetch downloads [start, end) for one symbol. Each window is widened by
// PadCandles on both sides and retried with backoff; the concatenation is
// trimmed to the range, normalized, and stripped of a last candle that has
// not closed yet.
func (h *Harvester) Fetch(ctx context.Context, symbol string, start, end time.Time) (domain.Series, error) {
	windows := Windows(start, end, h.step, h.opts.WindowCandles)
	var all domain.Series
	for i, w := range windows {
		padded := w.Pad(h.step, h.opts.PadCandles)
		var got domain.Series
		err := util.Retry(ctx, h.opts.MaxAttempts, h.opts.BaseDelay, func() error {
			var err error
			got, err = h.source.FetchCandles(ctx, symbol, h.opts.Interval, padded.Start, padded.End)
			if err != nil && !util.IsPermanent(err) {
				h.log.Warn("window fetch failed, retrying", "symbol", symbol, "window", i, "err", err)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("window %d/%d (%s): %w", i+1, len(windows), w.Start.Format(time.RFC3339), err)
		}
		h.log.Debug("window fetched",
			"symbol", symbol,
			"window", fmt.Sprintf("%d/%d", i+1, len(windows)),
			"candles", len(got),
		)
		all = append(all, got...)
	}

	lo, hi := start.Unix(), end.Unix()
	kept := all[:0]
	for _, c := range all {
		if c.Timestamp >= lo && c.Timestamp < hi {
			kept = append(kept, c)
		}
	}
	series := kept.Normalize()

	if n := len(series); n > 0 {
		closeAt := series[n-1].Time().Add(h.step)
		if closeAt.After(h.now()) {
			series = series[:n-1]
		}
	}
	return series, nil
}

// fileSymbol turns pair notation like "BTC/USD" into a file-safe name.
func fileSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}
