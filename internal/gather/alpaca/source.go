// Package alpaca fetches crypto bars from the Alpaca market-data API.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"emagrid/internal/domain"
	"emagrid/internal/gather"
	"emagrid/internal/util"
)

var _ gather.Source = (*Source)(nil)

// Source gathers crypto bars (symbols like "BTC/USD") through the Alpaca
// market-data SDK.
type Source struct {
	client *marketdata.Client
	log    *slog.Logger
}

// NewSource creates a Source configured with the given Alpaca credentials.
// An empty dataURL keeps the SDK default endpoint.
func NewSource(apiKey, apiSecret, dataURL string) *Source {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Source{
		client: marketdata.NewClient(opts),
		log:    slog.Default().With("source", "alpaca"),
	}
}

// Name implements gather.Source.
func (s *Source) Name() string { return "alpaca" }

// FetchCandles implements gather.Source. The SDK follows page tokens itself.
func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time) (domain.Series, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	tf, err := timeFrame(interval)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("%w: %v", gather.ErrPermanent, err))
	}

	bars, err := s.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoBars %s: %w", symbol, err)
	}

	out := make(domain.Series, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Candle{
			Timestamp: b.Timestamp.Unix(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	s.log.Debug("window fetched", "symbol", symbol, "bars", len(out))
	return out, nil
}

// timeFrame maps an exchange interval code onto an Alpaca time frame.
func timeFrame(interval string) (marketdata.TimeFrame, error) {
	switch interval {
	case "1m":
		return marketdata.NewTimeFrame(1, marketdata.Min), nil
	case "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "30m":
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case "1h":
		return marketdata.NewTimeFrame(1, marketdata.Hour), nil
	case "2h":
		return marketdata.NewTimeFrame(2, marketdata.Hour), nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "6h":
		return marketdata.NewTimeFrame(6, marketdata.Hour), nil
	case "12h":
		return marketdata.NewTimeFrame(12, marketdata.Hour), nil
	case "1d":
		return marketdata.OneDay, nil
	case "1w":
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("interval %q has no alpaca time frame", interval)
}
