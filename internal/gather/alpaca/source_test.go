package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"emagrid/internal/gather"
	"emagrid/internal/util"
)

func TestSourceName(t *testing.T) {
	s := NewSource("key", "secret", "https://data.alpaca.markets")
	if got := s.Name(); got != "alpaca" {
		t.Errorf("Source.Name() = %q, want %q", got, "alpaca")
	}
}

func TestTimeFrame(t *testing.T) {
	tests := []struct {
		interval string
		want     marketdata.TimeFrame
	}{
		{"1h", marketdata.NewTimeFrame(1, marketdata.Hour)},
		{"4h", marketdata.NewTimeFrame(4, marketdata.Hour)},
		{"15m", marketdata.NewTimeFrame(15, marketdata.Min)},
		{"1d", marketdata.OneDay},
	}
	for _, tt := range tests {
		got, err := timeFrame(tt.interval)
		if err != nil {
			t.Errorf("timeFrame(%q) error: %v", tt.interval, err)
			continue
		}
		if got != tt.want {
			t.Errorf("timeFrame(%q) = %v, want %v", tt.interval, got, tt.want)
		}
	}
	if _, err := timeFrame("3d"); err == nil {
		t.Error("timeFrame(3d) should fail")
	}
}

func TestFetchCandlesUnsupportedInterval(t *testing.T) {
	s := NewSource("key", "secret", "http://127.0.0.1:1")
	_, err := s.FetchCandles(context.Background(), "BTC/USD", "7h", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, gather.ErrPermanent) || !util.IsPermanent(err) {
		t.Errorf("FetchCandles = %v, want permanent error", err)
	}
}
