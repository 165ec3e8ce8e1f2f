package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emagrid/internal/gather"
	"emagrid/internal/util"
)

func klineJSON(openMs int64, close float64) string {
	return fmt.Sprintf(`[%d,"1.0","2.0","0.5","%g","10.5",%d,"0",1,"0","0","0"]`,
		openMs, close, openMs+3599999)
}

func TestFetchCandles(t *testing.T) {
	var got http.Header
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, klinesPath, r.URL.Path)
		got = r.Header
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		fmt.Fprintf(w, "[%s,%s]", klineJSON(1_600_000_000_000, 101.5), klineJSON(1_600_003_600_000, 102))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1000)
	start := time.UnixMilli(1_600_000_000_000)
	series, err := c.FetchCandles(context.Background(), "btcusdt", "1h", start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, int64(1_600_000_000), series[0].Timestamp)
	assert.Equal(t, 101.5, series[0].Close)
	assert.Equal(t, 2.0, series[0].High)
	assert.Equal(t, 10.5, series[1].Volume)

	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "BTCUSDT", query["symbol"])
	assert.Equal(t, "1h", query["interval"])
	assert.Equal(t, "1000", query["limit"])
	assert.Equal(t, strconv.FormatInt(start.UnixMilli(), 10), query["startTime"])
}

func TestFetchCandlesPaginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		from, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
		w.Write([]byte("["))
		n := 0
		for ts := from; ts <= to && n < pageLimit; ts += 3_600_000 {
			if n > 0 {
				w.Write([]byte(","))
			}
			w.Write([]byte(klineJSON(ts, 1)))
			n++
		}
		w.Write([]byte("]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1000)
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1499 * time.Hour)
	series, err := c.FetchCandles(context.Background(), "ETHUSDT", "1h", start, end)
	require.NoError(t, err)
	assert.Len(t, series, 1500)
	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, series.Validate())
}

func TestFetchCandlesErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"invalid symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, true},
		{"rate limited", http.StatusTooManyRequests, `{}`, false},
		{"server error", http.StatusBadGateway, `oops`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, 1000)
			_, err := c.FetchCandles(context.Background(), "NOPE", "1h", time.Now().Add(-time.Hour), time.Now())
			require.Error(t, err)
			assert.Equal(t, tt.permanent, util.IsPermanent(err))
			assert.Equal(t, tt.permanent, errors.Is(err, gather.ErrPermanent))
			if tt.permanent {
				assert.Contains(t, err.Error(), "Invalid symbol.")
			}
		})
	}
}

func TestFetchCandlesBadInterval(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 1000)
	_, err := c.FetchCandles(context.Background(), "BTCUSDT", "7h", time.Now(), time.Now())
	assert.ErrorIs(t, err, gather.ErrPermanent)
}

func TestKlineRowToCandle(t *testing.T) {
	_, err := klineRowToCandle([]any{float64(1), "2"})
	assert.Error(t, err)

	_, err = klineRowToCandle([]any{float64(1), "x", "1", "1", "1", "1"})
	assert.Error(t, err)

	c, err := klineRowToCandle([]any{float64(1_500_000_000_000), 1.0, "2", "0.5", "1.5", "3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000), c.Timestamp)
	assert.Equal(t, 1.5, c.Close)
}

func TestName(t *testing.T) {
	assert.Equal(t, "binance", NewClient("", 0).Name())
}
