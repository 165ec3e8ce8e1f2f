// Package binance fetches spot klines from the Binance public REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"emagrid/internal/domain"
	"emagrid/internal/gather"
	"emagrid/internal/util"
)

const (
	// DefaultBaseURL is the production spot API.
	DefaultBaseURL = "https://api.binance.com"

	klinesPath = "/api/v3/klines"
	pageLimit  = 1000

	// Request weight for klines is 2 against a 6000/min budget; 10/s leaves
	// plenty of headroom for other clients on the same IP.
	defaultRatePerSec = 10
)

var _ gather.Source = (*Client)(nil)

// Client is a rate-limited klines client.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a Client for baseURL. An empty baseURL selects
// DefaultBaseURL; ratePerSec <= 0 selects the default request rate.
func NewClient(baseURL string, ratePerSec float64) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		log:     slog.Default().With("source", "binance"),
	}
}

// Name implements gather.Source.
func (c *Client) Name() string { return "binance" }

// FetchCandles implements gather.Source. A window wider than one page is
// walked forward from the last returned open time.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time) (domain.Series, error) {
	step, err := gather.IntervalDuration(interval)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("%w: %v", gather.ErrPermanent, err))
	}

	var out domain.Series
	cursor := start
	for !cursor.After(end) {
		rows, err := c.fetchPage(ctx, symbol, interval, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		var last int64
		for i, r := range rows {
			cdl, err := klineRowToCandle(r)
			if err != nil {
				return nil, fmt.Errorf("kline %d for %s: %w", i, symbol, err)
			}
			out = append(out, cdl)
			last = cdl.Timestamp
		}
		if len(rows) < pageLimit {
			break
		}
		cursor = time.Unix(last, 0).Add(step)
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol, interval string, start, end time.Time) ([][]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+klinesPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("%w: building request: %v", gather.ErrPermanent, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		c.log.Warn("rate limited by API", "symbol", symbol, "status", resp.StatusCode,
			"retry_after", resp.Header.Get("Retry-After"))
		return nil, fmt.Errorf("binance rate limited: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("binance server error: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(resp.Body)
		return nil, util.Permanent(fmt.Errorf("%w: %s: status %d: %s",
			gather.ErrPermanent, symbol, resp.StatusCode, apiMessage(b)))
	}

	var raw [][]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return raw, nil
}

// apiError is the body Binance returns on 4xx, e.g. {"code":-1121,"msg":"Invalid symbol."}.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func apiMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Msg != "" {
		return fmt.Sprintf("code %d: %s", e.Code, e.Msg)
	}
	return strings.TrimSpace(string(body))
}

// klineRowToCandle decodes [openTime, open, high, low, close, volume, ...].
// Prices arrive as strings; open time is milliseconds.
func klineRowToCandle(r []any) (domain.Candle, error) {
	if len(r) < 6 {
		return domain.Candle{}, fmt.Errorf("short row: %d fields", len(r))
	}
	ot, err := anyToInt64(r[0])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var v [5]float64
	for i := range v {
		if v[i], err = anyToFloat(r[i+1]); err != nil {
			return domain.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return domain.Candle{
		Timestamp: ot / 1000,
		Open:      v[0],
		High:      v[1],
		Low:       v[2],
		Close:     v[3],
		Volume:    v[4],
	}, nil
}

func anyToInt64(x any) (int64, error) {
	switch t := x.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	case json.Number:
		return t.Int64()
	default:
		return 0, fmt.Errorf("unexpected type %T", x)
	}
}

func anyToFloat(x any) (float64, error) {
	switch t := x.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("unexpected type %T", x)
	}
}
