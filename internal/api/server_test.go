package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"emagrid/internal/config"
	"emagrid/internal/domain"
)

func checkStatus(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthLifecycle(t *testing.T) {
	s := NewServer(config.Server{}, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, s, SearchService))

	s.SetSearchDone(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, s, SearchService))

	s.SetSearchDone(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, s, SearchService))
}

func TestStartDisabled(t *testing.T) {
	s := NewServer(config.Server{}, NewMetrics())
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.GRPCAddr())
	assert.Empty(t, s.MetricsAddr())
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestLinger(t *testing.T) {
	s := NewServer(config.Server{Linger: time.Hour}, NewMetrics())
	require.NoError(t, s.Start(context.Background()))
	began := time.Now()
	s.Linger(context.Background())
	assert.Less(t, time.Since(began), time.Second, "no listener, no linger")

	s = NewServer(config.Server{MetricsAddr: "127.0.0.1:0", Linger: 50 * time.Millisecond}, NewMetrics())
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())
	s.SetSearchDone(true)

	began = time.Now()
	s.Linger(context.Background())
	assert.GreaterOrEqual(t, time.Since(began), 50*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, s, SearchService))

	s.linger = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	began = time.Now()
	s.Linger(ctx)
	assert.Less(t, time.Since(began), time.Second, "cancelled context ends the linger")
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	s := NewServer(config.Server{MetricsAddr: "127.0.0.1:0"}, m)
	require.NoError(t, s.Start(context.Background()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	m.ObserveResult(&domain.BacktestResult{Feasibility: domain.Feasible})
	m.ObserveResult(&domain.BacktestResult{Feasibility: domain.NoTrades})
	m.ObserveResult(&domain.BacktestResult{Feasibility: domain.NoTrades})
	m.ObserveSearch(&domain.BacktestResult{Score: 2.5}, 1500*time.Millisecond)

	resp, err := http.Get("http://" + s.MetricsAddr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `emagrid_backtests_total{verdict="no_trades"} 2`)
	assert.Contains(t, out, `emagrid_backtests_total{verdict="feasible"} 1`)
	assert.Contains(t, out, "emagrid_best_score 2.5")
	assert.Contains(t, out, "emagrid_search_duration_seconds 1.5")
}

func TestObserveHarvest(t *testing.T) {
	m := NewMetrics()
	m.ObserveHarvest("BTCUSDT", 900, nil)
	m.ObserveHarvest("BTCUSDT", 100, nil)
	m.ObserveHarvest("NOPE", 0, errors.New("invalid symbol"))

	assert.Equal(t, 1000.0, testutil.ToFloat64(m.HarvestCandles.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HarvestErrors.WithLabelValues("NOPE")))
}

func TestObserveSearchWithoutResult(t *testing.T) {
	m := NewMetrics()
	m.ObserveSearch(nil, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BestScore))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchSeconds))
}
