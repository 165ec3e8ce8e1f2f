package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emagrid/internal/domain"
)

// Metrics holds the optimizer and harvester collectors on a private
// registry.
type Metrics struct {
	reg *prometheus.Registry

	Backtests      *prometheus.CounterVec
	BestScore      prometheus.Gauge
	SearchSeconds  prometheus.Gauge
	HarvestCandles *prometheus.CounterVec
	HarvestErrors  *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Backtests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emagrid_backtests_total",
				Help: "Simulated parameter pairs by feasibility verdict",
			},
			[]string{"verdict"},
		),
		BestScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "emagrid_best_score",
			Help: "Score of the best feasible pair of the last finished search",
		}),
		SearchSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "emagrid_search_duration_seconds",
			Help: "Wall-clock duration of the last finished search",
		}),
		HarvestCandles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emagrid_harvest_candles_total",
				Help: "Candles fetched per symbol",
			},
			[]string{"symbol"},
		),
		HarvestErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emagrid_harvest_errors_total",
				Help: "Failed symbol harvests",
			},
			[]string{"symbol"},
		),
	}
}

// ObserveResult counts one simulated pair. It matches search.Config.OnResult.
func (m *Metrics) ObserveResult(r *domain.BacktestResult) {
	m.Backtests.WithLabelValues(r.Feasibility.String()).Inc()
}

// ObserveSearch records a finished search. best may be nil.
func (m *Metrics) ObserveSearch(best *domain.BacktestResult, elapsed time.Duration) {
	m.SearchSeconds.Set(elapsed.Seconds())
	if best != nil {
		m.BestScore.Set(best.Score)
	}
}

// ObserveHarvest records the outcome of one symbol download.
func (m *Metrics) ObserveHarvest(symbol string, fetched int, err error) {
	if err != nil {
		m.HarvestErrors.WithLabelValues(symbol).Inc()
		return
	}
	m.HarvestCandles.WithLabelValues(symbol).Add(float64(fetched))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
