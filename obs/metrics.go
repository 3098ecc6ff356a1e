package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tariff_runs_total",
		Help: "Reconciliation runs by final status",
	}, []string{"status"})
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tariff_run_duration_seconds",
		Help:    "Reconciliation run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	CaveatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tariff_caveats_total",
		Help: "Caveats emitted by completed runs, by kind",
	}, []string{"kind"})
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tariff_operation_duration_ms",
		Help:    "Timed operation duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"op"})
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tariff_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(CaveatsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(RequestsTotal)
}

func Handler() http.Handler { return promhttp.Handler() }
