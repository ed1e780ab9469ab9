package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: промпты, учтенные дашбордом
	PromptsScanned prometheus.Counter
	PromptsBlocked prometheus.Counter

	// Прогоны секвенсора по источнику и итогу (SAFE, BLOCKED, FAILED)
	Runs *prometheus.CounterVec

	// Backpressure: прогоны из ленты, отброшенные из-за занятого секвенсора
	RunsDropped prometheus.Counter

	// Длительность прогона, включая косметические паузы
	RunDuration *prometheus.HistogramVec

	// Errors: неудачные тики опроса
	PollErrors prometheus.Counter

	// Последние оценки слоев NCD и LDF
	LayerScore *prometheus.GaugeVec

	// Saturation: состояние предохранителя ленты (0 - closed, 1 - half-open, 2 - open)
	BreakerState prometheus.Gauge

	// Прогоны всех экземпляров дашборда, полученные из Redis
	FleetRuns *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PromptsScanned: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dashboard_prompts_scanned_total",
			Help: "Total number of prompts accounted by the dashboard.",
		}),

		PromptsBlocked: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dashboard_prompts_blocked_total",
			Help: "Total number of blocked prompts accounted by the dashboard.",
		}),

		Runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_runs_total",
			Help: "Sequencer runs by source and terminal result.",
		}, []string{"source", "result"}),

		RunsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dashboard_runs_dropped_total",
			Help: "Feed-triggered runs dropped because another run was in flight.",
		}),

		RunDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dashboard_run_duration_seconds",
			Help:    "Histogram of sequencer run durations.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"source"}),

		PollErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dashboard_poll_errors_total",
			Help: "Total number of failed feed polls.",
		}),

		LayerScore: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dashboard_layer_score",
			Help: "Last reported score of a detection layer.",
		}, []string{"layer"}),

		BreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_gateway_breaker_state",
			Help: "State of the gateway feed circuit breaker (0=closed, 1=half-open, 2=open).",
		}),

		FleetRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_fleet_runs_total",
			Help: "Run outcomes published by all dashboard instances.",
		}, []string{"source", "result"}),
	}
}
