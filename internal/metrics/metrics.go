// Package metrics exposes pipeline instrumentation to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"codeberg.org/mutker/hwsentry/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "hwsentry"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	AnomaliesTotal    *prometheus.CounterVec
	IssuesTotal       *prometheus.CounterVec
	TrainingRunsTotal *prometheus.CounterVec
	ModelLoaded       prometheus.Gauge
	AnomalyScore      prometheus.Gauge
	CPUTemperature    prometheus.Gauge
}

// New creates the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Pipeline ticks by result",
			},
			[]string{"result"},
		),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of pipeline ticks",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_total",
				Help:      "Anomalous samples by the signal that flagged them",
			},
			[]string{"signal"},
		),
		IssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "issues_total",
				Help:      "Hardware issues created or refreshed",
			},
			[]string{"type", "action"},
		),
		TrainingRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "training_runs_total",
				Help:      "Model trainings by result",
			},
			[]string{"result"},
		),
		ModelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "1 when an anomaly model is loaded",
		}),
		AnomalyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_score",
			Help:      "Decision function value of the last scored sample",
		}),
		CPUTemperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_temperature_celsius",
			Help:      "CPU temperature of the last sample",
		}),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.AnomaliesTotal,
		m.IssuesTotal,
		m.TrainingRunsTotal,
		m.ModelLoaded,
		m.AnomalyScore,
		m.CPUTemperature,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) ObserveTick(result string, d time.Duration) {
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordAnomaly(signal string) {
	m.AnomaliesTotal.WithLabelValues(signal).Inc()
}

func (m *Metrics) RecordIssue(issueType, action string) {
	m.IssuesTotal.WithLabelValues(issueType, action).Inc()
}

func (m *Metrics) RecordTraining(result string) {
	m.TrainingRunsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
	} else {
		m.ModelLoaded.Set(0)
	}
}

func (m *Metrics) SetAnomalyScore(score float64) {
	m.AnomalyScore.Set(score)
}

func (m *Metrics) SetCPUTemperature(celsius float64) {
	m.CPUTemperature.Set(celsius)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Serving Prometheus metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
