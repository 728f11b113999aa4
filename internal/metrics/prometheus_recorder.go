package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "nbuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	reg                *prom.Registry
	stageDuration      *prom.HistogramVec
	buildDuration      prom.Histogram
	unitResults        *prom.CounterVec
	dependencyOutcomes *prom.CounterVec
	buildOutcome       *prom.CounterVec
	workers            prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}

	pr := &PrometheusRecorder{reg: reg}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		})
		pr.unitResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "unit_results_total",
			Help:      "Translation unit outcomes",
		}, []string{"result"})
		pr.dependencyOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_outcomes_total",
			Help:      "Dependency resolution outcomes",
		}, []string{"dependency", "outcome"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.workers = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "compile_workers",
			Help:      "Compile worker pool size of the last build",
		})
		reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.unitResults, pr.dependencyOutcomes, pr.buildOutcome, pr.workers)
	})

	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUnitResult(result UnitResult) {
	if p == nil || p.unitResults == nil {
		return
	}
	p.unitResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncDependencyOutcome(name, outcome string) {
	if p == nil || p.dependencyOutcomes == nil {
		return
	}
	p.dependencyOutcomes.WithLabelValues(name, outcome).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetWorkers(n int) {
	if p == nil || p.workers == nil {
		return
	}
	p.workers.Set(float64(n))
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text exposition format.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	if err := prom.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}

	return nil
}
