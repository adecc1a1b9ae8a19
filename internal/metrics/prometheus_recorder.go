package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once         sync.Once
	stepDuration *prom.HistogramVec
	stepOutcomes *prom.CounterVec
	stepFailures *prom.CounterVec
	stepRetries  *prom.CounterVec
	backlog      *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "prismq",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual dispatcher steps",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.stepOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "prismq",
			Name:      "step_outcomes_total",
			Help:      "Step outcomes by stage (advanced, nowork)",
		}, []string{"stage", "outcome"})
		pr.stepFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "prismq",
			Name:      "step_failures_total",
			Help:      "Step failures by stage and error kind",
		}, []string{"stage", "kind"})
		pr.stepRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "prismq",
			Name:      "step_retries_total",
			Help:      "Transient step failures that were retried",
		}, []string{"stage"})
		pr.backlog = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "prismq",
			Name:      "stage_backlog",
			Help:      "Stories currently waiting in each stage",
		}, []string{"stage"})
		reg.MustRegister(pr.stepDuration, pr.stepOutcomes, pr.stepFailures, pr.stepRetries, pr.backlog)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(stage string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepAdvanced(stage string) {
	if p == nil || p.stepOutcomes == nil {
		return
	}
	p.stepOutcomes.WithLabelValues(stage, "advanced").Inc()
}

func (p *PrometheusRecorder) IncStepNoWork(stage string) {
	if p == nil || p.stepOutcomes == nil {
		return
	}
	p.stepOutcomes.WithLabelValues(stage, "nowork").Inc()
}

func (p *PrometheusRecorder) IncStepFailed(stage string, kind string) {
	if p == nil || p.stepFailures == nil {
		return
	}
	p.stepFailures.WithLabelValues(stage, kind).Inc()
}

func (p *PrometheusRecorder) IncStepRetry(stage string) {
	if p == nil || p.stepRetries == nil {
		return
	}
	p.stepRetries.WithLabelValues(stage).Inc()
}

func (p *PrometheusRecorder) SetBacklog(stage string, n int) {
	if p == nil || p.backlog == nil {
		return
	}
	p.backlog.WithLabelValues(stage).Set(float64(n))
}
