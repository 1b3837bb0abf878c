// Package metrics - prometheus-счётчики бота. Все методы безопасны для nil *Metrics,
// поэтому компоненты в тестах можно собирать без метрик.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "plantdoc"

type Metrics struct {
	diagnoses     *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	modelAttempts *prometheus.CounterVec
	rateLimited   prometheus.Counter
	imageRejected *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New регистрирует коллекторы в reg. nil - глобальный регистр.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		diagnoses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "diagnoses_total",
			Help: "Diagnosis requests by final outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total",
			Help: "Result cache lookups by result.",
		}, []string{"result"}),
		modelAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "model_attempts_total",
			Help: "Vision model calls by model and outcome.",
		}, []string{"model", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_total",
			Help: "Requests rejected by the hourly limit.",
		}),
		imageRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "image_rejected_total",
			Help: "Images rejected at intake by reason.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "diagnosis_duration_seconds",
			Help:    "End-to-end orchestration latency.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.diagnoses, m.cacheLookups, m.modelAttempts, m.rateLimited, m.imageRejected, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Diagnosis: outcome = cache_hit | success | exhausted | rate_limited | canceled.
func (m *Metrics) Diagnosis(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.diagnoses.WithLabelValues(outcome).Inc()
	m.latency.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ModelAttempt(model, outcome string) {
	if m == nil {
		return
	}
	m.modelAttempts.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) ImageRejected(kind string) {
	if m == nil {
		return
	}
	m.imageRejected.WithLabelValues(kind).Inc()
}
