// internal/pkg/metrics/fraud.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraud"

// FraudMetrics 汇总了结账风控相关的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未开启指标时可以直接传 nil。
type FraudMetrics struct {
	assessments          *prometheus.CounterVec
	signals              *prometheus.CounterVec
	collaboratorFailures *prometheus.CounterVec
	latency              prometheus.Histogram
}

// NewFraudMetrics 在给定的 Registerer 上注册指标；传 prometheus.DefaultRegisterer 即暴露到 /metrics。
func NewFraudMetrics(reg prometheus.Registerer) *FraudMetrics {
	f := promauto.With(reg)
	return &FraudMetrics{
		assessments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Checkout assessments by outcome (allowed, rejected).",
		}, []string{"outcome"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Fraud signals raised by kind.",
		}, []string{"kind"}),
		collaboratorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Failed lookups against external collaborators; the check failed open.",
		}, []string{"component"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "End-to-end latency of a checkout assessment.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}
}

func (m *FraudMetrics) ObserveAssessment(allowed bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	m.assessments.WithLabelValues(outcome).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *FraudMetrics) IncSignal(kind string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(kind).Inc()
}

func (m *FraudMetrics) IncCollaboratorFailure(component string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(component).Inc()
}
