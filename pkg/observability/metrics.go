package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/canopy/pkg/domain"
)

// Metrics holds the collectors fed by Hooks.
type Metrics struct {
	Steps      *prometheus.CounterVec
	Dispatches *prometheus.HistogramVec
	Warnings   *prometheus.CounterVec
	Commands   *prometheus.CounterVec
	Suspended  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "steps_total",
			Help:      "Steps emitted, by yield reason.",
		}, []string{"yield_reason"}),
		Dispatches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canopy",
			Name:      "dispatch_duration_seconds",
			Help:      "Executor latency per leaf dispatch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node", "primary", "outcome"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "policy_warnings_total",
			Help:      "Policy warnings, by code.",
		}, []string{"code"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canopy",
			Name:      "commands_total",
			Help:      "Commands run, by name and outcome.",
		}, []string{"command", "outcome"}),
		Suspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "canopy",
			Name:      "suspended_instances",
			Help:      "Instances currently suspended across machines.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Steps, m.Dispatches, m.Warnings, m.Commands, m.Suspended)
	}
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStep: func(_ context.Context, s *domain.Step) {
			m.Steps.WithLabelValues(string(s.YieldReason)).Inc()
		},
		OnDispatchDone: func(_ context.Context, e *domain.DispatchEvent) {
			primary := "false"
			if e.IsPrimary {
				primary = "true"
			}
			m.Dispatches.WithLabelValues(e.NodeID, primary, outcome(e.Err)).Observe(e.Duration.Seconds())
		},
		OnPolicyWarning: func(_ context.Context, w *domain.PolicyWarning) {
			m.Warnings.WithLabelValues(w.Code).Inc()
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			m.Commands.WithLabelValues(e.Command, outcome(e.Err)).Inc()
		},
		OnSuspend: func(context.Context, *domain.SuspendEvent) {
			m.Suspended.Inc()
		},
		OnResume: func(context.Context, *domain.SuspendEvent) {
			m.Suspended.Dec()
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
