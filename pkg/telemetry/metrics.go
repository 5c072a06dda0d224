package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the governor.
type Metrics struct {
	config MetricsConfig

	// Decision metrics
	decisions        *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	denials          *prometheus.CounterVec

	// Approval metrics
	approvalsRequested *prometheus.CounterVec
	approvalsDecided   *prometheus.CounterVec
	pendingApprovals   prometheus.Gauge

	// Runtime metrics
	runtimeStops *prometheus.CounterVec

	// Guardrail metrics
	guardrailViolations *prometheus.CounterVec
	guardrailRules      prometheus.Gauge

	// Collaborator metrics
	collaboratorErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of policy decisions",
			},
			[]string{"action_type", "outcome", "risk"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Duration of policy validation in seconds",
				Buckets:   buckets,
			},
			[]string{"action_type"},
		),
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "denials_total",
				Help:      "Total number of denied actions by error code",
			},
			[]string{"code"},
		),

		approvalsRequested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_requested_total",
				Help:      "Total number of approval requests created",
			},
			[]string{"action_type"},
		),
		approvalsDecided: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_decided_total",
				Help:      "Total number of approval requests reaching a terminal status",
			},
			[]string{"status"},
		),
		pendingApprovals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_approvals",
				Help:      "Current number of pending approval requests",
			},
		),

		runtimeStops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runtime_stops_total",
				Help:      "Total number of runtime limit checks that required a stop",
			},
			[]string{"limit"},
		),

		guardrailViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guardrail_violations_total",
				Help:      "Total number of guardrail findings",
			},
			[]string{"rule", "blocking"},
		),
		guardrailRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "guardrail_rules",
				Help:      "Current number of loaded guardrail rules",
			},
		),

		collaboratorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collaborator_errors_total",
				Help:      "Total number of failed calls to external collaborators",
			},
			[]string{"collaborator"},
		),
	}

	registry.MustRegister(
		m.decisions,
		m.decisionDuration,
		m.denials,
		m.approvalsRequested,
		m.approvalsDecided,
		m.pendingApprovals,
		m.runtimeStops,
		m.guardrailViolations,
		m.guardrailRules,
		m.collaboratorErrors,
	)

	return m, nil
}

// Decision Metrics

// RecordDecision records one policy decision and how long it took.
func (m *Metrics) RecordDecision(actionType, outcome, risk string, duration time.Duration) {
	if m.decisions == nil {
		return
	}
	m.decisions.WithLabelValues(actionType, outcome, risk).Inc()
	m.decisionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordDenial records a denial by error code.
func (m *Metrics) RecordDenial(code string) {
	if m.denials == nil {
		return
	}
	m.denials.WithLabelValues(code).Inc()
}

// Approval Metrics

// RecordApprovalRequested records a new approval request.
func (m *Metrics) RecordApprovalRequested(actionType string) {
	if m.approvalsRequested == nil {
		return
	}
	m.approvalsRequested.WithLabelValues(actionType).Inc()
}

// RecordApprovalDecided records an approval reaching a terminal status.
func (m *Metrics) RecordApprovalDecided(status string) {
	if m.approvalsDecided == nil {
		return
	}
	m.approvalsDecided.WithLabelValues(status).Inc()
}

// SetPendingApprovals sets the current number of pending approvals.
func (m *Metrics) SetPendingApprovals(count float64) {
	if m.pendingApprovals == nil {
		return
	}
	m.pendingApprovals.Set(count)
}

// RecordRuntimeStop records a runtime limit check that told the agent to stop.
func (m *Metrics) RecordRuntimeStop(limit string) {
	if m.runtimeStops == nil {
		return
	}
	m.runtimeStops.WithLabelValues(limit).Inc()
}

// Guardrail Metrics

// RecordGuardrailViolation records one guardrail finding.
func (m *Metrics) RecordGuardrailViolation(rule string, blocking bool) {
	if m.guardrailViolations == nil {
		return
	}
	label := "false"
	if blocking {
		label = "true"
	}
	m.guardrailViolations.WithLabelValues(rule, label).Inc()
}

// SetGuardrailRules sets the number of loaded guardrail rules.
func (m *Metrics) SetGuardrailRules(count float64) {
	if m.guardrailRules == nil {
		return
	}
	m.guardrailRules.Set(count)
}

// RecordCollaboratorError records a failed call to a site, subscription,
// approval or audit collaborator.
func (m *Metrics) RecordCollaboratorError(collaborator string) {
	if m.collaboratorErrors == nil {
		return
	}
	m.collaboratorErrors.WithLabelValues(collaborator).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewMetricsServer returns an HTTP server exposing metrics on the configured
// listen address, or nil when metrics are disabled or have no address.
func (m *Metrics) NewMetricsServer() *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
