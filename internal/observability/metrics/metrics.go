package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	ServiceName string
	Environment string
}

// Metrics carries the onboarding and activation signals.
type Metrics struct {
	provisioning     *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	externalCalls    *prometheus.HistogramVec
	invites          *prometheus.CounterVec
	reconcileActions *prometheus.CounterVec
	reconcileRuns    *prometheus.CounterVec
}

// New registers the collectors on registerer (the default registry when nil).
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "clubhouse"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "clubhouse_provisioning_total",
			Help:        "Organization provisioning attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "clubhouse_webhook_events_total",
			Help:        "Payment webhook deliveries by event type and outcome.",
			ConstLabels: constLabels,
		}, []string{"event_type", "outcome"}),
		externalCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "clubhouse_external_call_duration_seconds",
			Help:        "Latency of calls to the payment gateway and identity system.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"operation", "result"}),
		invites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "clubhouse_admin_invites_total",
			Help:        "Administrator invitations by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		reconcileActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "clubhouse_reconcile_actions_total",
			Help:        "Reconciliation sweep actions by kind and result.",
			ConstLabels: constLabels,
		}, []string{"action", "result"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "clubhouse_reconcile_runs_total",
			Help:        "Reconciliation sweep runs by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
	}

	registerer.MustRegister(
		m.provisioning,
		m.webhookEvents,
		m.externalCalls,
		m.invites,
		m.reconcileActions,
		m.reconcileRuns,
	)
	return m
}

// NewNop returns metrics bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry(), Config{ServiceName: "clubhouse", Environment: "test"})
}

func (m *Metrics) IncProvisioning(outcome string) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(eventType) == "" {
		eventType = "unknown"
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// ObserveExternalCall records the latency of an outbound call started at start.
func (m *Metrics) ObserveExternalCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.externalCalls.WithLabelValues(operation, resultLabel(err)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncInvite(result string) {
	if m == nil {
		return
	}
	m.invites.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReconcileAction(action string, err error) {
	if m == nil {
		return
	}
	m.reconcileActions.WithLabelValues(action, resultLabel(err)).Inc()
}

func (m *Metrics) IncReconcileRun(result string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
