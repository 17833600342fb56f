package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// LicenseMetrics records counters for the licensing request paths.
type LicenseMetrics struct {
	issued      prometheus.Counter
	validations *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
}

// NewLicenseMetrics registers the licensing metrics on the provided registerer.
func NewLicenseMetrics(reg prometheus.Registerer) *LicenseMetrics {
	if reg == nil {
		return &LicenseMetrics{}
	}
	issued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "license_tokens_issued_total",
		Help: "License tokens issued.",
	})
	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_validations_total",
		Help: "License validation calls by outcome.",
	}, []string{"outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Stripe webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(issued, validations, webhooks)
	return &LicenseMetrics{
		issued:      issued,
		validations: validations,
		webhooks:    webhooks,
	}
}

// IncIssued counts one issued token.
func (m *LicenseMetrics) IncIssued() {
	if m == nil || m.issued == nil {
		return
	}
	m.issued.Inc()
}

// IncValidation counts one validation with the given outcome label.
func (m *LicenseMetrics) IncValidation(outcome string) {
	if m == nil || m.validations == nil {
		return
	}
	m.validations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncWebhook counts one webhook event by type and outcome.
func (m *LicenseMetrics) IncWebhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return strings.ReplaceAll(trimmed, ".", "_")
}
