package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Callback outcomes recorded by ObserveCallback.
const (
	OutcomePaid      = "paid"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	// OutcomeSuperseded is a verified payment whose registration moved on to another attempt.
	OutcomeSuperseded = "superseded"
)

// Metrics holds the Prometheus collectors for registrations and payments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RegistrationsCreated  prometheus.Counter
	RegistrationConflicts *prometheus.CounterVec
	PaymentRequests       *prometheus.CounterVec
	Callbacks             *prometheus.CounterVec
	GatewayDuration       *prometheus.HistogramVec
	HTTPRequests          *prometheus.CounterVec
	HTTPDuration          *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RegistrationsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "etekaf_registrations_created_total",
			Help: "Total number of registrations created",
		}),
		RegistrationConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etekaf_registration_conflicts_total",
			Help: "Registrations rejected by a uniqueness constraint",
		}, []string{"field"}),
		PaymentRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etekaf_payment_requests_total",
			Help: "Payment requests sent to the gateway by result",
		}, []string{"result"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "etekaf_payment_callbacks_total",
			Help: "Gateway callbacks handled by outcome",
		}, []string{"outcome"}),
		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etekaf_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"operation"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// IncRegistrationCreated records a successful registration.
func (m *Metrics) IncRegistrationCreated() {
	if m == nil {
		return
	}
	m.RegistrationsCreated.Inc()
}

// IncRegistrationConflict records a duplicate national code or mobile.
func (m *Metrics) IncRegistrationConflict(field string) {
	if m == nil {
		return
	}
	m.RegistrationConflicts.WithLabelValues(field).Inc()
}

// IncPaymentRequest records a gateway payment request by result ("ok" or "error").
func (m *Metrics) IncPaymentRequest(result string) {
	if m == nil {
		return
	}
	m.PaymentRequests.WithLabelValues(result).Inc()
}

// ObserveCallback records a callback outcome.
func (m *Metrics) ObserveCallback(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// ObserveGateway records a gateway call duration. Call with time.Now() taken before the call.
func (m *Metrics) ObserveGateway(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.GatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
