package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncRegistrationCreated()
	m.IncRegistrationCreated()
	m.IncRegistrationConflict("mobile")
	m.IncPaymentRequest("ok")
	m.ObserveCallback(OutcomePaid)
	m.ObserveCallback(OutcomeDuplicate)
	m.ObserveCallback(OutcomeDuplicate)
	m.ObserveGateway("verify", time.Now().Add(-300*time.Millisecond))
	m.ObserveHTTP("/payments/verify", "GET", "302", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RegistrationsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistrationConflicts.WithLabelValues("mobile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentRequests.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Callbacks.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/payments/verify", "GET", "302")))

	n, err := testutil.GatherAndCount(reg, "etekaf_payment_callbacks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRegistrationCreated()
		m.IncRegistrationConflict("national_code")
		m.IncPaymentRequest("error")
		m.ObserveCallback(OutcomeFailed)
		m.ObserveGateway("request", time.Now())
		m.ObserveHTTP("unmatched", "GET", "404", time.Millisecond)
	})
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
