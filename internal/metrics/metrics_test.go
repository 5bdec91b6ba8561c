package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.Order("ok")
	m.Order("ok")
	m.Order("insufficient_funds")
	m.Decision("approve", "already_decided")
	m.GatewayFailure("notify", 2)
	m.GatewayFailure("notify", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Orders.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("approve", "already_decided")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GatewayFailures.WithLabelValues("notify")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("command", "ok")
		m.Order("ok")
		m.DepositSubmitted()
		m.ReferralGranted()
		m.BroadcastSent(3)
	})
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.DepositSubmitted()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "smmpanel_moderation_deposits_submitted_total 1")
}
