package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IssuerOp("refresh", "ok")
	m.IssuerOp("refresh", "ok")
	m.IssuerOp("refresh", "invalid_refresh_token")
	m.PhaseTransition("authenticated", "refreshing")
	m.RefreshOutcome("degraded")
	m.HTTPRequest("/auth/login", "POST", 200, 15*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.issuerOps.WithLabelValues("refresh", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.issuerOps.WithLabelValues("refresh", "invalid_refresh_token")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionChanges.WithLabelValues("authenticated", "refreshing")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refreshAttempts.WithLabelValues("degraded")))
	require.Equal(t, 1, testutil.CollectAndCount(m.httpDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.IssuerOp("issue", "ok")
		m.HTTPRequest("/", "GET", 200, time.Second)
		m.PhaseTransition("guest", "authenticating")
		m.RefreshOutcome("ok")
	})
}
