// metrics — счётчики и гистограммы Prometheus для выдачи токенов,
// HTTP-слоя и клиентской сессии. Все методы безопасны для nil-приёмника,
// поэтому компоненты работают и без метрик.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth_session"

// Metrics — набор коллекторов одного процесса.
type Metrics struct {
	issuerOps       *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	sessionChanges  *prometheus.CounterVec
	refreshAttempts *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issuerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuer",
			Name:      "operations_total",
			Help:      "Token issuer operations by result.",
		}, []string{"op", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "phase_transitions_total",
			Help:      "Client session phase transitions.",
		}, []string{"from", "to"}),
		refreshAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "refresh_total",
			Help:      "Client refresh round trips by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.issuerOps, m.httpDuration, m.sessionChanges, m.refreshAttempts)

	return m
}

// IssuerOp учитывает операцию выдачи токенов.
func (m *Metrics) IssuerOp(op, result string) {
	if m == nil {
		return
	}

	m.issuerOps.WithLabelValues(op, result).Inc()
}

// HTTPRequest учитывает длительность HTTP-запроса.
func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}

	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// PhaseTransition учитывает смену фазы клиентской сессии.
func (m *Metrics) PhaseTransition(from, to string) {
	if m == nil {
		return
	}

	m.sessionChanges.WithLabelValues(from, to).Inc()
}

// RefreshOutcome учитывает результат обновления токенов клиентом.
func (m *Metrics) RefreshOutcome(outcome string) {
	if m == nil {
		return
	}

	m.refreshAttempts.WithLabelValues(outcome).Inc()
}
