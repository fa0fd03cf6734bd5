// Package prometheus implements the metrics interfaces on the shared
// Prometheus registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/salahcoronya/nss-pam-ldapd/pkg/metrics"
)

// pamMetrics is the Prometheus implementation of metrics.PAMMetrics.
type pamMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeConnections   prometheus.Gauge
}

// NewPAMMetrics creates a Prometheus-backed PAMMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPAMMetrics() metrics.PAMMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &pamMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nslcd_pam_requests_total",
				Help: "Total number of PAM protocol requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "nslcd_pam_request_duration_milliseconds",
				Help: "Duration of PAM protocol requests in milliseconds",
				Buckets: []float64{
					1,    // 1ms - session stubs, local validation failures
					5,    // 5ms
					10,   // 10ms - LAN directory round-trip
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms - slow directory
					1000, // 1s
					5000, // 5s - directory timeout territory
				},
			},
			[]string{"operation"},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nslcd_connections_accepted_total",
				Help: "Total number of accepted client connections",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "nslcd_connections_closed_total",
				Help: "Total number of closed client connections",
			},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "nslcd_active_connections",
				Help: "Current number of active client connections",
			},
		),
	}
}

func (m *pamMetrics) RecordRequest(operation, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func (m *pamMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *pamMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *pamMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}
