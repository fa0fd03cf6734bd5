package metrics

import "time"

// PAMMetrics provides observability for the PAM socket adapter.
// A nil PAMMetrics disables collection with zero overhead.
type PAMMetrics interface {
	// RecordRequest records a completed protocol request with its
	// operation label (authc, authz, sess_o, sess_c, pwmod), outcome
	// label (ok, aborted) and duration.
	RecordRequest(operation, outcome string, duration time.Duration)

	// RecordConnectionAccepted counts an accepted client connection.
	RecordConnectionAccepted()

	// RecordConnectionClosed counts a closed client connection.
	RecordConnectionClosed()

	// SetActiveConnections sets the current connection gauge.
	SetActiveConnections(count int32)
}

// ObserveRequest records a request on m when metrics are enabled.
func ObserveRequest(m PAMMetrics, operation, outcome string, duration time.Duration) {
	if m != nil {
		m.RecordRequest(operation, outcome, duration)
	}
}
