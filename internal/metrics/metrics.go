// Package metrics defines the Prometheus instrumentation surface for the
// server and bridge processes. The shape (a struct of vector metrics built
// once via promauto, with small RecordX convenience methods) follows the
// teacher's escrow.Metrics pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter, gauge and histogram the relay and BLE
// dispatcher record against. Construct exactly one per process with New
// and pass it down to whichever components need it.
type Metrics struct {
	ChallengesIssued   *prometheus.CounterVec
	SolveAttempts      *prometheus.CounterVec
	ActiveSessions     *prometheus.GaugeVec
	BusLagged          prometheus.Counter
	BLEOpenAttempts    prometheus.Counter
	BLEOpenSuccesses   prometheus.Counter
	BLEOpenFailures    *prometheus.CounterVec
	BLEOpenLatencySecs prometheus.Histogram
}

// New registers every metric against the default Prometheus registry and
// returns the populated Metrics struct.
func New() *Metrics {
	return &Metrics{
		ChallengesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "d3xs",
			Name:      "challenges_issued_total",
			Help:      "Number of challenges issued, by channel (user or door).",
		}, []string{"channel"}),

		SolveAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "d3xs",
			Name:      "solve_attempts_total",
			Help:      "Number of solve attempts, by channel and outcome.",
		}, []string{"channel", "outcome"}),

		ActiveSessions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "d3xs",
			Name:      "active_sessions",
			Help:      "Number of currently connected WebSocket sessions, by kind.",
		}, []string{"kind"}),

		BusLagged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "d3xs",
			Name:      "bus_lagged_total",
			Help:      "Number of broadcast messages dropped due to a full subscriber channel.",
		}),

		BLEOpenAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "d3xs",
			Name:      "ble_open_attempts_total",
			Help:      "Number of BLE door-open sessions started.",
		}),

		BLEOpenSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "d3xs",
			Name:      "ble_open_successes_total",
			Help:      "Number of BLE door-open sessions that completed successfully.",
		}),

		BLEOpenFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "d3xs",
			Name:      "ble_open_failures_total",
			Help:      "Number of BLE door-open sessions that failed, by reason.",
		}, []string{"reason"}),

		BLEOpenLatencySecs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "d3xs",
			Name:      "ble_open_latency_seconds",
			Help:      "Time spent in a BLE door-open session, successful or not.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RecordChallengeIssued increments ChallengesIssued for channel ("user" or
// "door").
func (m *Metrics) RecordChallengeIssued(channel string) {
	m.ChallengesIssued.WithLabelValues(channel).Inc()
}

// RecordSolveAttempt increments SolveAttempts for channel and outcome
// ("accepted" or "rejected").
func (m *Metrics) RecordSolveAttempt(channel, outcome string) {
	m.SolveAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordBLEOpen records one completed BLE open attempt: success or a
// labeled failure reason, plus its latency.
func (m *Metrics) RecordBLEOpen(success bool, reason string, latencySecs float64) {
	m.BLEOpenAttempts.Inc()
	m.BLEOpenLatencySecs.Observe(latencySecs)
	if success {
		m.BLEOpenSuccesses.Inc()
		return
	}
	m.BLEOpenFailures.WithLabelValues(reason).Inc()
}
