// Package metrics holds the Prometheus collectors for sessions, verification and the reaper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authgate"

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsCreated     prometheus.Counter
	SessionsEvicted     prometheus.Counter
	SessionsRevoked     *prometheus.CounterVec
	Refreshes           *prometheus.CounterVec
	OTPIssued           *prometheus.CounterVec
	OTPVerifications    *prometheus.CounterVec
	ReaperDeactivated   prometheus.Counter
	ReaperDeleted       prometheus.Counter
	ReaperFailures      prometheus.Counter
	ReaperSweepDuration prometheus.Histogram
	NotificationsFailed *prometheus.CounterVec
	RPCDuration         *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total",
			Help: "Sessions created by login.",
		}),
		SessionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_evicted_total",
			Help: "Sessions deactivated because the per-user limit was reached.",
		}),
		SessionsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_revoked_total",
			Help: "Sessions deactivated, by revoke reason.",
		}, []string{"reason"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_refreshes_total",
			Help: "Refresh-token rotations, by outcome.",
		}, []string{"outcome"}),
		OTPIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "otp_issued_total",
			Help: "OTP challenges issued, by factor.",
		}, []string{"factor"}),
		OTPVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "otp_verifications_total",
			Help: "OTP verification attempts, by outcome.",
		}, []string{"outcome"}),
		ReaperDeactivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaper_deactivated_total",
			Help: "Expired sessions deactivated by the reaper.",
		}),
		ReaperDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaper_deleted_total",
			Help: "Inactive sessions physically deleted by the reaper.",
		}),
		ReaperFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reaper_failures_total",
			Help: "Reaper sweeps that returned an error.",
		}),
		ReaperSweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "reaper_sweep_duration_seconds",
			Help:    "Wall time of one reaper sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_failed_total",
			Help: "Notifications that could not be handed to the transport, by channel.",
		}, []string{"channel"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "grpc_request_duration_seconds",
			Help:    "Unary RPC latency, by method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) SessionEvicted() {
	if m != nil {
		m.SessionsEvicted.Inc()
	}
}

func (m *Metrics) SessionRevoked(reason string, n int) {
	if m != nil && n > 0 {
		m.SessionsRevoked.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OTPIssue(factor string) {
	if m != nil {
		m.OTPIssued.WithLabelValues(factor).Inc()
	}
}

func (m *Metrics) OTPVerify(outcome string) {
	if m != nil {
		m.OTPVerifications.WithLabelValues(outcome).Inc()
	}
}

// ReaperSweep records the result of one sweep.
func (m *Metrics) ReaperSweep(deactivated, deleted int, seconds float64, err error) {
	if m == nil {
		return
	}
	m.ReaperDeactivated.Add(float64(deactivated))
	m.ReaperDeleted.Add(float64(deleted))
	m.ReaperSweepDuration.Observe(seconds)
	if err != nil {
		m.ReaperFailures.Inc()
	}
}

func (m *Metrics) NotificationFailed(channel string) {
	if m != nil {
		m.NotificationsFailed.WithLabelValues(channel).Inc()
	}
}

// RPC records one finished unary call.
func (m *Metrics) RPC(method, code string, seconds float64) {
	if m != nil {
		m.RPCDuration.WithLabelValues(method, code).Observe(seconds)
	}
}
