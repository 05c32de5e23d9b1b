package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure|inactive).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskly_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// OTPVerifications counts verification checks by purpose (activation|reset) and result.
	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskly_otp_verifications_total",
			Help: "Total number of one-time code checks",
		},
		[]string{"purpose", "result"},
	)

	// PolicyDecisions counts authorization predicate outcomes (allow|deny).
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskly_policy_decisions_total",
			Help: "Total number of project policy evaluations",
		},
		[]string{"action", "result"},
	)

	// InvitationTransitions counts invitation state changes by destination status.
	InvitationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskly_invitation_transitions_total",
			Help: "Total number of invitation state transitions",
		},
		[]string{"to"},
	)

	// MaintenanceRuns counts scheduled maintenance executions by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskly_maintenance_runs_total",
			Help: "Total number of maintenance job executions",
		},
		[]string{"job", "result"},
	)

	// NotificationsSent counts outbound notifications by kind and result.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskly_notifications_total",
			Help: "Total number of notification delivery attempts",
		},
		[]string{"kind", "result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskly_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskly_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
