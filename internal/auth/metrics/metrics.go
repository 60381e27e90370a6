package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcomes used as the "outcome" label.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInactive           = "inactive"
	OutcomeLocked             = "locked"
	OutcomeError              = "error"
)

type Metrics struct {
	LoginAttempts    *prometheus.CounterVec
	LoginDurationMs  prometheus.Histogram
	AccountLockouts  prometheus.Counter
	SessionsCreated  prometheus.Counter
	SessionsRevoked  prometheus.Counter
	PasswordsChanged prometheus.Counter
}

// New registers the auth collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_auth_login_attempts_total",
			Help: "Total number of login attempts by outcome",
		}, []string{"outcome"}),
		LoginDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cmsguard_auth_login_duration_ms",
			Help:    "Latency of login requests in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000},
		}),
		AccountLockouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_auth_account_lockouts_total",
			Help: "Total number of accounts locked after repeated failed logins",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_auth_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_auth_sessions_revoked_total",
			Help: "Total number of sessions deleted by logout, password change, or expiry",
		}),
		PasswordsChanged: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_auth_passwords_changed_total",
			Help: "Total number of successful password changes",
		}),
	}
}

func (m *Metrics) ObserveLogin(outcome string, durationMs float64) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
	m.LoginDurationMs.Observe(durationMs)
}

func (m *Metrics) IncrementAccountLockouts() {
	m.AccountLockouts.Inc()
}

func (m *Metrics) IncrementSessionsCreated() {
	m.SessionsCreated.Inc()
}

func (m *Metrics) AddSessionsRevoked(n int) {
	m.SessionsRevoked.Add(float64(n))
}

func (m *Metrics) IncrementPasswordsChanged() {
	m.PasswordsChanged.Inc()
}
