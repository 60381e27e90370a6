package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RateLimitAttemptsRecorded *prometheus.CounterVec
	RateLimitLockoutsTotal    *prometheus.CounterVec
	RateLimitRejectedTotal    *prometheus.CounterVec
	RateLimitStaleDeleted     prometheus.Counter
	RateLimitFallbackActive   prometheus.Gauge
}

// New registers the rate limit collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitAttemptsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_ratelimit_attempts_recorded_total",
			Help: "Total number of attempts recorded against rate limits",
		}, []string{"action"}),
		RateLimitLockoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_ratelimit_lockouts_total",
			Help: "Total number of identifiers locked by rate limiting",
		}, []string{"action"}),
		RateLimitRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_ratelimit_rejected_total",
			Help: "Total number of requests rejected because of an active rate limit",
		}, []string{"action"}),
		RateLimitStaleDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_ratelimit_stale_deleted_total",
			Help: "Total number of stale rate limit records removed by cleanup",
		}),
		RateLimitFallbackActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cmsguard_ratelimit_fallback_active",
			Help: "1 while the in-memory fallback limiter is serving requests",
		}),
	}
}

func (m *Metrics) IncrementAttempts(action string) {
	m.RateLimitAttemptsRecorded.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementLockouts(action string) {
	m.RateLimitLockoutsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementRejected(action string) {
	m.RateLimitRejectedTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) AddStaleDeleted(n int) {
	m.RateLimitStaleDeleted.Add(float64(n))
}

func (m *Metrics) SetFallbackActive(active bool) {
	if active {
		m.RateLimitFallbackActive.Set(1)
		return
	}
	m.RateLimitFallbackActive.Set(0)
}
