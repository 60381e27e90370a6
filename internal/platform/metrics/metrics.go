package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process level collectors not owned by a domain package.
type Metrics struct {
	UsersCreated  prometheus.Counter
	SweepDeleted  *prometheus.CounterVec
	BuildInfo     *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_users_created_total",
			Help: "Total number of users created in the system",
		}),
		SweepDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_sweeper_deleted_total",
			Help: "Total number of rows removed by background sweepers",
		}, []string{"sweeper"}),
		BuildInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cmsguard_build_info",
			Help: "Always 1; labels carry the storage backends in use",
		}, []string{"users", "sessions", "ratelimits", "audit"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_http_requests_total",
			Help: "Total number of HTTP requests by route pattern and status class",
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) IncrementUsersCreated() {
	m.UsersCreated.Inc()
}

func (m *Metrics) AddSweepDeleted(sweeper string, n int) {
	m.SweepDeleted.WithLabelValues(sweeper).Add(float64(n))
}
