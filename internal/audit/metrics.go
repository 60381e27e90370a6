package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsRecorded   *prometheus.CounterVec
	WriteFailures    prometheus.Counter
	ForwardFailures  prometheus.Counter
	RetentionDeleted prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cmsguard_audit_events_total",
			Help: "Total number of audit events persisted, by category",
		}, []string{"category"}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_audit_write_failures_total",
			Help: "Total number of audit events that could not be persisted",
		}),
		ForwardFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_audit_forward_failures_total",
			Help: "Total number of audit events a secondary sink rejected",
		}),
		RetentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "cmsguard_audit_retention_deleted_total",
			Help: "Total number of audit events removed by the retention sweep",
		}),
	}
}
