// Package metrics содержит прометей-метрики сервиса sponsorlink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics объединяет все метрики сервиса.
type Metrics struct {
	WebhooksReceived  *prometheus.CounterVec
	AuthorizeRequests prometheus.Counter
	RefreshCompleted  prometheus.Counter
	RefreshIncomplete prometheus.Counter
	RefreshDropped    prometheus.Counter
	RegistryOps       *prometheus.CounterVec
	ExpirationsSwept  prometheus.Counter
}

// New создаёт и регистрирует метрики сервиса.
func New() *Metrics {
	return &Metrics{
		WebhooksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sponsorlink_webhooks_received_total",
			Help: "Total number of webhook deliveries received, by hook and action",
		}, []string{"hook", "action"}),
		AuthorizeRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sponsorlink_authorize_requests_total",
			Help: "Total number of completed authorization callbacks",
		}),
		RefreshCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sponsorlink_refresh_completed_total",
			Help: "Total number of user refresh events fully reconciled",
		}),
		RefreshIncomplete: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sponsorlink_refresh_incomplete_total",
			Help: "Total number of user refresh attempts that could not complete yet",
		}),
		RefreshDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sponsorlink_refresh_dropped_total",
			Help: "Total number of user refresh events dropped after exhausting attempts",
		}),
		RegistryOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sponsorlink_registry_operations_total",
			Help: "Total number of successful registry writes, by operation",
		}, []string{"op"}),
		ExpirationsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sponsorlink_expirations_swept_total",
			Help: "Total number of one-time sponsorships marked expired by the daily sweep",
		}),
	}
}
