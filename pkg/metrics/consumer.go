package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettingsEvents tracks channel-settings change notifications consumed from the broker
	SettingsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settings_events_total",
		Help: "Channel settings events consumed, by result",
	}, []string{"result"}) // result: applied, malformed, failed

	// Publications counts run summaries and conflict reports published for dashboards
	Publications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_publications_total",
		Help: "Messages published to the dashboard exchange",
	}, []string{"kind", "result"})
)
