package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline counters. Registered onto the metrics server's registry at
// startup and incremented from the hot path; all of them are cheap
// label-bounded counters.
var (
	EventsLoggedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_events_logged_total",
			Help: "Total number of application events logged into the engine",
		},
		[]string{"kind"},
	)

	CampaignsReadyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inapp_campaigns_ready_total",
			Help: "Total number of campaigns that passed validation and were handed to the dispatcher",
		},
	)

	PermissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_display_permission_checks_total",
			Help: "Display permission check outcomes",
		},
		[]string{"result"}, // approved, denied, fail_open
	)

	ImpressionsReportedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_impressions_reported_total",
			Help: "Impression report attempts by outcome",
		},
		[]string{"result"}, // ok, error
	)

	PingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_pings_total",
			Help: "Campaign list poll attempts by outcome",
		},
		[]string{"result"}, // ok, error, throttled
	)
)

// Register registers all pipeline collectors on the given registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		EventsLoggedTotal,
		CampaignsReadyTotal,
		PermissionChecksTotal,
		ImpressionsReportedTotal,
		PingsTotal,
	)
}
