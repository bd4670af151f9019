package governor

import "github.com/prometheus/client_golang/prometheus"

var (
	activeTokensGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatd",
			Subsystem: "governor",
			Name:      "active_tokens",
			Help:      "Tokens currently reserved by in-flight generations",
		},
	)

	admissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "governor",
			Name:      "admissions_total",
			Help:      "Total admitted generation requests",
		},
	)

	admissionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "governor",
			Name:      "rejections_total",
			Help:      "Total rejected admissions by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(activeTokensGauge, admissionsTotal, admissionsRejected)
}
