package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	tokensGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "engine",
			Name:      "tokens_generated_total",
			Help:      "Total tokens produced by the decode loop",
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "engine",
			Name:      "generations_total",
			Help:      "Completed generations by outcome",
		},
		[]string{"outcome"},
	)

	promptTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatd",
			Subsystem: "engine",
			Name:      "prompt_truncations_total",
			Help:      "Prompts truncated to the context ceiling",
		},
	)
)

func init() {
	prometheus.MustRegister(tokensGenerated, generationsTotal, promptTruncations)
}
