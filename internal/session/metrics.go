package session

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "generation",
			Name:      "total",
			Help:      "Generation jobs by outcome",
		},
		[]string{"outcome"},
	)

	generationTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Tokens appended to bot messages",
		},
	)

	generationFirstToken = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "generation",
			Name:      "first_token_seconds",
			Help:      "Latency from job start to the first token",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal, generationTokensTotal, generationFirstToken)
}

const (
	outcomeCompleted  = "completed"
	outcomeError      = "error"
	outcomeStopped    = "stopped"
	outcomeSuperseded = "superseded"
	outcomeClosed     = "closed"
)
