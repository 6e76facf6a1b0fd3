package provision

import "github.com/prometheus/client_golang/prometheus"

var (
	provisionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "provision",
			Name:      "runs_total",
			Help:      "Provisioning runs by outcome",
		},
		[]string{"outcome"},
	)

	provisionBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "provision",
			Name:      "bytes_total",
			Help:      "Bytes copied from a source into partial files",
		},
	)

	provisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Duration of provisioning runs in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)
)

func init() {
	prometheus.MustRegister(provisionRunsTotal, provisionBytesTotal, provisionDuration)
}

const (
	outcomeReady     = "ready"
	outcomeFastPath  = "fastpath"
	outcomeCancelled = "cancelled"
	outcomeIntegrity = "integrity_error"
	outcomeIO        = "io_error"
	outcomeManifest  = "manifest_error"
)
