package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess       = "success"
	outcomeConfigError   = "config_error"
	outcomeInvalid       = "invalid"
	outcomeDenied        = "denied"
	outcomeUpstreamError = "upstream_error"
	outcomeStreamAborted = "stream_aborted"
	outcomeClientGone    = "client_gone"
)

var (
	// requestsTotal counts generation requests by outcome
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "practiq",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Total number of generation requests by outcome",
		},
		[]string{"outcome"},
	)

	fragmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "practiq",
			Subsystem: "relay",
			Name:      "fragments_total",
			Help:      "Total number of provider fragments forwarded",
		},
	)

	streamedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "practiq",
			Subsystem: "relay",
			Name:      "streamed_bytes_total",
			Help:      "Total number of response body bytes forwarded",
		},
	)

	// firstFragmentSeconds is the latency until the response headers are sent
	firstFragmentSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "practiq",
			Subsystem: "relay",
			Name:      "first_fragment_seconds",
			Help:      "Time from request to the first forwarded fragment",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
	)
)
