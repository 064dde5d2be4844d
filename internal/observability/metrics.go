package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/flowscore/internal/delivery"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowscore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowscore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	fragmentsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowscore",
			Subsystem: "provider",
			Name:      "fragments_delivered_total",
			Help:      "Score fragments sent to the broker.",
		},
		[]string{"node"},
	)
	measuresDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowscore",
			Subsystem: "provider",
			Name:      "measures_delivered_total",
			Help:      "Measures carried by delivered fragments.",
		},
		[]string{"node"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowscore",
			Subsystem: "provider",
			Name:      "bytes_sent_total",
			Help:      "Serialized fragment bytes sent to the broker.",
		},
		[]string{"node"},
	)
	deliveryRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowscore",
			Subsystem: "provider",
			Name:      "delivery_retries_total",
			Help:      "Fragment retries after a transient transport failure.",
		},
		[]string{"node", "reason"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowscore",
			Subsystem: "provider",
			Name:      "send_duration_seconds",
			Help:      "Dial+send duration of one delivered fragment.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node"},
	)
	cyclesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowscore",
			Subsystem: "provider",
			Name:      "cycles_completed_total",
			Help:      "Whole-document passes completed.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			fragmentsDelivered,
			measuresDelivered,
			bytesSent,
			deliveryRetries,
			sendDuration,
			cyclesCompleted,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// ProviderMetrics records delivery and cycle progress for one provider node.
// It satisfies delivery.Recorder and cycle.Recorder.
type ProviderMetrics struct {
	node string
}

func NewProviderMetrics(node string) *ProviderMetrics {
	RegisterMetrics()
	return &ProviderMetrics{node: node}
}

func (m *ProviderMetrics) FragmentDelivered(measures, bytes int, elapsed time.Duration) {
	fragmentsDelivered.WithLabelValues(m.node).Inc()
	measuresDelivered.WithLabelValues(m.node).Add(float64(measures))
	bytesSent.WithLabelValues(m.node).Add(float64(bytes))
	sendDuration.WithLabelValues(m.node).Observe(elapsed.Seconds())
}

func (m *ProviderMetrics) DeliveryRetry(reason string) {
	deliveryRetries.WithLabelValues(m.node, reason).Inc()
}

func (m *ProviderMetrics) CycleCompleted(delivery.Report) {
	cyclesCompleted.WithLabelValues(m.node).Inc()
}
