package monitoring

import (
	"time"

	"pointlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements both the relay's metrics surface and the
// session/protocol metrics sink on one registry.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	messagesRelayed   *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec

	sessionsByState *prometheus.GaugeVec
	batchesSent     prometheus.Counter
	batchBytes      prometheus.Counter
	batchPoints     prometheus.Histogram
	batchesDropped  *prometheus.CounterVec
	outstandingSend prometheus.Gauge
	probeLatency    prometheus.Histogram
	captureRate     prometheus.Gauge
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pointlink_relay_connections_active",
			Help: "Number of live signaling connections",
		}),

		messagesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pointlink_relay_messages_total",
			Help: "Signaling messages relayed, by kind",
		}, []string{"kind"}),

		messagesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pointlink_relay_messages_dropped_total",
			Help: "Signaling messages dropped, by reason",
		}, []string{"reason"}),

		sessionsByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pointlink_sessions_by_state",
			Help: "Peer session state transitions observed",
		}, []string{"state"}),

		batchesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pointlink_point_batches_sent_total",
			Help: "Point batches transmitted on the data channel",
		}),

		batchBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pointlink_point_batch_bytes_total",
			Help: "Encoded point batch bytes transmitted",
		}),

		batchPoints: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pointlink_point_batch_points",
			Help:    "Points per transmitted batch after downsampling",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		}),

		batchesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pointlink_point_batches_dropped_total",
			Help: "Point batches dropped before transmission, by reason",
		}, []string{"reason"}),

		outstandingSend: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pointlink_data_channel_outstanding_bytes",
			Help: "Unacknowledged bytes buffered in the data channel",
		}),

		probeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pointlink_data_channel_probe_seconds",
			Help:    "Round-trip time of data channel liveness probes",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		captureRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pointlink_capture_frame_rate",
			Help: "Point batch submission rate from the capture bridge",
		}),
	}
}

// Relay metrics surface.

func (c *PrometheusCollector) ConnectionOpened() { c.connectionsActive.Inc() }
func (c *PrometheusCollector) ConnectionClosed() { c.connectionsActive.Dec() }

func (c *PrometheusCollector) MessageRelayed(kind string) {
	c.messagesRelayed.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) MessageDropped(reason string) {
	c.messagesDropped.WithLabelValues(reason).Inc()
}

// Session and point-cloud protocol sink.

func (c *PrometheusCollector) RecordSessionState(state domain.SessionState) {
	c.sessionsByState.WithLabelValues(string(state)).Inc()
}

func (c *PrometheusCollector) RecordBatchSent(points, bytes int) {
	c.batchesSent.Inc()
	c.batchBytes.Add(float64(bytes))
	c.batchPoints.Observe(float64(points))
}

func (c *PrometheusCollector) RecordBatchDropped(reason string) {
	c.batchesDropped.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) RecordOutstandingBytes(n int) {
	c.outstandingSend.Set(float64(n))
}

func (c *PrometheusCollector) RecordLatency(d time.Duration) {
	c.probeLatency.Observe(d.Seconds())
}

func (c *PrometheusCollector) RecordFrameRate(fps float64) {
	c.captureRate.Set(fps)
}
