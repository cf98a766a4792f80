// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	FeedEvents    *prometheus.CounterVec
	FeedConnected prometheus.Gauge

	// Reconciler metrics
	Reconciliations   *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	MempoolSize       prometheus.Gauge
	NodeFullHeight    prometheus.Gauge

	// Cache metrics
	BoxLookups      *prometheus.CounterVec
	BoxCacheSize    prometheus.Gauge
	BoxCacheEvicted prometheus.Counter
	AssetFetches    *prometheus.CounterVec
	AssetCacheSize  prometheus.Gauge

	// Presentation metrics
	ItemsEnqueued   prometheus.Counter
	ItemsDelivered  prometheus.Counter
	ItemsSkipped    *prometheus.CounterVec
	QueueLength     prometheus.Gauge
	StreamClients   prometheus.Gauge
	ExplorerLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ergo_live"
	}

	return &Metrics{
		// Feed metrics
		FeedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Total number of push feed events received by name",
		}, []string{"event"}),
		FeedConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the push feed session is established",
		}),

		// Reconciler metrics
		Reconciliations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "reconciliations_total",
			Help:      "Total number of mempool payloads by outcome (applied, unchanged, dropped)",
		}, []string{"result"}),
		ReconcileDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of one reconciliation cycle including fetches",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		MempoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Number of pending transactions in the published snapshot",
		}),
		NodeFullHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mempool",
			Name:      "node_full_height",
			Help:      "Latest full block height reported by the feed",
		}),

		// Cache metrics
		BoxLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "boxcache",
			Name:      "lookups_total",
			Help:      "Box resolutions by source (cache, mempool, network, miss)",
		}, []string{"source"}),
		BoxCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "boxcache",
			Name:      "entries",
			Help:      "Number of cached boxes",
		}),
		BoxCacheEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "boxcache",
			Name:      "evicted_total",
			Help:      "Total number of boxes evicted by pruning",
		}),
		AssetFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assets",
			Name:      "fetches_total",
			Help:      "Token metadata lookups by source and result",
		}, []string{"source", "result"}),
		AssetCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "assets",
			Name:      "entries",
			Help:      "Number of cached token metadata entries",
		}),

		// Presentation metrics
		ItemsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "enqueued_total",
			Help:      "Total number of items accepted by the presentation queue",
		}),
		ItemsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "delivered_total",
			Help:      "Total number of items delivered to the renderer",
		}),
		ItemsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "skipped_total",
			Help:      "Items not delivered by reason (duplicate, channel_full)",
		}, []string{"reason"}),
		QueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presentation",
			Name:      "queue_length",
			Help:      "Number of items waiting in the presentation queue",
		}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Connected websocket stream clients",
		}),
		ExplorerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "explorer",
			Name:      "call_duration_seconds",
			Help:      "Explorer REST call latency by operation",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFeedEvent records a received push feed event.
func RecordFeedEvent(name string) {
	DefaultMetrics.FeedEvents.WithLabelValues(name).Inc()
}

// SetFeedConnected updates the feed connection gauge.
func SetFeedConnected(connected bool) {
	if connected {
		DefaultMetrics.FeedConnected.Set(1)
		return
	}
	DefaultMetrics.FeedConnected.Set(0)
}

// RecordReconciliation records the outcome of one mempool payload.
func RecordReconciliation(result string, d time.Duration) {
	DefaultMetrics.Reconciliations.WithLabelValues(result).Inc()
	if result != "dropped" {
		DefaultMetrics.ReconcileDuration.Observe(d.Seconds())
	}
}

// UpdateMempoolSize sets the published snapshot size.
func UpdateMempoolSize(n int) {
	DefaultMetrics.MempoolSize.Set(float64(n))
}

// UpdateNodeHeight sets the latest reported full height.
func UpdateNodeHeight(h int64) {
	DefaultMetrics.NodeFullHeight.Set(float64(h))
}

// RecordBoxLookup records where a box resolution was answered from.
func RecordBoxLookup(source string) {
	DefaultMetrics.BoxLookups.WithLabelValues(source).Inc()
}

// UpdateBoxCache sets the box cache size and adds evicted entries.
func UpdateBoxCache(size, evicted int) {
	DefaultMetrics.BoxCacheSize.Set(float64(size))
	if evicted > 0 {
		DefaultMetrics.BoxCacheEvicted.Add(float64(evicted))
	}
}

// RecordAssetFetch records a token metadata lookup of n ids.
func RecordAssetFetch(source, result string, n int) {
	DefaultMetrics.AssetFetches.WithLabelValues(source, result).Add(float64(n))
}

// UpdateAssetCache sets the token metadata cache size.
func UpdateAssetCache(size int) {
	DefaultMetrics.AssetCacheSize.Set(float64(size))
}

// RecordEnqueued records items accepted by the presentation queue.
func RecordEnqueued(n int) {
	DefaultMetrics.ItemsEnqueued.Add(float64(n))
}

// RecordDelivered records one delivered item.
func RecordDelivered() {
	DefaultMetrics.ItemsDelivered.Inc()
}

// RecordSkipped records an item that was not delivered.
func RecordSkipped(reason string) {
	DefaultMetrics.ItemsSkipped.WithLabelValues(reason).Inc()
}

// UpdateQueueLength sets the presentation queue length.
func UpdateQueueLength(n int) {
	DefaultMetrics.QueueLength.Set(float64(n))
}

// AddStreamClients adjusts the connected stream client gauge.
func AddStreamClients(delta int) {
	DefaultMetrics.StreamClients.Add(float64(delta))
}

// RecordExplorerLatency records explorer REST call latency.
func RecordExplorerLatency(operation string, seconds float64) {
	DefaultMetrics.ExplorerLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
