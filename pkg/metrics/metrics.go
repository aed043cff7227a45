package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Region lifecycle metrics
	OpenRegions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regiond_open_regions",
			Help: "Number of regions currently online on this server",
		},
	)

	RegionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_regions_opened_total",
			Help: "Total number of region open operations completed",
		},
	)

	RegionsClosedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_regions_closed_total",
			Help: "Total number of region close operations completed",
		},
	)

	RegionOpenDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regiond_region_open_duration_seconds",
			Help:    "Time taken to open a region, including log replay",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Memstore / flush metrics
	GlobalMemstoreBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regiond_global_memstore_bytes",
			Help: "Aggregate size in bytes of all online regions' memstores",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regiond_flush_duration_seconds",
			Help:    "Time taken to flush a region's memstore to a store file",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiond_flushes_total",
			Help: "Total number of memstore flushes by trigger reason",
		},
		[]string{"reason"},
	)

	FlushQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regiond_flush_queue_depth",
			Help: "Number of regions currently queued for flush",
		},
	)

	// Compaction / split metrics
	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regiond_compaction_duration_seconds",
			Help:    "Time taken to run a compaction cycle on a region",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiond_compactions_total",
			Help: "Total number of compactions completed by kind (minor, major)",
		},
		[]string{"kind"},
	)

	SplitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_splits_total",
			Help: "Total number of region splits completed",
		},
	)

	CompactionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regiond_compaction_queue_depth",
			Help: "Number of regions currently queued for compaction",
		},
	)

	// WAL metrics
	WALRollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_wal_rolls_total",
			Help: "Total number of write-ahead log segment rolls",
		},
	)

	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regiond_wal_append_duration_seconds",
			Help:    "Time taken to append and sync a write-ahead log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALSyncFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_wal_sync_failures_total",
			Help: "Total number of write-ahead log sync failures observed by the filesystem watchdog",
		},
	)

	// Scanner / lease metrics
	OpenScanners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "regiond_open_scanners",
			Help: "Number of scanners currently registered on this server",
		},
	)

	ScannerLeaseExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_scanner_lease_expirations_total",
			Help: "Total number of scanner leases that expired without renewal",
		},
	)

	// Heartbeat / master-session metrics
	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_heartbeats_total",
			Help: "Total number of heartbeats sent to the master",
		},
	)

	HeartbeatFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "regiond_heartbeat_failures_total",
			Help: "Total number of heartbeats that failed or timed out",
		},
	)

	HeartbeatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regiond_heartbeat_duration_seconds",
			Help:    "Round-trip time of a heartbeat request to the master",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Request front end metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regiond_requests_total",
			Help: "Total number of client requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regiond_request_duration_seconds",
			Help:    "Client request duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(OpenRegions)
	prometheus.MustRegister(RegionsOpenedTotal)
	prometheus.MustRegister(RegionsClosedTotal)
	prometheus.MustRegister(RegionOpenDuration)
	prometheus.MustRegister(GlobalMemstoreBytes)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(FlushesTotal)
	prometheus.MustRegister(FlushQueueDepth)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionsTotal)
	prometheus.MustRegister(SplitsTotal)
	prometheus.MustRegister(CompactionQueueDepth)
	prometheus.MustRegister(WALRollsTotal)
	prometheus.MustRegister(WALAppendDuration)
	prometheus.MustRegister(WALSyncFailuresTotal)
	prometheus.MustRegister(OpenScanners)
	prometheus.MustRegister(ScannerLeaseExpirationsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(HeartbeatFailuresTotal)
	prometheus.MustRegister(HeartbeatDuration)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
