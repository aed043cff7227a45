/*
Package metrics defines and registers every regiond_* Prometheus metric this
server exposes, plus the Timer helper used to observe them, and the
health/readiness/liveness registry served alongside /metrics.

# Metrics catalog

Region lifecycle:

	regiond_open_regions                    Gauge
	regiond_regions_opened_total             Counter
	regiond_regions_closed_total             Counter
	regiond_region_open_duration_seconds     Histogram

Memstore / flush:

	regiond_global_memstore_bytes            Gauge
	regiond_flush_duration_seconds           Histogram
	regiond_flushes_total{reason}            CounterVec
	regiond_flush_queue_depth                Gauge

Compaction / split:

	regiond_compaction_duration_seconds      Histogram
	regiond_compactions_total{kind}          CounterVec
	regiond_splits_total                     Counter
	regiond_compaction_queue_depth           Gauge

Write-ahead log:

	regiond_wal_rolls_total                  Counter
	regiond_wal_append_duration_seconds      Histogram
	regiond_wal_sync_failures_total          Counter

Scanners:

	regiond_open_scanners                    Gauge
	regiond_scanner_lease_expirations_total  Counter

Master heartbeat:

	regiond_heartbeats_total                 Counter
	regiond_heartbeat_failures_total         Counter
	regiond_heartbeat_duration_seconds       Histogram

Client front end:

	regiond_requests_total{method,outcome}       CounterVec
	regiond_request_duration_seconds{method}     HistogramVec

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.FlushDuration)

	metrics.RequestsTotal.WithLabelValues("Get", "ok").Inc()

# Health endpoints

RegisterComponent/UpdateComponent track the health of this server's own
dependencies (wal, catalog, master) independently of the Prometheus
registry above. HealthHandler, ReadyHandler, and LivenessHandler back
/health, /ready, and /live respectively.
*/
package metrics
