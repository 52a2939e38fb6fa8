package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds process-wide counters for the JSON and Prometheus endpoints.
type Metrics struct {
	startTime time.Time

	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64

	// Buckets: 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, +Inf
	httpLatencyBuckets [10]atomic.Int64
	httpLatencySum     atomic.Int64 // microseconds
	httpLatencyCount   atomic.Int64

	queryRequestsTotal atomic.Int64
	querySuccessTotal  atomic.Int64
	queryInvalidTotal  atomic.Int64
	queryTooLargeTotal atomic.Int64
	queryErrorsTotal   atomic.Int64
	queryRowsTotal     atomic.Int64
	queryLatencySum    atomic.Int64 // microseconds
	queryLatencyCount  atomic.Int64

	datasetsAdded    atomic.Int64
	datasetsRemoved  atomic.Int64
	datasetsLoaded   atomic.Int64
	recordsIngested  atomic.Int64
	ingestBytesTotal atomic.Int64
	ingestErrors     atomic.Int64
	geolocateCalls   atomic.Int64
	geolocateErrors  atomic.Int64

	storageWritesTotal     atomic.Int64
	storageWriteBytesTotal atomic.Int64
	storageReadsTotal      atomic.Int64
	storageReadBytesTotal  atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{startTime: time.Now()}
	})
	return instance
}

// Init attaches a logger to the singleton.
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// HTTP
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records HTTP request latency in microseconds
func (m *Metrics) RecordHTTPLatency(durationMicros int64) {
	m.httpLatencySum.Add(durationMicros)
	m.httpLatencyCount.Add(1)
	m.httpLatencyBuckets[latencyBucket(durationMicros)].Add(1)
}

var bucketBoundsMicros = [...]int64{1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000}

func latencyBucket(micros int64) int {
	for i, bound := range bucketBoundsMicros {
		if micros <= bound {
			return i
		}
	}
	return len(bucketBoundsMicros)
}

// Queries
func (m *Metrics) IncQueryRequests()        { m.queryRequestsTotal.Add(1) }
func (m *Metrics) IncQuerySuccess()         { m.querySuccessTotal.Add(1) }
func (m *Metrics) IncQueryInvalid()         { m.queryInvalidTotal.Add(1) }
func (m *Metrics) IncQueryTooLarge()        { m.queryTooLargeTotal.Add(1) }
func (m *Metrics) IncQueryErrors()          { m.queryErrorsTotal.Add(1) }
func (m *Metrics) IncQueryRows(count int64) { m.queryRowsTotal.Add(count) }

// RecordQueryLatency records query latency in microseconds
func (m *Metrics) RecordQueryLatency(durationMicros int64) {
	m.queryLatencySum.Add(durationMicros)
	m.queryLatencyCount.Add(1)
}

// Datasets and ingestion
func (m *Metrics) IncDatasetsAdded()             { m.datasetsAdded.Add(1) }
func (m *Metrics) IncDatasetsRemoved()           { m.datasetsRemoved.Add(1) }
func (m *Metrics) SetDatasetsLoaded(count int64) { m.datasetsLoaded.Store(count) }
func (m *Metrics) IncRecordsIngested(n int64)    { m.recordsIngested.Add(n) }
func (m *Metrics) IncIngestBytes(n int64)        { m.ingestBytesTotal.Add(n) }
func (m *Metrics) IncIngestErrors()              { m.ingestErrors.Add(1) }
func (m *Metrics) IncGeolocateCalls()            { m.geolocateCalls.Add(1) }
func (m *Metrics) IncGeolocateErrors()           { m.geolocateErrors.Add(1) }

// Storage
func (m *Metrics) IncStorageWrites(bytes int64) {
	m.storageWritesTotal.Add(1)
	m.storageWriteBytesTotal.Add(bytes)
}

func (m *Metrics) IncStorageReads(bytes int64) {
	m.storageReadsTotal.Add(1)
	m.storageReadBytesTotal.Add(bytes)
}

// Snapshot returns all metrics as a map (for JSON endpoint)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"num_cpu":        runtime.NumCPU(),

		"memory_alloc_bytes":      memStats.Alloc,
		"memory_sys_bytes":        memStats.Sys,
		"memory_heap_alloc_bytes": memStats.HeapAlloc,
		"gc_cycles":               memStats.NumGC,

		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),

		"query_requests_total":  m.queryRequestsTotal.Load(),
		"query_success_total":   m.querySuccessTotal.Load(),
		"query_invalid_total":   m.queryInvalidTotal.Load(),
		"query_too_large_total": m.queryTooLargeTotal.Load(),
		"query_errors_total":    m.queryErrorsTotal.Load(),
		"query_rows_total":      m.queryRowsTotal.Load(),
		"query_latency_sum_us":  m.queryLatencySum.Load(),
		"query_latency_count":   m.queryLatencyCount.Load(),

		"datasets_added_total":   m.datasetsAdded.Load(),
		"datasets_removed_total": m.datasetsRemoved.Load(),
		"datasets_loaded":        m.datasetsLoaded.Load(),
		"records_ingested_total": m.recordsIngested.Load(),
		"ingest_bytes_total":     m.ingestBytesTotal.Load(),
		"ingest_errors_total":    m.ingestErrors.Load(),
		"geolocate_calls_total":  m.geolocateCalls.Load(),
		"geolocate_errors_total": m.geolocateErrors.Load(),

		"storage_writes_total":      m.storageWritesTotal.Load(),
		"storage_write_bytes_total": m.storageWriteBytesTotal.Load(),
		"storage_reads_total":       m.storageReadsTotal.Load(),
		"storage_read_bytes_total":  m.storageReadBytesTotal.Load(),
	}
}

type promMetric struct {
	name, kind, help string
	value            func(m *Metrics) float64
}

func counter(v *atomic.Int64) func(*Metrics) float64 {
	return func(*Metrics) float64 { return float64(v.Load()) }
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	gauges := []promMetric{
		{"insight_uptime_seconds", "gauge", "Time since the server started", func(m *Metrics) float64 { return time.Since(m.startTime).Seconds() }},
		{"insight_goroutines", "gauge", "Number of goroutines", func(*Metrics) float64 { return float64(runtime.NumGoroutine()) }},
		{"insight_memory_alloc_bytes", "gauge", "Current allocated memory", func(*Metrics) float64 { return float64(memStats.Alloc) }},
		{"insight_gc_cycles_total", "counter", "Total number of GC cycles", func(*Metrics) float64 { return float64(memStats.NumGC) }},
	}
	counters := []promMetric{
		{"insight_http_requests_total", "counter", "Total HTTP requests", counter(&m.httpRequestsTotal)},
		{"insight_http_requests_success_total", "counter", "Successful HTTP requests", counter(&m.httpRequestsSuccess)},
		{"insight_http_requests_error_total", "counter", "Failed HTTP requests", counter(&m.httpRequestsError)},
		{"insight_query_requests_total", "counter", "Total query requests", counter(&m.queryRequestsTotal)},
		{"insight_query_success_total", "counter", "Successful queries", counter(&m.querySuccessTotal)},
		{"insight_query_invalid_total", "counter", "Queries rejected by validation", counter(&m.queryInvalidTotal)},
		{"insight_query_too_large_total", "counter", "Queries over the result row limit", counter(&m.queryTooLargeTotal)},
		{"insight_query_errors_total", "counter", "Queries failed for other reasons", counter(&m.queryErrorsTotal)},
		{"insight_query_rows_total", "counter", "Total rows returned by queries", counter(&m.queryRowsTotal)},
		{"insight_datasets_added_total", "counter", "Datasets added", counter(&m.datasetsAdded)},
		{"insight_datasets_removed_total", "counter", "Datasets removed", counter(&m.datasetsRemoved)},
		{"insight_datasets_loaded", "gauge", "Datasets currently loaded", counter(&m.datasetsLoaded)},
		{"insight_records_ingested_total", "counter", "Records ingested", counter(&m.recordsIngested)},
		{"insight_ingest_errors_total", "counter", "Rejected dataset uploads", counter(&m.ingestErrors)},
		{"insight_geolocate_calls_total", "counter", "Geolocation lookups", counter(&m.geolocateCalls)},
		{"insight_geolocate_errors_total", "counter", "Failed geolocation lookups", counter(&m.geolocateErrors)},
		{"insight_storage_writes_total", "counter", "Total storage writes", counter(&m.storageWritesTotal)},
		{"insight_storage_write_bytes_total", "counter", "Total bytes written to storage", counter(&m.storageWriteBytesTotal)},
		{"insight_storage_reads_total", "counter", "Total storage reads", counter(&m.storageReadsTotal)},
	}

	var b []byte
	for _, pm := range append(gauges, counters...) {
		b = appendHeader(b, pm.name, pm.kind, pm.help)
		b = appendMetric(b, pm.name, pm.value(m))
	}

	b = appendHeader(b, "insight_http_latency_seconds", "histogram", "HTTP request latency")
	bucketLabels := []string{"0.001", "0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}
	var cumulative int64
	for i, label := range bucketLabels {
		cumulative += m.httpLatencyBuckets[i].Load()
		b = appendMetricWithLabel(b, "insight_http_latency_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "insight_http_latency_seconds_sum", float64(m.httpLatencySum.Load())/1000000.0)
	b = appendMetric(b, "insight_http_latency_seconds_count", float64(m.httpLatencyCount.Load()))

	return string(b)
}

func appendHeader(b []byte, name, kind, help string) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, kind...)
	return append(b, '\n')
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}
