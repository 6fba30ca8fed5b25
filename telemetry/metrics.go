package telemetry

// Histogram bucket definitions for different profiles
var (
	// FlushLatencyBuckets for network writes against the storage backend
	FlushLatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// BatchSizeBuckets for mutations per flushed batch
	BatchSizeBuckets = []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000}
)

// Ingestion metrics
var (
	// EventsReceivedTotal counts host notifications by category
	// (account, transaction, slot_status, block_metadata)
	EventsReceivedTotal CounterVec = noopCounterVec{}

	// EventsFilteredTotal counts events skipped by the selectors
	EventsFilteredTotal CounterVec = noopCounterVec{}

	// EventsDispatchedTotal counts events whose rows were handed to the batcher
	EventsDispatchedTotal CounterVec = noopCounterVec{}

	// EventsDiscardedTotal counts events dropped with their buffered slot
	EventsDiscardedTotal CounterVec = noopCounterVec{}

	// EncodeErrorsTotal counts malformed/oversized events dropped at the codec
	EncodeErrorsTotal CounterVec = noopCounterVec{}

	// ProtocolViolationsTotal counts impossible slot-status transitions
	ProtocolViolationsTotal Counter = NoopStat{}
)

// Batcher metrics
var (
	// BatchesDispatchedTotal counts sealed batches by table
	BatchesDispatchedTotal CounterVec = noopCounterVec{}

	// BatchSizeMutations measures mutations per sealed batch by table
	BatchSizeMutations HistogramVec = noopHistogramVec{}

	// InflightFlushes tracks flushes currently running
	InflightFlushes Gauge = NoopStat{}

	// BackpressureWaitSeconds measures time Enqueue spent blocked on the
	// in-flight ceiling
	BackpressureWaitSeconds Histogram = NoopStat{}

	// UnflushedOnShutdownTotal counts batches abandoned by a hard shutdown
	UnflushedOnShutdownTotal Counter = NoopStat{}
)

// Writer metrics
var (
	// FlushDurationSeconds measures storage write latency by table
	FlushDurationSeconds HistogramVec = noopHistogramVec{}

	// WriteRetriesTotal counts retry attempts by table
	WriteRetriesTotal CounterVec = noopCounterVec{}

	// BatchWriteFailedTotal counts batches surfaced as failed by table
	BatchWriteFailedTotal CounterVec = noopCounterVec{}

	// TableHaltedTotal counts circuit-breaker trips by table
	TableHaltedTotal CounterVec = noopCounterVec{}
)

// Tracker metrics
var (
	// PendingSlots tracks slots without a terminal status
	PendingSlots Gauge = NoopStat{}

	// SlotTransitionsTotal counts slot status transitions by target status
	SlotTransitionsTotal CounterVec = noopCounterVec{}

	// StaleSlotsTotal counts slots reported stale by the sweep
	StaleSlotsTotal Counter = NoopStat{}

	// TombstonesTotal counts compensating tombstone mutations enqueued
	TombstonesTotal Counter = NoopStat{}
)

// Publisher metrics
var (
	// CommitRecordsPublishedTotal counts rooted-slot records by result
	// (published, dropped, failed)
	CommitRecordsPublishedTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsReceivedTotal = NewCounterVec(
		"events_received_total",
		"Host notifications received by category",
		[]string{"category"},
	)
	EventsFilteredTotal = NewCounterVec(
		"events_filtered_total",
		"Events skipped by the account/transaction selectors",
		[]string{"category"},
	)
	EventsDispatchedTotal = NewCounterVec(
		"events_dispatched_total",
		"Events whose rows were handed to the batcher",
		[]string{"category"},
	)
	EventsDiscardedTotal = NewCounterVec(
		"events_discarded_total",
		"Events dropped because their slot died",
		[]string{"category"},
	)
	EncodeErrorsTotal = NewCounterVec(
		"encode_errors_total",
		"Events dropped at the row codec",
		[]string{"category"},
	)
	ProtocolViolationsTotal = NewCounter(
		"protocol_violations_total",
		"Impossible slot-status transitions reported by the host",
	)

	BatchesDispatchedTotal = NewCounterVec(
		"batches_dispatched_total",
		"Sealed batches handed to the storage writer",
		[]string{"table"},
	)
	BatchSizeMutations = NewHistogramVec(
		"batch_size_mutations",
		"Mutations per sealed batch",
		[]string{"table"},
		BatchSizeBuckets,
	)
	InflightFlushes = NewGauge(
		"inflight_flushes",
		"Flushes currently running against the storage backend",
	)
	BackpressureWaitSeconds = NewHistogramWithBuckets(
		"backpressure_wait_seconds",
		"Time Enqueue spent blocked on the in-flight flush ceiling",
		FlushLatencyBuckets,
	)
	UnflushedOnShutdownTotal = NewCounter(
		"unflushed_on_shutdown_total",
		"Batches abandoned by a hard shutdown",
	)

	FlushDurationSeconds = NewHistogramVec(
		"flush_duration_seconds",
		"Storage write latency",
		[]string{"table"},
		FlushLatencyBuckets,
	)
	WriteRetriesTotal = NewCounterVec(
		"write_retries_total",
		"Storage write retry attempts",
		[]string{"table"},
	)
	BatchWriteFailedTotal = NewCounterVec(
		"batch_write_failed_total",
		"Batches surfaced as failed after exhausting retries",
		[]string{"table"},
	)
	TableHaltedTotal = NewCounterVec(
		"table_halted_total",
		"Circuit-breaker trips caused by permanent storage errors",
		[]string{"table"},
	)

	PendingSlots = NewGauge(
		"pending_slots",
		"Slots tracked without a terminal status",
	)
	SlotTransitionsTotal = NewCounterVec(
		"slot_transitions_total",
		"Slot status transitions applied",
		[]string{"status"},
	)
	StaleSlotsTotal = NewCounter(
		"stale_slots_total",
		"Slots reported stale by the timeout sweep",
	)
	TombstonesTotal = NewCounter(
		"tombstones_total",
		"Compensating tombstone mutations enqueued for dead slots",
	)

	CommitRecordsPublishedTotal = NewCounterVec(
		"commit_records_published_total",
		"Rooted-slot commit records by result",
		[]string{"result"},
	)
}
