package metrics

// Collector receives engine instrumentation. Implementations must be safe for
// concurrent use.
type Collector interface {
	// RecordGrab counts one grab by user-visible outcome and observes its latency.
	RecordGrab(outcome string, seconds float64)
	// RecordSettlement counts a reconciliation attempt (settled, failed, skipped).
	RecordSettlement(result string)
	// SetActivePools reports how many activities have a loaded claim pool.
	SetActivePools(n int)
	// IncrementInconsistency counts grabs where the durable store rejected a
	// share the coordinator handed out.
	IncrementInconsistency()
	// RecordRecovery counts coordinator rebuilds from the store by result.
	RecordRecovery(result string)
}
