// Package metrics implements the process-scoped inference metrics state and
// its Prometheus exposition.
//
// The collector keeps one set of counters and a fixed-bucket latency
// histogram for the process lifetime, mutated only through the synchronized
// Record* API; it is created at startup and injected into the pipeline, never
// reached for as ambient global state.
//
// Exposition happens through the prometheus.Collector interface: every
// scrape reads a consistent snapshot of the state and emits const metrics,
// so rendering never mutates the counters it reports.
//
// Invariants, held under any interleaving:
//
//	errors    == validation_errors + auth_errors + other_errors
//	requests  == predictions + errors
//	sum(histogram buckets) == requests
package metrics
