// Package audit emits one structured record per request outcome.
//
// Records are emitted asynchronously through a buffered channel and a single
// background worker, so emission never blocks or fails the request path:
// a full buffer drops the entry with a local warning, and sink failures are
// logged, never surfaced to the caller. Ordering across different requests
// is not guaranteed.
//
// When auditing is disabled the trail is a zero-cost no-op; call sites stay
// uniform and unconditional.
//
// By default entries go to the structured log. An optional sqlite sink
// persists them as well, with cron-scheduled retention pruning.
package audit
