// Package inference implements the request-handling pipeline that fronts
// the prediction backend.
//
// The pipeline is a fixed sequence of stages per request:
//
//	Gate -> Validator -> Backend -> Assembler
//
// with the metrics collector and audit trail observing entry and exit, and
// the error taxonomy intercepting any failure raised along the path.
//
// Failures are threaded explicitly as typed errors rather than panics.
// Every failure that reaches the boundary is classified into a closed set of
// error codes (see Classify); anything the taxonomy does not recognize
// collapses to CodeInternal instead of propagating unformatted.
//
// Gate, Validator and the assembler functions are stateless and safe for
// concurrent use. The only shared mutable state in the pipeline is the
// metrics collector, which serializes its own updates.
package inference
