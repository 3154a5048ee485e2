package inference

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies one kind in the closed error taxonomy. The set of codes,
// their transport status and their retriability are fixed for interop and
// must not grow per call site; unknown failures collapse to CodeInternal.
type Code string

const (
	CodeModelNotLoaded Code = "MODEL_NOT_LOADED"
	CodeModelLoad      Code = "MODEL_LOAD_ERROR"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodePrediction     Code = "PREDICTION_ERROR"
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeRateLimited    Code = "RATE_LIMIT_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Status returns the HTTP status for a code.
func (c Code) Status() int {
	switch c {
	case CodeModelNotLoaded, CodeModelLoad:
		return http.StatusServiceUnavailable
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether a caller may usefully retry after this code.
// Retriability is advisory; the server never retries on the caller's behalf.
func (c Code) Retriable() bool {
	switch c {
	case CodeModelNotLoaded, CodeModelLoad, CodeRateLimited:
		return true
	default:
		return false
	}
}

// ErrorRecord is the sole externally visible error shape, independent of
// which stage raised the failure. It doubles as the JSON error payload.
type ErrorRecord struct {
	Code      Code           `json:"error_code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// ValidationError reports the first constraint a batch violated.
// Reason is one of: "empty", "batch_too_large", "not_a_vector",
// "too_many_features", "non_finite", "invalid_body".
type ValidationError struct {
	Reason   string
	Index    int
	Position int
	Max      int
	Actual   int
	Value    string
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case "empty":
		return "batch is empty"
	case "batch_too_large":
		return fmt.Sprintf("batch has %d instances, limit is %d", e.Actual, e.Max)
	case "not_a_vector":
		return fmt.Sprintf("instance %d is not a numeric vector", e.Index)
	case "too_many_features":
		return fmt.Sprintf("instance %d has %d features, limit is %d", e.Index, e.Actual, e.Max)
	case "non_finite":
		return fmt.Sprintf("instance %d has a non-finite value at position %d", e.Index, e.Position)
	case "invalid_body":
		return "request body is not a valid prediction request"
	}
	return "validation failed: " + e.Reason
}

// details returns the structured reason fields for the error payload.
func (e *ValidationError) details() map[string]any {
	d := map[string]any{"reason": e.Reason}
	switch e.Reason {
	case "batch_too_large":
		d["max_batch_size"] = e.Max
		d["actual"] = e.Actual
	case "not_a_vector":
		d["index"] = e.Index
	case "too_many_features":
		d["index"] = e.Index
		d["max_features"] = e.Max
		d["actual"] = e.Actual
	case "non_finite":
		d["index"] = e.Index
		d["position"] = e.Position
		d["value"] = e.Value
	}
	return d
}

// AuthenticationError reports a rejected or missing credential.
type AuthenticationError struct {
	Reason string // "missing_credential" or "invalid_credential"
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "missing_credential" {
		return "missing API key"
	}
	return "invalid API key"
}

// NotLoadedError reports that the backend has no model loaded.
type NotLoadedError struct{}

func (e *NotLoadedError) Error() string { return "model not loaded" }

// LoadError reports a failed model load.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "model load failed: " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// PredictionError reports a backend failure on a validated batch.
type PredictionError struct {
	Message string
	Reason  string // optional, e.g. "timeout"
}

func (e *PredictionError) Error() string {
	if e.Message != "" {
		return "prediction failed: " + e.Message
	}
	return "prediction failed"
}

// RateLimitError reports that the caller exceeded its request allowance.
// The pipeline itself never raises it; the code exists so deployments that
// front this service with a limiter share the taxonomy.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rate limit exceeded" }

// Classifier maps failures to ErrorRecords. It is pure and total: every
// error, including ones no pipeline stage raised explicitly, produces a
// well-formed record.
type Classifier struct {
	// IncludeInternal copies the underlying error string of unclassified
	// failures into the record details. Off by default so internals never
	// leak to callers; enabled only at debug log level.
	IncludeInternal bool
}

// Classify converts a failure into the uniform error record.
func (c Classifier) Classify(err error, requestID string) ErrorRecord {
	rec := ErrorRecord{
		Details:   map[string]any{},
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}

	var (
		valErr  *ValidationError
		authErr *AuthenticationError
		nlErr   *NotLoadedError
		loadErr *LoadError
		prdErr  *PredictionError
		rlErr   *RateLimitError
	)

	switch {
	case errors.As(err, &valErr):
		rec.Code = CodeValidation
		rec.Message = valErr.Error()
		rec.Details = valErr.details()
	case errors.As(err, &authErr):
		rec.Code = CodeAuthentication
		rec.Message = authErr.Error()
		rec.Details["reason"] = authErr.Reason
	case errors.As(err, &nlErr):
		rec.Code = CodeModelNotLoaded
		rec.Message = nlErr.Error()
	case errors.As(err, &loadErr):
		rec.Code = CodeModelLoad
		rec.Message = loadErr.Error()
	case errors.As(err, &prdErr):
		rec.Code = CodePrediction
		rec.Message = prdErr.Error()
		if prdErr.Reason != "" {
			rec.Details["reason"] = prdErr.Reason
		}
	case errors.As(err, &rlErr):
		rec.Code = CodeRateLimited
		rec.Message = rlErr.Error()
		if rlErr.RetryAfter > 0 {
			rec.Details["retry_after_ms"] = rlErr.RetryAfter.Milliseconds()
		}
	default:
		rec.Code = CodeInternal
		rec.Message = "an internal error occurred"
		if c.IncludeInternal && err != nil {
			rec.Details["internal"] = err.Error()
		}
	}

	return rec
}
