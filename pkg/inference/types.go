package inference

import (
	"context"
	"time"
)

// Batch is an ordered collection of feature vectors submitted in one request.
type Batch [][]float64

// Prediction is the outcome for a single instance in a batch.
//
// Class is the arg-max position of Probabilities and Confidence is the
// corresponding probability. The pipeline trusts the backend for both and
// does not recompute them.
type Prediction struct {
	Class         int       `json:"prediction"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// RequestContext carries the identity of a single inbound request.
// It is created once by the gate, before any validation, and is immutable
// for the lifetime of the request.
type RequestContext struct {
	RequestID      string
	ClientIdentity string
	ReceivedAt     time.Time
}

// PredictionResponse is the success payload returned by the pipeline.
// RequestID is always present so that the response, the log line and the
// metric increment for one request can be correlated.
type PredictionResponse struct {
	Predictions     []Prediction `json:"predictions"`
	ModelName       string       `json:"model_name"`
	ModelVersion    string       `json:"model_version"`
	InferenceTimeMs float64      `json:"inference_time_ms"`
	RequestID       string       `json:"request_id"`
}

// Backend is the opaque prediction collaborator behind the pipeline.
//
// Predict is only called with a batch the validator has accepted. It may
// block; the pipeline arms an optional deadline around it. Implementations
// must fail with NotLoadedError while Loaded reports false.
type Backend interface {
	Loaded() bool
	Predict(ctx context.Context, batch Batch) ([]Prediction, error)
}
