package inference

// Assemble builds the success payload from backend outcomes and request
// metadata. Pure; the request id is repeated into the payload so the caller
// can correlate it with the X-Request-ID header and the audit record.
func Assemble(requestID string, outcomes []Prediction, modelName, modelVersion string, elapsedMs float64) *PredictionResponse {
	if outcomes == nil {
		outcomes = []Prediction{}
	}
	return &PredictionResponse{
		Predictions:     outcomes,
		ModelName:       modelName,
		ModelVersion:    modelVersion,
		InferenceTimeMs: elapsedMs,
		RequestID:       requestID,
	}
}

// AssembleError normalizes an error record into the error payload. Pure.
func AssembleError(rec ErrorRecord) ErrorRecord {
	if rec.Details == nil {
		rec.Details = map[string]any{}
	}
	return rec
}
