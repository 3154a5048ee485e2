package inference

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestCode_StatusTable(t *testing.T) {
	tests := []struct {
		code          Code
		wantStatus    int
		wantRetriable bool
	}{
		{CodeModelNotLoaded, http.StatusServiceUnavailable, true},
		{CodeModelLoad, http.StatusServiceUnavailable, true},
		{CodeValidation, http.StatusUnprocessableEntity, false},
		{CodePrediction, http.StatusInternalServerError, false},
		{CodeAuthentication, http.StatusUnauthorized, false},
		{CodeRateLimited, http.StatusTooManyRequests, true},
		{CodeInternal, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.Status(); got != tt.wantStatus {
				t.Errorf("Status() = %d, want %d", got, tt.wantStatus)
			}
			if got := tt.code.Retriable(); got != tt.wantRetriable {
				t.Errorf("Retriable() = %v, want %v", got, tt.wantRetriable)
			}
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := Classifier{}

	tests := []struct {
		name     string
		err      error
		wantCode Code
	}{
		{"validation", &ValidationError{Reason: "empty"}, CodeValidation},
		{"auth", &AuthenticationError{Reason: "missing_credential"}, CodeAuthentication},
		{"not loaded", &NotLoadedError{}, CodeModelNotLoaded},
		{"load failure", &LoadError{Err: errors.New("corrupt weights")}, CodeModelLoad},
		{"prediction", &PredictionError{Message: "boom"}, CodePrediction},
		{"rate limit", &RateLimitError{}, CodeRateLimited},
		{"wrapped validation", fmt.Errorf("stage: %w", &ValidationError{Reason: "empty"}), CodeValidation},
		{"plain error", errors.New("something unexpected"), CodeInternal},
		{"nil", nil, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.Classify(tt.err, "req-1")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", rec.Code, tt.wantCode)
			}
			if rec.RequestID != "req-1" {
				t.Errorf("request id = %q, want req-1", rec.RequestID)
			}
			if rec.Details == nil {
				t.Error("details must never be nil")
			}
			if rec.Timestamp.IsZero() {
				t.Error("timestamp must be set")
			}
			if rec.Message == "" {
				t.Error("message must be set")
			}
		})
	}
}

func TestClassifier_ValidationDetails(t *testing.T) {
	c := Classifier{}

	rec := c.Classify(&ValidationError{
		Reason: "batch_too_large",
		Max:    100,
		Actual: 101,
	}, "req-2")

	if rec.Details["max_batch_size"] != 100 {
		t.Errorf("details.max_batch_size = %v, want 100", rec.Details["max_batch_size"])
	}
	if rec.Details["actual"] != 101 {
		t.Errorf("details.actual = %v, want 101", rec.Details["actual"])
	}

	rec = c.Classify(&ValidationError{
		Reason:   "non_finite",
		Index:    2,
		Position: 5,
		Value:    "NaN",
	}, "req-3")

	if rec.Details["index"] != 2 || rec.Details["position"] != 5 {
		t.Errorf("details = %v, want index=2 position=5", rec.Details)
	}
}

func TestClassifier_InternalDetailLeak(t *testing.T) {
	err := errors.New("secret internal state")

	rec := Classifier{}.Classify(err, "req-4")
	if _, ok := rec.Details["internal"]; ok {
		t.Error("internal details must not leak by default")
	}
	if rec.Message != "an internal error occurred" {
		t.Errorf("message = %q, want generic message", rec.Message)
	}

	rec = Classifier{IncludeInternal: true}.Classify(err, "req-4")
	if rec.Details["internal"] != "secret internal state" {
		t.Errorf("details.internal = %v, want underlying error string", rec.Details["internal"])
	}
}

func TestClassifier_PredictionTimeoutReason(t *testing.T) {
	rec := Classifier{}.Classify(&PredictionError{Message: "deadline", Reason: "timeout"}, "req-5")
	if rec.Code != CodePrediction {
		t.Fatalf("code = %q, want %q", rec.Code, CodePrediction)
	}
	if rec.Details["reason"] != "timeout" {
		t.Errorf("details.reason = %v, want timeout", rec.Details["reason"])
	}
}

func TestClassifier_RateLimitRetryAfter(t *testing.T) {
	rec := Classifier{}.Classify(&RateLimitError{RetryAfter: 2 * time.Second}, "req-6")
	if rec.Details["retry_after_ms"] != int64(2000) {
		t.Errorf("details.retry_after_ms = %v, want 2000", rec.Details["retry_after_ms"])
	}
}
