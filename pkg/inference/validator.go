package inference

import (
	"math"
	"strconv"
	"sync/atomic"
)

// Limits bounds the shape of an acceptable batch.
type Limits struct {
	MaxBatchSize int
	MaxFeatures  int
}

// DefaultLimits returns the default batch limits.
func DefaultLimits() Limits {
	return Limits{MaxBatchSize: 100, MaxFeatures: 1000}
}

// Validator checks a batch of feature vectors against shape, size and
// numeric constraints before it reaches the backend.
//
// Validation is eager and deterministic: the batch-level rules run first,
// then each instance is scanned in order (shape, then length, then every
// position for finiteness), and the first violation wins. Identical input
// always yields the identical rejection.
//
// Limits can be swapped at runtime (config hot-reload); a Validator is safe
// for concurrent use.
type Validator struct {
	limits atomic.Pointer[Limits]
}

// NewValidator creates a validator with the given limits.
func NewValidator(limits Limits) *Validator {
	v := &Validator{}
	v.limits.Store(&limits)
	return v
}

// SetLimits replaces the limits. In-flight validations keep the limits they
// started with.
func (v *Validator) SetLimits(limits Limits) {
	v.limits.Store(&limits)
}

// Limits returns the current limits.
func (v *Validator) Limits() Limits {
	return *v.limits.Load()
}

// Validate checks raw instances as decoded from JSON (or built
// programmatically) and returns the accepted batch, or the first violation.
//
// An instance may be a []float64 or a []any whose elements are all float64;
// anything else is rejected as not_a_vector.
func (v *Validator) Validate(instances []any) (Batch, *ValidationError) {
	limits := v.Limits()

	if len(instances) == 0 {
		return nil, &ValidationError{Reason: "empty"}
	}
	if len(instances) > limits.MaxBatchSize {
		return nil, &ValidationError{
			Reason: "batch_too_large",
			Max:    limits.MaxBatchSize,
			Actual: len(instances),
		}
	}

	batch := make(Batch, 0, len(instances))
	for i, raw := range instances {
		vec, ok := asVector(raw)
		if !ok {
			return nil, &ValidationError{Reason: "not_a_vector", Index: i}
		}
		if len(vec) > limits.MaxFeatures {
			return nil, &ValidationError{
				Reason: "too_many_features",
				Index:  i,
				Max:    limits.MaxFeatures,
				Actual: len(vec),
			}
		}
		for pos, val := range vec {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return nil, &ValidationError{
					Reason:   "non_finite",
					Index:    i,
					Position: pos,
					Value:    strconv.FormatFloat(val, 'g', -1, 64),
				}
			}
		}
		batch = append(batch, vec)
	}

	return batch, nil
}

// asVector coerces one raw instance into a feature vector.
func asVector(raw any) ([]float64, bool) {
	switch inst := raw.(type) {
	case []float64:
		return inst, true
	case []any:
		vec := make([]float64, len(inst))
		for i, elem := range inst {
			f, ok := elem.(float64)
			if !ok {
				return nil, false
			}
			vec[i] = f
		}
		return vec, true
	default:
		return nil, false
	}
}
