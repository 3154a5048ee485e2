// Package model provides the prediction backend implementations served by
// the pipeline.
package model

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"mercator-hq/callisto/pkg/inference"
)

const (
	demoInputSize  = 10
	demoHidden1    = 32
	demoHidden2    = 16
	demoClasses    = 2
	demoWeightSeed = 7
)

// DemoBackend is a small fixed-weight classifier standing in for a real
// model artifact: two ReLU layers and a softmax over two classes, with the
// input padded or truncated to ten features. Weights come from a seeded
// generator, so identical input always produces identical output.
//
// It is selected when MODEL_URI is empty or "demo". A non-demo URI also
// falls back here; real artifact loading lives with the deployment system,
// not this service.
type DemoBackend struct {
	loaded atomic.Bool
	mu     sync.RWMutex

	w1 [][]float64
	b1 []float64
	w2 [][]float64
	b2 []float64
	w3 [][]float64
	b3 []float64

	uri    string
	logger *slog.Logger
}

var _ inference.Backend = (*DemoBackend)(nil)

// NewDemoBackend creates an unloaded demo backend for the given model URI.
func NewDemoBackend(uri string) *DemoBackend {
	return &DemoBackend{
		uri:    uri,
		logger: slog.Default().With("component", "model"),
	}
}

// Load initializes the weights. Predict fails with NotLoadedError until
// Load has succeeded.
func (b *DemoBackend) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.uri != "" && b.uri != "demo" {
		b.logger.Info("model URI configured, serving demo weights", "uri", b.uri)
	}

	rng := rand.New(rand.NewSource(demoWeightSeed))
	b.w1, b.b1 = randomLayer(rng, demoInputSize, demoHidden1)
	b.w2, b.b2 = randomLayer(rng, demoHidden1, demoHidden2)
	b.w3, b.b3 = randomLayer(rng, demoHidden2, demoClasses)

	b.loaded.Store(true)
	b.logger.Info("model loaded", "input_size", demoInputSize, "classes", demoClasses)
	return nil
}

// Loaded reports whether the backend can serve predictions.
func (b *DemoBackend) Loaded() bool { return b.loaded.Load() }

// Predict runs the classifier over each instance in the batch.
func (b *DemoBackend) Predict(ctx context.Context, batch inference.Batch) ([]inference.Prediction, error) {
	if !b.loaded.Load() {
		return nil, &inference.NotLoadedError{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	outcomes := make([]inference.Prediction, 0, len(batch))
	for _, instance := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		probs := b.forward(fitInput(instance))

		class := 0
		for i, p := range probs {
			if p > probs[class] {
				class = i
			}
		}

		outcomes = append(outcomes, inference.Prediction{
			Class:         class,
			Confidence:    probs[class],
			Probabilities: probs,
		})
	}

	return outcomes, nil
}

// forward applies the three layers. Caller holds the read lock.
func (b *DemoBackend) forward(in []float64) []float64 {
	h1 := relu(affine(in, b.w1, b.b1))
	h2 := relu(affine(h1, b.w2, b.b2))
	return softmax(affine(h2, b.w3, b.b3))
}

// fitInput pads short vectors with zeros and truncates long ones to the
// model's fixed input size, as the original demo model did.
func fitInput(instance []float64) []float64 {
	fitted := make([]float64, demoInputSize)
	copy(fitted, instance)
	return fitted
}

func randomLayer(rng *rand.Rand, in, out int) ([][]float64, []float64) {
	scale := 1.0 / math.Sqrt(float64(in))
	w := make([][]float64, out)
	for i := range w {
		w[i] = make([]float64, in)
		for j := range w[i] {
			w[i][j] = rng.NormFloat64() * scale
		}
	}
	bias := make([]float64, out)
	for i := range bias {
		bias[i] = rng.NormFloat64() * 0.01
	}
	return w, bias
}

func affine(in []float64, w [][]float64, bias []float64) []float64 {
	out := make([]float64, len(w))
	for i, row := range w {
		sum := bias[i]
		for j, wj := range row {
			sum += wj * in[j]
		}
		out[i] = sum
	}
	return out
}

func relu(v []float64) []float64 {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
	return v
}

func softmax(v []float64) []float64 {
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}

// Info describes the backend for the model metadata endpoint.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	URI       string `json:"uri"`
	Framework string `json:"framework"`
	Loaded    bool   `json:"loaded"`
	Device    string `json:"device"`
}
