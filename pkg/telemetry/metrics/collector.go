package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BucketBoundsMs are the inclusive upper bounds of the latency histogram,
// in milliseconds. A latency falls into the first bucket whose bound it
// does not exceed; anything above the last bound lands in +Inf.
var BucketBoundsMs = []float64{10, 50, 100, 500, 1000}

// FailureClass selects which error counter a failure increments alongside
// the total error count.
type FailureClass int

const (
	FailureOther FailureClass = iota
	FailureValidation
	FailureAuth
)

// State is a copy of the collector's counters at one point in time.
// Buckets holds non-cumulative per-bucket counts indexed like BucketBoundsMs,
// with the final element counting the +Inf overflow bucket.
type State struct {
	Requests         uint64
	Predictions      uint64
	Errors           uint64
	ValidationErrors uint64
	AuthErrors       uint64
	OtherErrors      uint64
	Instances        uint64
	LatencySumMs     float64
	Buckets          []uint64
}

// Collector accumulates inference request metrics and exposes them as
// Prometheus metric families labelled with the model name and version.
//
// All counters are monotonically non-decreasing for the process lifetime.
// Mutation is serialized by a mutex; the request count equals the number of
// completed requests exactly, under any interleaving.
type Collector struct {
	mu      sync.Mutex
	state   State
	buckets []uint64

	model   string
	version string

	requestsDesc    *prometheus.Desc
	predictionsDesc *prometheus.Desc
	instancesDesc   *prometheus.Desc
	errorsDesc      *prometheus.Desc
	valErrorsDesc   *prometheus.Desc
	authErrorsDesc  *prometheus.Desc
	avgLatencyDesc  *prometheus.Desc
	latencyDesc     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for the given model identity and
// registers it with registry. A nil registry creates a private one.
func NewCollector(model, version string, registry *prometheus.Registry) *Collector {
	labels := prometheus.Labels{"model": model, "version": version}

	c := &Collector{
		buckets: make([]uint64, len(BucketBoundsMs)+1),
		model:   model,
		version: version,

		requestsDesc: prometheus.NewDesc(
			"inference_requests_total",
			"Total number of inference requests",
			nil, labels,
		),
		predictionsDesc: prometheus.NewDesc(
			"inference_predictions_total",
			"Total successful predictions",
			nil, labels,
		),
		instancesDesc: prometheus.NewDesc(
			"inference_instances_total",
			"Total instances processed across successful predictions",
			nil, labels,
		),
		errorsDesc: prometheus.NewDesc(
			"inference_errors_total",
			"Total failed inference requests",
			nil, labels,
		),
		valErrorsDesc: prometheus.NewDesc(
			"inference_validation_errors_total",
			"Total requests rejected by batch validation",
			nil, labels,
		),
		authErrorsDesc: prometheus.NewDesc(
			"inference_auth_errors_total",
			"Total requests rejected by authentication",
			nil, labels,
		),
		avgLatencyDesc: prometheus.NewDesc(
			"inference_latency_seconds",
			"Average inference latency",
			nil, labels,
		),
		latencyDesc: prometheus.NewDesc(
			"inference_latency",
			"Inference latency distribution in milliseconds",
			nil, labels,
		),
	}

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	registry.MustRegister(c)

	return c
}

// RecordSuccess records one completed prediction request.
func (c *Collector) RecordSuccess(latency time.Duration, instanceCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Requests++
	c.state.Predictions++
	c.state.Instances += uint64(instanceCount)
	c.observeLatency(latency)
}

// RecordFailure records one failed request of the given class.
func (c *Collector) RecordFailure(latency time.Duration, class FailureClass) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Requests++
	c.state.Errors++
	switch class {
	case FailureValidation:
		c.state.ValidationErrors++
	case FailureAuth:
		c.state.AuthErrors++
	default:
		c.state.OtherErrors++
	}
	c.observeLatency(latency)
}

// observeLatency must be called with the mutex held.
func (c *Collector) observeLatency(latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)
	c.state.LatencySumMs += ms

	idx := len(BucketBoundsMs) // +Inf overflow
	for i, bound := range BucketBoundsMs {
		if ms <= bound {
			idx = i
			break
		}
	}
	c.buckets[idx]++
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.Buckets = append([]uint64(nil), c.buckets...)
	return s
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsDesc
	ch <- c.predictionsDesc
	ch <- c.instancesDesc
	ch <- c.errorsDesc
	ch <- c.valErrorsDesc
	ch <- c.authErrorsDesc
	ch <- c.avgLatencyDesc
	ch <- c.latencyDesc
}

// Collect implements prometheus.Collector. It reads one consistent snapshot
// and emits const metrics; collecting has no effect on the counters.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.Snapshot()

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}
	counter(c.requestsDesc, s.Requests)
	counter(c.predictionsDesc, s.Predictions)
	counter(c.instancesDesc, s.Instances)
	counter(c.errorsDesc, s.Errors)
	counter(c.valErrorsDesc, s.ValidationErrors)
	counter(c.authErrorsDesc, s.AuthErrors)

	avgSeconds := 0.0
	if s.Requests > 0 {
		avgSeconds = s.LatencySumMs / float64(s.Requests) / 1000.0
	}
	ch <- prometheus.MustNewConstMetric(c.avgLatencyDesc, prometheus.GaugeValue, avgSeconds)

	// Cumulative counts per upper bound; +Inf is implied by the total count.
	cumulative := make(map[float64]uint64, len(BucketBoundsMs))
	var running uint64
	for i, bound := range BucketBoundsMs {
		running += s.Buckets[i]
		cumulative[bound] = running
	}
	ch <- prometheus.MustNewConstHistogram(c.latencyDesc, s.Requests, s.LatencySumMs, cumulative)
}
