package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event names the two kinds of audit records.
const (
	EventPrediction  = "prediction"
	EventAuthFailure = "auth_failure"
)

// Entry is one write-once audit record. It is emitted and forgotten; the
// trail retains nothing in-process once the worker has handed it off.
type Entry struct {
	Event          string    `json:"event"`
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	ClientIdentity string    `json:"client_identity"`

	// Prediction fields.
	InstanceCount int     `json:"instance_count,omitempty"`
	LatencyMs     float64 `json:"latency_ms,omitempty"`
	Success       bool    `json:"success,omitempty"`
	Error         string  `json:"error,omitempty"`

	// Auth-failure fields.
	Reason string `json:"reason,omitempty"`
}

// Sink persists audit entries beyond the structured log.
type Sink interface {
	Write(ctx context.Context, e *Entry) error
	Close() error
}

// Trail records request outcomes. Safe for concurrent use.
type Trail struct {
	enabled atomic.Bool
	ch      chan *Entry
	sink    Sink
	logger  *slog.Logger

	writeTimeout time.Duration
	dropped      atomic.Uint64

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

const defaultBuffer = 1000

// NewTrail creates an audit trail. sink may be nil, in which case entries
// only go to the structured log. A disabled trail starts no worker and
// every Record* call returns immediately.
func NewTrail(enabled bool, sink Sink) *Trail {
	t := &Trail{
		sink:         sink,
		logger:       slog.Default().With("component", "audit"),
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
	t.enabled.Store(enabled)

	if enabled {
		t.ch = make(chan *Entry, defaultBuffer)
		t.wg.Add(1)
		go t.worker()
	}

	return t
}

// Enabled reports whether the trail records anything.
func (t *Trail) Enabled() bool { return t.enabled.Load() }

// SetEnabled toggles recording at runtime. A trail created disabled has no
// worker and stays a no-op; toggling only silences or resumes an enabled one.
func (t *Trail) SetEnabled(enabled bool) {
	if t.ch == nil {
		return
	}
	t.enabled.Store(enabled)
}

// RecordPrediction records the outcome of one prediction request.
func (t *Trail) RecordPrediction(requestID, clientIdentity string, instanceCount int, latencyMs float64, success bool, errorMessage string) {
	if !t.enabled.Load() {
		return
	}
	t.enqueue(&Entry{
		Event:          EventPrediction,
		RequestID:      requestID,
		Timestamp:      time.Now().UTC(),
		ClientIdentity: clientIdentity,
		InstanceCount:  instanceCount,
		LatencyMs:      latencyMs,
		Success:        success,
		Error:          errorMessage,
	})
}

// RecordAuthFailure records a rejected credential.
func (t *Trail) RecordAuthFailure(requestID, clientIdentity, reason string) {
	if !t.enabled.Load() {
		return
	}
	t.enqueue(&Entry{
		Event:          EventAuthFailure,
		RequestID:      requestID,
		Timestamp:      time.Now().UTC(),
		ClientIdentity: clientIdentity,
		Reason:         reason,
	})
}

// Dropped returns the number of entries discarded because the buffer was
// full.
func (t *Trail) Dropped() uint64 { return t.dropped.Load() }

// enqueue hands an entry to the worker without ever blocking the caller.
func (t *Trail) enqueue(e *Entry) {
	select {
	case t.ch <- e:
	default:
		t.dropped.Add(1)
		t.logger.Warn("audit buffer full, entry dropped",
			"event", e.Event,
			"request_id", e.RequestID,
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	for {
		select {
		case e := <-t.ch:
			t.emit(e)
		case <-t.done:
			// Drain what is already buffered, then stop.
			for {
				select {
				case e := <-t.ch:
					t.emit(e)
				default:
					return
				}
			}
		}
	}
}

func (t *Trail) emit(e *Entry) {
	t.logger.Info("audit",
		"event", e.Event,
		"request_id", e.RequestID,
		"client_identity", e.ClientIdentity,
		"instance_count", e.InstanceCount,
		"latency_ms", e.LatencyMs,
		"success", e.Success,
		"error", e.Error,
		"reason", e.Reason,
	)

	if t.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()

	if err := t.sink.Write(ctx, e); err != nil {
		t.logger.Error("audit sink write failed",
			"error", err,
			"request_id", e.RequestID,
		)
	}
}

// Close stops the worker after draining buffered entries and closes the
// sink. Records arriving after Close are dropped.
func (t *Trail) Close() error {
	var sinkErr error
	t.stopOnce.Do(func() {
		t.enabled.Store(false)
		if t.ch != nil {
			close(t.done)
			t.wg.Wait()
		}
		if t.sink != nil {
			sinkErr = t.sink.Close()
		}
	})
	return sinkErr
}
