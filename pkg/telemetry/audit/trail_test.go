package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memorySink struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
	closed  bool
}

func (m *memorySink) Write(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) all() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.entries...)
}

func TestTrail_RecordsThroughSink(t *testing.T) {
	sink := &memorySink{}
	trail := NewTrail(true, sink)

	trail.RecordPrediction("req-1", "client-a", 3, 12.5, true, "")
	trail.RecordAuthFailure("req-2", "client-b", "invalid_credential")
	trail.Close()

	entries := sink.all()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	byEvent := map[string]*Entry{}
	for _, e := range entries {
		byEvent[e.Event] = e
	}

	pred := byEvent[EventPrediction]
	if pred == nil || pred.RequestID != "req-1" || pred.InstanceCount != 3 || !pred.Success {
		t.Errorf("prediction entry = %+v", pred)
	}
	auth := byEvent[EventAuthFailure]
	if auth == nil || auth.RequestID != "req-2" || auth.Reason != "invalid_credential" {
		t.Errorf("auth entry = %+v", auth)
	}
	if !sink.closed {
		t.Error("Close must close the sink")
	}
}

func TestTrail_DisabledIsNoOp(t *testing.T) {
	sink := &memorySink{}
	trail := NewTrail(false, sink)

	trail.RecordPrediction("req-1", "c", 1, 1, true, "")
	trail.RecordAuthFailure("req-2", "c", "missing_credential")
	trail.Close()

	if len(sink.all()) != 0 {
		t.Error("disabled trail must emit nothing")
	}
}

func TestTrail_SinkFailureStaysLocal(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	trail := NewTrail(true, sink)

	// Must not panic or propagate; the failure is logged and dropped.
	trail.RecordPrediction("req-1", "c", 1, 1, true, "")
	trail.Close()
}

func TestTrail_NeverBlocksCaller(t *testing.T) {
	// A sink that blocks forever must not stall Record* calls once the
	// buffer fills; entries are dropped instead.
	block := make(chan struct{})
	trail := NewTrail(true, blockingSink{block})
	defer close(block)

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer+100; i++ {
			trail.RecordPrediction("req", "c", 1, 1, true, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recording blocked the caller")
	}

	if trail.Dropped() == 0 {
		t.Error("expected dropped entries once the buffer filled")
	}
}

type blockingSink struct{ block chan struct{} }

func (b blockingSink) Write(context.Context, *Entry) error { <-b.block; return nil }
func (b blockingSink) Close() error                        { return nil }

func TestTrail_SetEnabled(t *testing.T) {
	sink := &memorySink{}
	trail := NewTrail(true, sink)

	trail.SetEnabled(false)
	trail.RecordPrediction("silenced", "c", 1, 1, true, "")
	trail.SetEnabled(true)
	trail.RecordPrediction("recorded", "c", 1, 1, true, "")
	trail.Close()

	entries := sink.all()
	if len(entries) != 1 || entries[0].RequestID != "recorded" {
		t.Errorf("entries = %+v, want only the post-re-enable record", entries)
	}
}

func TestSQLiteSink(t *testing.T) {
	path := t.TempDir() + "/audit.db"
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("failed to open sink: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()

	old := &Entry{
		Event:          EventPrediction,
		RequestID:      "req-old",
		Timestamp:      time.Now().UTC().Add(-48 * time.Hour),
		ClientIdentity: "c",
		InstanceCount:  2,
		LatencyMs:      5,
		Success:        true,
	}
	fresh := &Entry{
		Event:          EventAuthFailure,
		RequestID:      "req-new",
		Timestamp:      time.Now().UTC(),
		ClientIdentity: "c",
		Reason:         "missing_credential",
	}

	if err := sink.Write(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := sink.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	removed, err := sink.PruneBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("pruned = %d, want 1", removed)
	}

	n, err = sink.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count after prune = %d, want 1", n)
	}
}

func TestScheduler_EmptyScheduleIsNoOp(t *testing.T) {
	s := NewScheduler(pruneFunc(func(context.Context, time.Time) (int64, error) {
		t.Error("pruner must not run without a schedule")
		return 0, nil
	}), "", 24*time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("empty schedule must not error: %v", err)
	}
	s.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(pruneFunc(func(context.Context, time.Time) (int64, error) {
		return 0, nil
	}), "not a cron expr", 24*time.Hour)

	if err := s.Start(); err == nil {
		t.Fatal("expected error for malformed schedule")
	}
}

type pruneFunc func(context.Context, time.Time) (int64, error)

func (f pruneFunc) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}
