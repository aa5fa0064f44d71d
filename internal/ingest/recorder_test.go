package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

type event struct {
	kind  string
	count int
}

type fakeSink struct {
	mu      sync.Mutex
	records []telemetry.Record
	events  []event
	err     error
	block   chan struct{}
}

func (s *fakeSink) InsertSamples(_ context.Context, records []telemetry.Record) error {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event{kind: "insert", count: len(records)})
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeSink) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event{kind: "clear"})
	s.records = nil
	return s.err
}

func (s *fakeSink) snapshot() ([]telemetry.Record, []event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Record(nil), s.records...), append([]event(nil), s.events...)
}

func record(id int64) telemetry.Record {
	return telemetry.Record{SessionID: id, Sample: telemetry.Placeholder()}
}

func TestRecorder_WritesInOrder(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(WithSink("fake", sink), WithMaxBatchSize(3))
	r.Start()
	defer r.Close()

	ctx := context.Background()
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, r.Enqueue(ctx, record(i)))
	}
	require.NoError(t, r.Sync(ctx))

	records, events := sink.snapshot()
	require.Len(t, records, 10)
	for i, rec := range records {
		require.Equal(t, int64(i+1), rec.SessionID)
	}
	for _, e := range events {
		require.LessOrEqual(t, e.count, 3)
	}

	stats := r.Stats()
	require.Equal(t, uint64(10), stats.Written)
	require.Zero(t, stats.Failed)
}

func TestRecorder_ClearAfterQueuedInserts(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(WithSink("fake", sink))

	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, record(1)))
	require.NoError(t, r.Enqueue(ctx, record(2)))

	r.Start()
	defer r.Close()

	require.NoError(t, r.Clear(ctx))

	records, events := sink.snapshot()
	require.Empty(t, records)
	require.Equal(t, []event{{kind: "insert", count: 2}, {kind: "clear"}}, events)
}

func TestRecorder_SinkFailureIsLogged(t *testing.T) {
	failing := &fakeSink{err: errors.New("disk full")}
	healthy := &fakeSink{}
	r := NewRecorder(WithSink("failing", failing), WithSink("healthy", healthy))
	r.Start()
	defer r.Close()

	ctx := context.Background()
	require.NoError(t, r.Enqueue(ctx, record(1)))
	require.NoError(t, r.Sync(ctx))

	records, _ := healthy.snapshot()
	require.Len(t, records, 1)
	require.Equal(t, uint64(1), r.Stats().Failed)

	err := r.Clear(ctx)
	require.ErrorContains(t, err, "disk full")
}

func TestRecorder_Backpressure(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(WithSink("fake", sink), WithQueueSize(1))

	require.NoError(t, r.Enqueue(context.Background(), record(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Enqueue(ctx, record(2)), context.DeadlineExceeded)

	require.NoError(t, r.Close())
	records, _ := sink.snapshot()
	require.Len(t, records, 1)
}

func TestRecorder_EnqueueAfterCancel(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(WithSink("fake", sink), WithQueueSize(256))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := int64(1); i <= 200; i++ {
		require.NoError(t, r.Enqueue(ctx, record(i)), "enqueue %d", i)
	}

	r.Start()
	require.NoError(t, r.Close())

	records, _ := sink.snapshot()
	require.Len(t, records, 200)
}

func TestRecorder_Close(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	r := NewRecorder(WithSink("fake", sink), WithQueueSize(4))
	r.Start()

	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, r.Enqueue(ctx, record(i)))
	}

	closed := make(chan struct{})
	go func() {
		_ = r.Close()
		close(closed)
	}()

	close(sink.block)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}

	records, _ := sink.snapshot()
	require.Len(t, records, 4, "queued records must be drained on close")

	require.ErrorIs(t, r.Enqueue(ctx, record(5)), ErrRecorderClosed)
	require.ErrorIs(t, r.Sync(ctx), ErrRecorderClosed)
	require.NoError(t, r.Close())
}
