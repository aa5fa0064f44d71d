package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

const (
	// DefaultQueueSize is the number of samples the recorder buffers before producers block
	DefaultQueueSize = 1024

	// DefaultMaxBatchSize is the number of queued samples handed to sinks at once
	DefaultMaxBatchSize = 100

	// DefaultWriteTimeout bounds a single sink call
	DefaultWriteTimeout = 10 * time.Second
)

// ErrRecorderClosed is returned when work is submitted to a closed Recorder
var ErrRecorderClosed = errors.New("recorder closed")

// Sink persists stamped samples
type Sink interface {
	InsertSamples(ctx context.Context, records []telemetry.Record) error
	Clear(ctx context.Context) error
}

type op uint8

const (
	opInsert op = iota
	opSync
	opClear
)

type request struct {
	op     op
	record telemetry.Record
	done   chan error
}

type namedSink struct {
	name string
	sink Sink
}

// WithSink adds a sink. Every batch is written to every sink in the order they were added.
func WithSink(name string, sink Sink) func(*Recorder) {
	return func(r *Recorder) {
		r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
	}
}

// WithQueueSize sets the capacity of the persistence queue
func WithQueueSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		if size > 0 {
			r.queueSize = size
		}
	}
}

// WithMaxBatchSize sets the maximum number of samples handed to a sink at once
func WithMaxBatchSize(size int) func(*Recorder) {
	return func(r *Recorder) {
		if size > 0 {
			r.maxBatchSize = size
		}
	}
}

// WithWriteTimeout bounds a single sink call
func WithWriteTimeout(d time.Duration) func(*Recorder) {
	return func(r *Recorder) {
		r.writeTimeout = d
	}
}

// WithRecorderLogger sets the logger for the recorder
func WithRecorderLogger(logger *slog.Logger) func(*Recorder) {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("component", "recorder"))
	}
}

// RecorderStats are cumulative counters of the recorder
type RecorderStats struct {
	Written uint64 // samples accepted by every sink
	Failed  uint64 // samples at least one sink failed to persist
	Queued  int    // samples waiting in the queue
}

// Recorder is a bounded persistence queue drained by a single worker.
// Writes never block the read loop beyond the queue capacity; failures are logged, not retried.
type Recorder struct {
	sinks        []namedSink
	queueSize    int
	maxBatchSize int
	writeTimeout time.Duration
	logger       *slog.Logger

	queue chan request

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	wg        sync.WaitGroup

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder creates a Recorder. Call Start to begin draining the queue.
func NewRecorder(options ...func(*Recorder)) *Recorder {
	r := Recorder{
		queueSize:    DefaultQueueSize,
		maxBatchSize: DefaultMaxBatchSize,
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	r.queue = make(chan request, r.queueSize)
	return &r
}

// Start launches the worker. Subsequent calls are no-ops.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Enqueue queues a record for persistence. It blocks while the queue is full,
// until space frees up or ctx is done.
func (r *Recorder) Enqueue(ctx context.Context, record telemetry.Record) error {
	return r.submit(ctx, request{op: opInsert, record: record})
}

// Sync waits until every record queued before the call has been handed to the sinks
func (r *Recorder) Sync(ctx context.Context) error {
	return r.roundTrip(ctx, opSync)
}

// Clear deletes persisted data in every sink once the records queued before the call are written
func (r *Recorder) Clear(ctx context.Context) error {
	return r.roundTrip(ctx, opClear)
}

// Stats returns a snapshot of the recorder counters
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
		Queued:  len(r.queue),
	}
}

// Close stops accepting work, drains the queue and waits for the worker to exit
func (r *Recorder) Close() error {
	// producers blocked on a full queue hold the read lock until the worker makes room
	r.Start()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

func (r *Recorder) submit(ctx context.Context, req request) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRecorderClosed
	}

	// a cancelled ctx only matters when the queue is full
	select {
	case r.queue <- req:
		return nil
	default:
	}

	select {
	case r.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) roundTrip(ctx context.Context, op op) error {
	done := make(chan error, 1)
	if err := r.submit(ctx, request{op: op, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	batch := make([]telemetry.Record, 0, r.maxBatchSize)
	for req := range r.queue {
		if req.op != opInsert {
			r.handle(req)
			continue
		}

		batch = append(batch[:0], req.record)

		var next *request
	drain:
		for len(batch) < r.maxBatchSize {
			select {
			case req, ok := <-r.queue:
				if !ok {
					break drain
				}
				if req.op != opInsert {
					next = &req
					break drain
				}
				batch = append(batch, req.record)
			default:
				break drain
			}
		}

		r.write(batch)
		if next != nil {
			r.handle(*next)
		}
	}
}

func (r *Recorder) handle(req request) {
	var err error
	if req.op == opClear {
		err = r.clear()
	}
	req.done <- err
}

func (r *Recorder) write(batch []telemetry.Record) {
	var failed bool
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := s.sink.InsertSamples(ctx, batch)
		cancel()

		if err != nil {
			failed = true
			r.logger.Error(fmt.Sprintf("persisting samples failed: %s", err.Error()),
				slog.String("sink", s.name),
				slog.Int("count", len(batch)))
		}
	}

	if failed {
		r.failed.Add(uint64(len(batch)))
		return
	}
	r.written.Add(uint64(len(batch)))
}

func (r *Recorder) clear() error {
	var errs []error
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := s.sink.Clear(ctx)
		cancel()

		if err != nil {
			r.logger.Error(fmt.Sprintf("clearing sink failed: %s", err.Error()), slog.String("sink", s.name))
			errs = append(errs, fmt.Errorf("clearing %s: %w", s.name, err))
			continue
		}
		r.logger.Info("sink cleared", slog.String("sink", s.name))
	}
	return errors.Join(errs...)
}
