package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/frame"
	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
	"github.com/roman-kulish/rig-telemetry/internal/transport"
)

const (
	// DefaultReadBufferSize is the largest chunk requested from the port per read
	DefaultReadBufferSize = 4096

	// maxLoggedLine caps how much of a rejected record goes into the log
	maxLoggedLine = 512
)

// ErrBrokenPipe is returned when reading from the port fails for a reason other than closing it
var ErrBrokenPipe = errors.New("broken pipe")

// Publisher receives every decoded sample, and a placeholder for every rejected record
type Publisher interface {
	Publish(s *telemetry.Sample)
}

// Enqueuer accepts stamped samples for persistence
type Enqueuer interface {
	Enqueue(ctx context.Context, record telemetry.Record) error
}

// WithLogger sets the logger for the pipeline
func WithLogger(logger *slog.Logger) func(*Pipeline) {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock sets the time source used to stamp samples
func WithClock(now func() time.Time) func(*Pipeline) {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithLocation sets the location capture date and time are rendered in
func WithLocation(loc *time.Location) func(*Pipeline) {
	return func(p *Pipeline) {
		p.loc = loc
	}
}

// WithSessionID tags every recorded sample with the storage session
func WithSessionID(id int64) func(*Pipeline) {
	return func(p *Pipeline) {
		p.sessionID = id
	}
}

// WithReassembler sets the reassembler, e.g. one with a custom frame size limit
func WithReassembler(r *frame.Reassembler) func(*Pipeline) {
	return func(p *Pipeline) {
		p.reassembler = r
	}
}

// WithReadBufferSize sets the largest chunk requested per read
func WithReadBufferSize(size int) func(*Pipeline) {
	return func(p *Pipeline) {
		if size > 0 {
			p.readBufferSize = size
		}
	}
}

// Stats are cumulative counters of a pipeline run
type Stats struct {
	Accepted  uint64
	Rejected  uint64
	BytesRead uint64
}

// Pipeline reads the port, recovers records, decodes them and hands the results
// to the publisher and the recorder.
type Pipeline struct {
	port        io.Reader
	publisher   Publisher
	recorder    Enqueuer
	reassembler *frame.Reassembler

	now            func() time.Time
	loc            *time.Location
	sessionID      int64
	readBufferSize int
	logger         *slog.Logger

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	bytesRead atomic.Uint64
}

// NewPipeline creates a Pipeline with a fresh reassembler and a discard logger
func NewPipeline(port io.Reader, publisher Publisher, recorder Enqueuer, options ...func(*Pipeline)) *Pipeline {
	p := Pipeline{
		port:           port,
		publisher:      publisher,
		recorder:       recorder,
		now:            time.Now,
		loc:            time.UTC,
		readBufferSize: DefaultReadBufferSize,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&p)
	}

	if p.reassembler == nil {
		p.reassembler = frame.NewReassembler()
	}

	return &p
}

// Run reads until ctx is done or the port is closed, in which case it returns nil.
// Any other read failure is returned wrapped in ErrBrokenPipe.
func (p *Pipeline) Run(ctx context.Context) error {
	buf := make([]byte, p.readBufferSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := p.port.Read(buf)
		if n > 0 {
			p.bytesRead.Add(uint64(n))

			for record, ferr := range p.reassembler.Feed(buf[:n]) {
				p.handleRecord(ctx, record, ferr)
			}
		}

		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			return fmt.Errorf("%w: error reading port: %w", ErrBrokenPipe, err)
		}
	}
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:  p.accepted.Load(),
		Rejected:  p.rejected.Load(),
		BytesRead: p.bytesRead.Load(),
	}
}

func (p *Pipeline) handleRecord(ctx context.Context, record string, err error) {
	line := strings.TrimSpace(record)

	var sample *telemetry.Sample
	if err == nil {
		sample, err = frame.Decode(line)
	}

	if err != nil {
		p.rejected.Add(1)
		p.logger.Warn(fmt.Sprintf("error decoding frame: %s", err.Error()),
			slog.String("reason", frame.Reason(err).String()),
			slog.String("line", truncate(line, maxLoggedLine)))

		p.publisher.Publish(telemetry.Placeholder())
		return
	}

	sample.Stamp(p.now(), p.loc)
	p.accepted.Add(1)
	p.publisher.Publish(sample)

	if err = p.recorder.Enqueue(ctx, telemetry.Record{SessionID: p.sessionID, Sample: sample}); err != nil {
		p.logger.Warn(fmt.Sprintf("sample not recorded: %s", err.Error()),
			slog.Int64("sessionId", p.sessionID),
			slog.String("capturedAt", sample.CapturedAt.Format(time.RFC3339Nano)))
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, transport.ErrPortClosed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
