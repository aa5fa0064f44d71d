package influx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

const (
	// Measurement is the measurement every sample is written to
	Measurement = "rig_telemetry"

	// TagSession carries the storage session of a sample
	TagSession = "session_id"

	// DefaultRequestTimeout bounds a single HTTP request to the server, in seconds
	DefaultRequestTimeout = 10
)

// ErrServerUnavailable is returned by Dial when the server does not answer a ping
var ErrServerUnavailable = errors.New("influxdb server unavailable")

// WithLogger sets the logger for the sink
func WithLogger(logger *slog.Logger) func(*Sink) {
	return func(s *Sink) {
		s.logger = logger.With(slog.String("sink", "influx"))
	}
}

// WithClock sets the time source bounding Clear
func WithClock(now func() time.Time) func(*Sink) {
	return func(s *Sink) {
		s.now = now
	}
}

// Sink writes stamped samples to an InfluxDB v2 bucket, one point per sample.
// Sample fields become point fields keyed by their frame key; absent values are omitted.
type Sink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	delete api.DeleteAPI

	org    string
	bucket string
	now    func() time.Time
	logger *slog.Logger
}

// NewSink creates a Sink writing to bucket in org through client. The sink owns the client.
func NewSink(client influxdb2.Client, org, bucket string, options ...func(*Sink)) *Sink {
	s := Sink{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
		delete: client.DeleteAPI(),
		org:    org,
		bucket: bucket,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Dial connects to the server at url and checks it is reachable
func Dial(ctx context.Context, url, token, org, bucket string, options ...func(*Sink)) (*Sink, error) {
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(DefaultRequestTimeout).
		SetApplicationName("rig-telemetry")

	client := influxdb2.NewClientWithOptions(url, token, opts)

	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		if err == nil {
			err = errors.New("ping failed")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrServerUnavailable, url, err)
	}

	return NewSink(client, org, bucket, options...), nil
}

// InsertSamples writes one point per record in a single request
func (s *Sink) InsertSamples(ctx context.Context, records []telemetry.Record) error {
	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		if p := NewPoint(r); p != nil {
			points = append(points, p)
		}
	}

	if len(points) == 0 {
		return nil
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing %d points: %w", len(points), err)
	}
	return nil
}

// Clear deletes every point of the measurement written up to now
func (s *Sink) Clear(ctx context.Context) error {
	predicate := fmt.Sprintf("_measurement=%q", Measurement)
	if err := s.delete.DeleteWithName(ctx, s.org, s.bucket, time.Unix(0, 0), s.now(), predicate); err != nil {
		return fmt.Errorf("deleting %s from %s: %w", Measurement, s.bucket, err)
	}

	s.logger.Info("measurement deleted", slog.String("bucket", s.bucket))
	return nil
}

// Close releases the client
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// NewPoint converts a record to a point. It returns nil when the sample carries no values.
func NewPoint(r telemetry.Record) *write.Point {
	p := influxdb2.NewPointWithMeasurement(Measurement).SetTime(r.Sample.CapturedAt)
	if r.SessionID != 0 {
		p.AddTag(TagSession, strconv.FormatInt(r.SessionID, 10))
	}

	var n int
	for _, f := range telemetry.Fields {
		if v := f.Any(r.Sample); v != nil {
			p.AddField(f.Key, v)
			n++
		}
	}

	if n == 0 {
		return nil
	}
	return p
}
