package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

var (
	// rangeStart and rangeEnd bound the time filter when one side is not set
	rangeStart = time.Time{}
	rangeEnd   = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// SampleReader provides an iterator-based interface for reading stored samples
// with optional session and time filtering.
type SampleReader interface {
	// Next advances the iterator and returns true if there is another sample
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current record in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() telemetry.Record

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a SampleReader with specific filtering criteria
type ReaderOption func(*SqliteSampleReader)

// WithSession restricts the reader to samples captured during a single session
func WithSession(sessionID int64) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.sessionID = sessionID
	}
}

// WithStartTime excludes samples captured before t
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes samples captured after t
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

func newSqliteSampleReader(ctx context.Context, db *sql.DB, opts ...ReaderOption) (*SqliteSampleReader, error) {
	sr := &SqliteSampleReader{db: db}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

// SqliteSampleReader implements SampleReader for SQLite database backend
type SqliteSampleReader struct {
	db *sql.DB

	sessionID int64      // Optional session filter, 0 reads every session
	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	row     *sampleRow
	current telemetry.Record
	rows    *sql.Rows
	err     error
}

func (sr *SqliteSampleReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.sessionID < 0 {
		return fmt.Errorf("invalid session ID %d", sr.sessionID)
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSampleReader) initFilters(context.Context) error {
	if sr.startTime != nil && sr.endTime != nil && sr.startTime.After(*sr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", sr.startTime, sr.endTime)
	}

	if sr.startTime == nil {
		sr.startTime = &rangeStart
	}
	if sr.endTime == nil {
		sr.endTime = &rangeEnd
	}
	return nil
}

func (sr *SqliteSampleReader) initQuery(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectSamplesSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	sr.rows, err = stmt.QueryContext(ctx, sr.sessionID, sr.sessionID, sr.startTime.UTC(), sr.endTime.UTC())
	if err != nil {
		return err
	}

	sr.row = newSampleRow()
	return nil
}

func (sr *SqliteSampleReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		sr.err = ctx.Err()
		return false
	default:
	}

	if !sr.rows.Next() {
		return false
	}

	if err := sr.rows.Scan(sr.row.dest()...); err != nil {
		sr.err = fmt.Errorf("scanning sample: %w", err)
		return false
	}

	sr.current = sr.row.toRecord()
	return true
}

func (sr *SqliteSampleReader) Current() telemetry.Record {
	return sr.current
}

func (sr *SqliteSampleReader) Error() error {
	if sr.err != nil {
		return sr.err
	}
	if sr.rows != nil {
		return sr.rows.Err()
	}
	return nil
}

func (sr *SqliteSampleReader) Close() error {
	if sr.rows != nil {
		err := sr.rows.Close()
		sr.rows = nil
		return err
	}
	return nil
}
