package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && *err == nil && !errors.Is(cErr, sql.ErrTxDone) {
		*err = cErr
	}
}

func toConfigData(config any) (sql.NullString, error) {
	switch c := config.(type) {
	case nil:
		return sql.NullString{}, nil

	case string:
		return sql.NullString{String: c, Valid: true}, nil

	case []byte:
		return sql.NullString{String: string(c), Valid: true}, nil

	default:
		p, err := json.Marshal(config)
		if err != nil {
			return sql.NullString{}, fmt.Errorf("marshaling config: %w", err)
		}
		return sql.NullString{String: string(p), Valid: true}, nil
	}
}

func toNullSessionID(sessionID int64) sql.NullInt64 {
	return sql.NullInt64{Int64: sessionID, Valid: sessionID > 0}
}

// sampleArgs returns insert arguments in sampleColumns order.
// Absent telemetry fields bind as NULL.
func sampleArgs(r telemetry.Record) []any {
	args := make([]any, 0, len(sampleHeadColumns)+len(telemetry.Fields))
	args = append(args,
		toNullSessionID(r.SessionID),
		r.Sample.CapturedAt.UTC(),
		r.Sample.Date,
		r.Sample.Time,
	)
	for _, f := range telemetry.Fields {
		args = append(args, f.Any(r.Sample))
	}
	return args
}

// sampleRow holds scan destinations for one samples row
type sampleRow struct {
	SessionID  sql.NullInt64
	CapturedAt time.Time
	Date       string
	Time       string
	Values     []any // *sql.NullFloat64 or *sql.NullInt64, in telemetry.Fields order
}

func newSampleRow() *sampleRow {
	row := sampleRow{Values: make([]any, len(telemetry.Fields))}
	for i, f := range telemetry.Fields {
		if f.Kind == telemetry.KindInteger {
			row.Values[i] = new(sql.NullInt64)
		} else {
			row.Values[i] = new(sql.NullFloat64)
		}
	}
	return &row
}

func (r *sampleRow) dest() []any {
	dest := make([]any, 0, len(sampleHeadColumns)+len(r.Values))
	dest = append(dest, &r.SessionID, &r.CapturedAt, &r.Date, &r.Time)
	return append(dest, r.Values...)
}

func (r *sampleRow) toRecord() telemetry.Record {
	s := telemetry.Sample{
		CapturedAt: r.CapturedAt,
		Date:       r.Date,
		Time:       r.Time,
	}

	for i, f := range telemetry.Fields {
		switch v := r.Values[i].(type) {
		case *sql.NullFloat64:
			if v.Valid {
				f.SetFloat(&s, v.Float64)
			}
		case *sql.NullInt64:
			if v.Valid {
				f.SetInt(&s, v.Int64)
			}
		}
	}

	return telemetry.Record{SessionID: r.SessionID.Int64, Sample: &s}
}

// sqliteDatetime scans aggregate results such as MIN(captured_at): SQLite drops the declared
// column type on aggregates, so the driver hands back text rather than time.Time.
type sqliteDatetime struct {
	Datetime time.Time
	Valid    bool
}

var sqliteDatetimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (d *sqliteDatetime) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
		d.Datetime, d.Valid = time.Time{}, false
		return nil
	case time.Time:
		d.Datetime, d.Valid = v, true
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported datetime type %T", value)
	}

	for _, layout := range sqliteDatetimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			d.Datetime, d.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("parsing datetime %q", s)
}
