package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Provider gives access to the most recent telemetry sample
type Provider interface {
	Get() *Sample
}

// Latest is a single-slot holder of the most recently published sample.
// Publication is last-write-wins; readers never observe a partially written sample.
type Latest struct {
	sample atomic.Pointer[Sample]
}

// Publish replaces the current sample. Published samples must not be modified afterwards.
func (l *Latest) Publish(s *Sample) {
	l.sample.Store(s)
}

// Get returns the current sample, or nil when nothing has been published yet
func (l *Latest) Get() *Sample {
	return l.sample.Load()
}

// Text renders a sample as one "Label: value" line per field in frame order.
// Absent values render as "null".
func Text(s *Sample) string {
	var sb strings.Builder
	for i, f := range Fields {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(f.Label)
		sb.WriteString(": ")
		sb.WriteString(formatValue(f, s))
	}
	return sb.String()
}

func formatValue(f Field, s *Sample) string {
	switch v := f.Any(s).(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}
