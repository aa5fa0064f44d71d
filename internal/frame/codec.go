package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

var (
	// ErrMalformedSyntax is returned when a record is not a non-empty JSON object
	ErrMalformedSyntax = errors.New("malformed syntax")

	// ErrSchemaMismatch is returned when a record lacks a required key
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrTypeMismatch is returned when a required key holds a value of the wrong type
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrFrameTooLarge is returned by the Reassembler when a record exceeds the frame size limit
	ErrFrameTooLarge = errors.New("frame too large")
)

const (
	ReasonUnknown RejectionReason = iota
	ReasonMalformedSyntax
	ReasonSchemaMismatch
	ReasonTypeMismatch
	ReasonFrameTooLarge
)

// RejectionReason classifies why a candidate record did not produce a sample
type RejectionReason uint8

func (r RejectionReason) String() string {
	switch r {
	case ReasonMalformedSyntax:
		return "malformed_syntax"
	case ReasonSchemaMismatch:
		return "schema_mismatch"
	case ReasonTypeMismatch:
		return "type_mismatch"
	case ReasonFrameTooLarge:
		return "frame_too_large"
	default:
		return "unknown"
	}
}

// Reason maps a Decode or Reassembler error to its RejectionReason
func Reason(err error) RejectionReason {
	switch {
	case errors.Is(err, ErrMalformedSyntax):
		return ReasonMalformedSyntax
	case errors.Is(err, ErrSchemaMismatch):
		return ReasonSchemaMismatch
	case errors.Is(err, ErrTypeMismatch):
		return ReasonTypeMismatch
	case errors.Is(err, ErrFrameTooLarge):
		return ReasonFrameTooLarge
	default:
		return ReasonUnknown
	}
}

var nullLiteral = []byte("null")

// Decode validates a single trimmed record and converts it into a Sample.
//
// The record must be a JSON object carrying every key in telemetry.Fields (aliases
// count as the key they stand for; the canonical key wins when both are present).
// Null values decode as absent fields and unknown keys are ignored. The returned
// sample has no capture fields set.
func Decode(line string) (*telemetry.Sample, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSyntax, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedSyntax)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty object", ErrMalformedSyntax)
	}

	var s telemetry.Sample
	for _, f := range telemetry.Fields {
		value, ok := lookup(raw, f)
		if !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrSchemaMismatch, f.Key)
		}

		if err := decodeField(&s, f, value); err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrTypeMismatch, f.Key, err)
		}
	}

	return &s, nil
}

func lookup(raw map[string]json.RawMessage, f telemetry.Field) (json.RawMessage, bool) {
	if v, ok := raw[f.Key]; ok {
		return v, true
	}
	for _, alias := range f.Aliases {
		if v, ok := raw[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

func decodeField(s *telemetry.Sample, f telemetry.Field, value json.RawMessage) error {
	value = bytes.TrimSpace(value)
	if bytes.Equal(value, nullLiteral) {
		return nil
	}

	if f.Kind == telemetry.KindInteger {
		v, err := decodeInteger(value)
		if err != nil {
			return err
		}
		f.SetInt(s, v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(value, &v); err != nil {
		return err
	}
	f.SetFloat(s, v)
	return nil
}

// decodeInteger accepts JSON integers and integral numbers such as 1.0
func decodeInteger(value json.RawMessage) (int64, error) {
	if len(value) > 0 && value[0] == '"' {
		return 0, errors.New("expected number, got string")
	}

	var n json.Number
	if err := json.Unmarshal(value, &n); err != nil {
		return 0, err
	}

	if v, err := n.Int64(); err == nil {
		return v, nil
	}

	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("number %s out of range", n)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %s", n)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("number %s out of range", n)
	}
	return int64(f), nil
}
