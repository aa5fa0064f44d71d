package frame

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

const validRecord = `{"roll_IMU1":1.5,"pitch_IMU1":-2.25,"roll_IMU2":0.5,"pitch_IMU2":0,` +
	`"rs775_speed":1200,"spg_speed":300.5,"rs775_motor_voltage":12.1,"rs775_current":0.8,` +
	`"rs775_position":1024,"spg_voltage":11.9,"spg_current":0.4,"spg_position":-512,` +
	`"brake_status":1,"PID_proportional":2.5,"PID_integral":0.1,"PID_derivative":0.05}`

func ptr[T any](v T) *T {
	return &v
}

func validSample() *telemetry.Sample {
	return &telemetry.Sample{
		RollIMU1:          ptr(1.5),
		PitchIMU1:         ptr(-2.25),
		RollIMU2:          ptr(0.5),
		PitchIMU2:         ptr(0.0),
		RS775Speed:        ptr(1200.0),
		SPGSpeed:          ptr(300.5),
		RS775MotorVoltage: ptr(12.1),
		RS775Current:      ptr(0.8),
		RS775Position:     ptr(1024.0),
		SPGVoltage:        ptr(11.9),
		SPGCurrent:        ptr(0.4),
		SPGPosition:       ptr(-512.0),
		BrakeStatus:       ptr(int64(1)),
		PIDProportional:   ptr(2.5),
		PIDIntegral:       ptr(0.1),
		PIDDerivative:     ptr(0.05),
	}
}

// recordWith returns validRecord with key replaced by value, or removed when value is empty
func recordWith(key, value string) string {
	parts := strings.Split(strings.Trim(validRecord, "{}"), ",")
	out := parts[:0]
	for _, p := range parts {
		if strings.HasPrefix(p, fmt.Sprintf("%q:", key)) {
			if value == "" {
				continue
			}
			p = fmt.Sprintf("%q:%s", key, value)
		}
		out = append(out, p)
	}
	return "{" + strings.Join(out, ",") + "}"
}

func TestDecode_RoundTrip(t *testing.T) {
	got, err := Decode(validRecord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(validSample(), got); diff != "" {
		t.Errorf("unexpected sample (-want +got):\n%s", diff)
	}
	if got.Stamped() {
		t.Error("decoded sample must not carry capture fields")
	}
}

func TestDecode_MissingKey(t *testing.T) {
	for _, f := range telemetry.Fields {
		t.Run(f.Key, func(t *testing.T) {
			_, err := Decode(recordWith(f.Key, ""))
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatalf("expected schema mismatch, got %v", err)
			}
			if !strings.Contains(err.Error(), f.Key) {
				t.Errorf("expected error to name %s, got %v", f.Key, err)
			}
		})
	}
}

func TestDecode_MalformedSyntax(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "empty", line: ""},
		{name: "empty object", line: "{}"},
		{name: "truncated", line: validRecord[:40]},
		{name: "array", line: "[1,2,3]"},
		{name: "number", line: "42"},
		{name: "string", line: `"roll_IMU1"`},
		{name: "null", line: "null"},
		{name: "garbage", line: "roll=1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Decode(tt.line)
			if !errors.Is(err, ErrMalformedSyntax) {
				t.Fatalf("expected malformed syntax, got %v", err)
			}
			if s != nil {
				t.Error("expected nil sample on rejection")
			}
			if Reason(err) != ReasonMalformedSyntax {
				t.Errorf("expected reason %s, got %s", ReasonMalformedSyntax, Reason(err))
			}
		})
	}
}

func TestDecode_TypeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "quoted float", key: telemetry.KeyRollIMU1, value: `"1.5"`},
		{name: "boolean float", key: telemetry.KeySPGSpeed, value: `true`},
		{name: "object float", key: telemetry.KeyPIDIntegral, value: `{"v":1}`},
		{name: "quoted brake", key: telemetry.KeyBrakeStatus, value: `"1"`},
		{name: "fractional brake", key: telemetry.KeyBrakeStatus, value: `1.5`},
		{name: "array brake", key: telemetry.KeyBrakeStatus, value: `[1]`},
		{name: "huge brake", key: telemetry.KeyBrakeStatus, value: `1e30`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(recordWith(tt.key, tt.value))
			if !errors.Is(err, ErrTypeMismatch) {
				t.Fatalf("expected type mismatch, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("expected error to name %s, got %v", tt.key, err)
			}
		})
	}
}

func TestDecode_Coercion(t *testing.T) {
	t.Run("integral float brake", func(t *testing.T) {
		s, err := Decode(recordWith(telemetry.KeyBrakeStatus, "2.0"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *s.BrakeStatus != 2 {
			t.Errorf("expected brake 2, got %d", *s.BrakeStatus)
		}
	})

	t.Run("null is absent", func(t *testing.T) {
		s, err := Decode(recordWith(telemetry.KeySPGCurrent, "null"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.SPGCurrent != nil {
			t.Errorf("expected absent spg_current, got %v", *s.SPGCurrent)
		}
	})

	t.Run("unknown keys ignored", func(t *testing.T) {
		line := strings.TrimSuffix(validRecord, "}") + `,"firmware":"1.2.3"}`
		s, err := Decode(line)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(validSample(), s); diff != "" {
			t.Errorf("unexpected sample (-want +got):\n%s", diff)
		}
	})
}

func TestDecode_LegacyProportionalKey(t *testing.T) {
	legacy := strings.Replace(validRecord, `"PID_proportional"`, `"PID_propotional"`, 1)

	s, err := Decode(legacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *s.PIDProportional != 2.5 {
		t.Errorf("expected 2.5, got %v", *s.PIDProportional)
	}

	both := strings.TrimSuffix(validRecord, "}") + `,"PID_propotional":9}`
	if s, err = Decode(both); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *s.PIDProportional != 2.5 {
		t.Errorf("expected canonical key to win, got %v", *s.PIDProportional)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want RejectionReason
	}{
		{err: fmt.Errorf("wrapped: %w", ErrSchemaMismatch), want: ReasonSchemaMismatch},
		{err: ErrTypeMismatch, want: ReasonTypeMismatch},
		{err: ErrFrameTooLarge, want: ReasonFrameTooLarge},
		{err: errors.New("other"), want: ReasonUnknown},
	}

	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}
