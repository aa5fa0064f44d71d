package telemetry

import (
	"time"
)

const (
	// DateFormat is the layout of the capture date recorded with every sample
	DateFormat = "2006-01-02"

	// TimeFormat is the layout of the capture time recorded with every sample
	TimeFormat = "15:04:05"

	// DefaultTimeZone is the location capture date and time are rendered in
	DefaultTimeZone = "Asia/Kuala_Lumpur"
)

// Sample is a single telemetry frame reported by the test rig controller.
// Every sensor field is optional; nil means the value was absent (or null) in the frame.
type Sample struct {
	RollIMU1          *float64 `json:"roll_IMU1,omitempty"`           // Roll angle of the first IMU in degrees
	PitchIMU1         *float64 `json:"pitch_IMU1,omitempty"`          // Pitch angle of the first IMU in degrees
	RollIMU2          *float64 `json:"roll_IMU2,omitempty"`           // Roll angle of the second IMU in degrees
	PitchIMU2         *float64 `json:"pitch_IMU2,omitempty"`          // Pitch angle of the second IMU in degrees
	RS775Speed        *float64 `json:"rs775_speed,omitempty"`         // RS775 motor speed
	SPGSpeed          *float64 `json:"spg_speed,omitempty"`           // SPG motor speed
	RS775MotorVoltage *float64 `json:"rs775_motor_voltage,omitempty"` // RS775 motor voltage in volts
	RS775Current      *float64 `json:"rs775_current,omitempty"`       // RS775 motor current in amperes
	RS775Position     *float64 `json:"rs775_position,omitempty"`      // RS775 encoder position
	SPGVoltage        *float64 `json:"spg_voltage,omitempty"`         // SPG motor voltage in volts
	SPGCurrent        *float64 `json:"spg_current,omitempty"`         // SPG motor current in amperes
	SPGPosition       *float64 `json:"spg_position,omitempty"`        // SPG encoder position
	BrakeStatus       *int64   `json:"brake_status,omitempty"`        // Brake state code
	PIDProportional   *float64 `json:"PID_proportional,omitempty"`    // PID proportional term
	PIDIntegral       *float64 `json:"PID_integral,omitempty"`        // PID integral term
	PIDDerivative     *float64 `json:"PID_derivative,omitempty"`      // PID derivative term

	CapturedAt time.Time `json:"capturedAt"`     // Instant the frame was accepted, zero until stamped
	Date       string    `json:"date,omitempty"` // Capture date in the configured location
	Time       string    `json:"time,omitempty"` // Capture time in the configured location
}

// Stamp records the capture instant t rendered in loc. A nil loc means UTC.
func (s *Sample) Stamp(t time.Time, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}

	local := t.In(loc)

	s.CapturedAt = t
	s.Date = local.Format(DateFormat)
	s.Time = local.Format(TimeFormat)
}

// Stamped reports whether the sample carries capture fields
func (s *Sample) Stamped() bool {
	return !s.CapturedAt.IsZero()
}

// Placeholder returns the sample published in place of a rejected frame:
// every field present and zero, no capture fields.
func Placeholder() *Sample {
	var s Sample
	for _, f := range Fields {
		f.SetZero(&s)
	}
	return &s
}

// LoadLocation resolves the named time zone. An empty name resolves DefaultTimeZone.
// When no zone database is available the default zone falls back to a fixed UTC+8 offset.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimeZone {
			return time.FixedZone("MYT", 8*60*60), nil
		}
		return nil, err
	}
	return loc, nil
}

// Record is a stamped sample bound for persistence, tagged with the session it was captured in.
// A zero SessionID means the sample was captured without a recorded session.
type Record struct {
	SessionID int64
	Sample    *Sample
}
