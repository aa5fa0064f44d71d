package telemetry

// Frame keys reported by the rig controller
const (
	KeyRollIMU1          = "roll_IMU1"
	KeyPitchIMU1         = "pitch_IMU1"
	KeyRollIMU2          = "roll_IMU2"
	KeyPitchIMU2         = "pitch_IMU2"
	KeyRS775Speed        = "rs775_speed"
	KeySPGSpeed          = "spg_speed"
	KeyRS775MotorVoltage = "rs775_motor_voltage"
	KeyRS775Current      = "rs775_current"
	KeyRS775Position     = "rs775_position"
	KeySPGVoltage        = "spg_voltage"
	KeySPGCurrent        = "spg_current"
	KeySPGPosition       = "spg_position"
	KeyBrakeStatus       = "brake_status"
	KeyPIDProportional   = "PID_proportional"
	KeyPIDIntegral       = "PID_integral"
	KeyPIDDerivative     = "PID_derivative"

	// KeyPIDProportionalLegacy is the misspelled key older firmware emits for the proportional term
	KeyPIDProportionalLegacy = "PID_propotional"
)

const (
	KindFloat Kind = iota
	KindInteger
)

// Kind is the numeric type of a sample field
type Kind uint8

// Field describes one sample field: its frame key, storage column, display label
// and how to reach it on a Sample. Exactly one of Float or Int is set, matching Kind.
type Field struct {
	Key     string
	Aliases []string
	Column  string
	Label   string
	Kind    Kind

	Float func(s *Sample) **float64
	Int   func(s *Sample) **int64
}

// Fields lists every sample field in frame order. Codec, storage, export and
// charting all derive their layout from it.
var Fields = []Field{
	floatField(KeyRollIMU1, "roll_imu1", "Roll IMU1", func(s *Sample) **float64 { return &s.RollIMU1 }),
	floatField(KeyPitchIMU1, "pitch_imu1", "Pitch IMU1", func(s *Sample) **float64 { return &s.PitchIMU1 }),
	floatField(KeyRollIMU2, "roll_imu2", "Roll IMU2", func(s *Sample) **float64 { return &s.RollIMU2 }),
	floatField(KeyPitchIMU2, "pitch_imu2", "Pitch IMU2", func(s *Sample) **float64 { return &s.PitchIMU2 }),
	floatField(KeyRS775Speed, "rs775_speed", "RS775 Speed", func(s *Sample) **float64 { return &s.RS775Speed }),
	floatField(KeySPGSpeed, "spg_speed", "SPG Speed", func(s *Sample) **float64 { return &s.SPGSpeed }),
	floatField(KeyRS775MotorVoltage, "rs775_motor_voltage", "RS775 Motor Voltage", func(s *Sample) **float64 { return &s.RS775MotorVoltage }),
	floatField(KeyRS775Current, "rs775_current", "RS775 Current", func(s *Sample) **float64 { return &s.RS775Current }),
	floatField(KeyRS775Position, "rs775_position", "RS775 Position", func(s *Sample) **float64 { return &s.RS775Position }),
	floatField(KeySPGVoltage, "spg_voltage", "SPG Voltage", func(s *Sample) **float64 { return &s.SPGVoltage }),
	floatField(KeySPGCurrent, "spg_current", "SPG Current", func(s *Sample) **float64 { return &s.SPGCurrent }),
	floatField(KeySPGPosition, "spg_position", "SPG Position", func(s *Sample) **float64 { return &s.SPGPosition }),
	{
		Key:    KeyBrakeStatus,
		Column: "brake_status",
		Label:  "Brake Status",
		Kind:   KindInteger,
		Int:    func(s *Sample) **int64 { return &s.BrakeStatus },
	},
	floatField(KeyPIDProportional, "pid_proportional", "PID Proportional", func(s *Sample) **float64 { return &s.PIDProportional }, KeyPIDProportionalLegacy),
	floatField(KeyPIDIntegral, "pid_integral", "PID Integral", func(s *Sample) **float64 { return &s.PIDIntegral }),
	floatField(KeyPIDDerivative, "pid_derivative", "PID Derivative", func(s *Sample) **float64 { return &s.PIDDerivative }),
}

func floatField(key, column, label string, fn func(s *Sample) **float64, aliases ...string) Field {
	return Field{
		Key:     key,
		Aliases: aliases,
		Column:  column,
		Label:   label,
		Kind:    KindFloat,
		Float:   fn,
	}
}

// FieldByKey looks a field up by its frame key or one of its aliases
func FieldByKey(key string) (Field, bool) {
	for _, f := range Fields {
		if f.Key == key {
			return f, true
		}
		for _, alias := range f.Aliases {
			if alias == key {
				return f, true
			}
		}
	}
	return Field{}, false
}

// Present reports whether the field is set on s
func (f Field) Present(s *Sample) bool {
	if f.Kind == KindInteger {
		return *f.Int(s) != nil
	}
	return *f.Float(s) != nil
}

// Value returns the field value widened to float64, and whether it is present
func (f Field) Value(s *Sample) (float64, bool) {
	if f.Kind == KindInteger {
		if v := *f.Int(s); v != nil {
			return float64(*v), true
		}
		return 0, false
	}
	if v := *f.Float(s); v != nil {
		return *v, true
	}
	return 0, false
}

// Any returns the field value in its native type, or nil when absent.
// It is meant for drivers that accept untyped values (SQL, spreadsheets, line protocol).
func (f Field) Any(s *Sample) any {
	if f.Kind == KindInteger {
		if v := *f.Int(s); v != nil {
			return *v
		}
		return nil
	}
	if v := *f.Float(s); v != nil {
		return *v
	}
	return nil
}

// SetFloat stores v on s
func (f Field) SetFloat(s *Sample, v float64) {
	*f.Float(s) = &v
}

// SetInt stores v on s
func (f Field) SetInt(s *Sample, v int64) {
	*f.Int(s) = &v
}

// SetZero stores the zero value of the field's kind on s
func (f Field) SetZero(s *Sample) {
	if f.Kind == KindInteger {
		f.SetInt(s, 0)
		return
	}
	f.SetFloat(s, 0)
}
