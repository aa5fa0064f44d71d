package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/rig-telemetry/internal/frame"
	"github.com/roman-kulish/rig-telemetry/internal/ingest"
	"github.com/roman-kulish/rig-telemetry/internal/session"
	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
	"github.com/roman-kulish/rig-telemetry/internal/transport"
)

const (
	defaultDataDirectory   = "data"
	defaultFileName        = "telemetry.sqlite"
	defaultExportDirectory = "exports"
	defaultListen          = ":8080"
	defaultReplayInterval  = 20 * time.Millisecond
	defaultTokenEnv        = "INFLUX_TOKEN"
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Serial    SerialConfig    `yaml:"serial"`
	Frames    FramesConfig    `yaml:"frames"`
	Storage   StorageConfig   `yaml:"storage"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Influx    InfluxConfig    `yaml:"influx"`
	HTTP      HTTPConfig      `yaml:"http"`
	Export    ExportConfig    `yaml:"export"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
	TimeZone string `yaml:"timezone"`
}

// SerialConfig represents the rig controller connection.
// With ReplayDirectory set, captured *.jsonl files stand in for serial ports.
type SerialConfig struct {
	Port            string   `yaml:"port"`
	BaudRate        int      `yaml:"baudRate"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	AutoConnect     bool     `yaml:"autoConnect"`
	ReplayDirectory string   `yaml:"replayDirectory"`
	ReplayInterval  Duration `yaml:"replayInterval"`
	ReplayLoop      bool     `yaml:"replayLoop"`
}

// FramesConfig represents frame reassembly limits
type FramesConfig struct {
	MaxFrameSize ByteSize `yaml:"maxFrameSize"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
	FileName      string `yaml:"fileName"`
	QueueSize     int    `yaml:"queueSize"`
	MaxBatchSize  int    `yaml:"maxBatchSize"`
}

// ReconnectConfig represents the policy applied after a transport failure
type ReconnectConfig struct {
	Enabled         bool     `yaml:"enabled"`
	InitialInterval Duration `yaml:"initialInterval"`
	MaxInterval     Duration `yaml:"maxInterval"`
}

// InfluxConfig represents the optional InfluxDB sink. The token is read from TokenEnv.
type InfluxConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
	TokenEnv string `yaml:"tokenEnv"`
}

// HTTPConfig represents the API server
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ExportConfig represents spreadsheet export settings
type ExportConfig struct {
	Directory string `yaml:"directory"`
}

// LoadConfig reads the configuration file at path, applies defaults and validates it
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var config Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	config.applyDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = slog.LevelInfo.String()
	}
	if c.Settings.TimeZone == "" {
		c.Settings.TimeZone = telemetry.DefaultTimeZone
	}

	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = transport.DefaultBaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = Duration(transport.DefaultReadTimeout)
	}
	if c.Serial.ReplayInterval == 0 {
		c.Serial.ReplayInterval = Duration(defaultReplayInterval)
	}

	if c.Frames.MaxFrameSize == 0 {
		c.Frames.MaxFrameSize = frame.DefaultMaxFrameSize
	}

	if c.Storage.DataDirectory == "" {
		c.Storage.DataDirectory = defaultDataDirectory
	}
	if c.Storage.FileName == "" {
		c.Storage.FileName = defaultFileName
	}
	if c.Storage.QueueSize == 0 {
		c.Storage.QueueSize = ingest.DefaultQueueSize
	}
	if c.Storage.MaxBatchSize == 0 {
		c.Storage.MaxBatchSize = ingest.DefaultMaxBatchSize
	}

	if c.Reconnect.InitialInterval == 0 {
		c.Reconnect.InitialInterval = Duration(session.DefaultReconnectInitialInterval)
	}
	if c.Reconnect.MaxInterval == 0 {
		c.Reconnect.MaxInterval = Duration(session.DefaultReconnectMaxInterval)
	}

	if c.Influx.TokenEnv == "" {
		c.Influx.TokenEnv = defaultTokenEnv
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = defaultListen
	}
	if c.Export.Directory == "" {
		c.Export.Directory = defaultExportDirectory
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if _, err := c.Settings.Level(); err != nil {
		return fmt.Errorf("settings.logLevel: %w", err)
	}
	if _, err := telemetry.LoadLocation(c.Settings.TimeZone); err != nil {
		return fmt.Errorf("settings.timezone: %w", err)
	}

	if c.Serial.BaudRate < 0 {
		return fmt.Errorf("serial.baudRate: must be positive, %d given", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial.readTimeout: must not be negative: %s", c.Serial.ReadTimeout)
	}
	if c.Serial.AutoConnect && c.Serial.Port == "" {
		return errors.New("serial.port: required with autoConnect")
	}

	if c.Frames.MaxFrameSize < 2 {
		return fmt.Errorf("frames.maxFrameSize: must be at least 2 bytes, %s given", c.Frames.MaxFrameSize)
	}

	if c.Storage.QueueSize < 0 {
		return fmt.Errorf("storage.queueSize: must be positive, %d given", c.Storage.QueueSize)
	}
	if c.Storage.MaxBatchSize < 0 {
		return fmt.Errorf("storage.maxBatchSize: must be positive, %d given", c.Storage.MaxBatchSize)
	}
	if strings.ContainsAny(c.Storage.FileName, `/\`) {
		return fmt.Errorf("storage.fileName: must be a file name: %q", c.Storage.FileName)
	}

	if c.Reconnect.InitialInterval < 0 || c.Reconnect.MaxInterval < 0 {
		return errors.New("reconnect: intervals must not be negative")
	}

	if c.Influx.Enabled {
		switch {
		case c.Influx.URL == "":
			return errors.New("influx.url: required when enabled")
		case c.Influx.Org == "":
			return errors.New("influx.org: required when enabled")
		case c.Influx.Bucket == "":
			return errors.New("influx.bucket: required when enabled")
		}
	}

	return nil
}

// Level parses the configured log level
func (s Settings) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s.LogLevel))
	return level, err
}

// Duration is a time.Duration read from a YAML string such as "250ms" or "1m"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ByteSize is a size in bytes read from a YAML value such as "64KiB" or "65536"
type ByteSize int

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("app.ByteSize: failed to parse: %s", err)
	}
	if n > 1<<30 {
		return fmt.Errorf("app.ByteSize: %s exceeds 1 GiB", humanize.IBytes(n))
	}

	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(max(b, 0)))
}
