package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"

	defaultChannels = "roll_IMU1,pitch_IMU1,roll_IMU2,pitch_IMU2"
	defaultWidth    = 1600
	defaultHeight   = 800

	minWidth  = 320
	minHeight = 240
)

type ImageFormat string

type Config struct {
	DBPath     string
	SessionID  int64 // zero plots every session
	Channels   []telemetry.Field
	From       *time.Time
	To         *time.Time
	Location   *time.Location
	OutputFile string
	Format     ImageFormat
	Width      int
	Height     int

	ListSessions bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

// NewConfigFromArgs parses command line arguments, without the program name
func NewConfigFromArgs(args []string) (*Config, error) {
	c := Config{Format: ImagePNG}

	fs := flag.NewFlagSet("rigplot", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage of rigplot:")
		fs.PrintDefaults()
	}

	var imageFormat, channels, from, to, tz string
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.Int64VarP(&c.SessionID, "session", "s", 0, "Session ID, 0 plots every session")
	fs.StringVar(&channels, "channels", defaultChannels, "Comma separated list of frame keys to plot")
	fs.StringVar(&from, "from", "", "Plot samples captured at or after this RFC3339 time")
	fs.StringVar(&to, "to", "", "Plot samples captured before this RFC3339 time")
	fs.StringVar(&tz, "tz", telemetry.DefaultTimeZone, "Time zone of the time scale")
	fs.StringVarP(&c.OutputFile, "output", "o", "", "Path to the output file")
	fs.StringVarP(&imageFormat, "format", "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Width, "width", defaultWidth, "Image width in pixels")
	fs.IntVar(&c.Height, "height", defaultHeight, "Image height in pixels")
	fs.BoolVar(&c.ListSessions, "list-sessions", false, "List stored sessions and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.SessionID < 0 {
		err = errors.New("session id must not be negative")
	} else if c.OutputFile == "" && !c.ListSessions {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if c.Width < minWidth || c.Height < minHeight {
		err = fmt.Errorf("image must be at least %dx%d pixels", minWidth, minHeight)
	}

	if err == nil {
		c.Channels, err = parseChannels(channels)
	}
	if err == nil {
		c.From, err = parseTime("from", from)
	}
	if err == nil {
		c.To, err = parseTime("to", to)
	}
	if err == nil && c.From != nil && c.To != nil && !c.From.Before(*c.To) {
		err = errors.New("--from must be before --to")
	}
	if err == nil {
		c.Location, err = telemetry.LoadLocation(tz)
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	if c.OutputFile != "" && filepath.Ext(c.OutputFile) == "" {
		c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	}
	return &c, nil
}

func parseChannels(list string) ([]telemetry.Field, error) {
	var fields []telemetry.Field
	seen := make(map[string]struct{})

	for _, key := range strings.Split(list, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		f, ok := telemetry.FieldByKey(key)
		if !ok {
			return nil, fmt.Errorf("unknown channel: %s", key)
		}
		if _, dup := seen[f.Key]; dup {
			continue
		}
		seen[f.Key] = struct{}{}
		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, errors.New("at least one channel is required")
	}
	return fields, nil
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s time: %w", name, err)
	}
	return &t, nil
}
