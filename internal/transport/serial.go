package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate the rig controller firmware talks at
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds a single read, so readers can observe cancellation
	DefaultReadTimeout = 100 * time.Millisecond
)

// WithReadTimeout sets the semi-blocking read timeout
func WithReadTimeout(d time.Duration) func(*Serial) {
	return func(s *Serial) {
		s.readTimeout = d
	}
}

// WithLogger sets the logger for the serial transport
func WithLogger(logger *slog.Logger) func(*Serial) {
	return func(s *Serial) {
		s.logger = logger.With(slog.String("transport", "serial"))
	}
}

// Serial opens serial ports on the host
type Serial struct {
	readTimeout time.Duration
	logger      *slog.Logger
}

// NewSerial creates a Serial transport with a discard logger
func NewSerial(options ...func(*Serial)) *Serial {
	s := Serial{
		readTimeout: DefaultReadTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

func (s *Serial) Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

// Open opens portID in 8N1 mode with the configured read timeout
func (s *Serial) Open(portID string, baudRate int) (Port, error) {
	mode := serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(portID, &mode)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrPortUnavailable, portID, err)
	}

	if err = p.SetReadTimeout(s.readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: setting read timeout on %s: %w", ErrPortUnavailable, portID, err)
	}

	s.logger.Debug("port opened",
		slog.String("port", portID),
		slog.Int("baudRate", baudRate),
		slog.Duration("readTimeout", s.readTimeout))

	return &serialPort{port: p}, nil
}

type serialPort struct {
	port serial.Port
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	return n, mapError(err)
}

func (p *serialPort) Write(b []byte) (int, error) {
	n, err := p.port.Write(b)
	return n, mapError(err)
}

func (p *serialPort) Close() error {
	return p.port.Close()
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return fmt.Errorf("%w: %w", ErrPortClosed, err)
	}
	return err
}
