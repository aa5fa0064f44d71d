package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/frame"
	"github.com/roman-kulish/rig-telemetry/internal/ingest"
	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
	"github.com/roman-kulish/rig-telemetry/internal/transport"
)

// Control commands understood by the rig controller firmware
const (
	CommandOn    = "ON"
	CommandOff   = "OFF"
	CommandReset = "RESET"
)

const eventBufferSize = 32

var (
	// ErrPortUnavailable is returned by Connect when the transport cannot be opened
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrNotConnected is returned by operations that require an open connection
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect while a connection is open
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNoExporter is returned by Export when no exporter is configured
	ErrNoExporter = errors.New("no exporter configured")

	// ErrControllerClosed is returned once the controller has been closed
	ErrControllerClosed = errors.New("controller closed")
)

// SessionStore records a session per successful connect
type SessionStore interface {
	CreateSession(ctx context.Context, portID string, baudRate int, config any) (int64, error)
}

// Exporter writes every persisted sample to the named destination and returns its location
type Exporter interface {
	ExportAll(ctx context.Context, destinationName string) (string, error)
}

// Recorder is the persistence queue the pipeline feeds
type Recorder interface {
	ingest.Enqueuer
	Sync(ctx context.Context) error
	Clear(ctx context.Context) error
}

// WithLogger sets the logger for the controller and the pipelines it starts
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithBaudRate sets the rate ports are opened at
func WithBaudRate(baudRate int) func(*Controller) {
	return func(c *Controller) {
		if baudRate > 0 {
			c.baudRate = baudRate
		}
	}
}

// WithMaxFrameSize sets the reassembly limit of every connection
func WithMaxFrameSize(n int) func(*Controller) {
	return func(c *Controller) {
		c.maxFrameSize = n
	}
}

// WithLocation sets the location capture date and time are rendered in
func WithLocation(loc *time.Location) func(*Controller) {
	return func(c *Controller) {
		c.loc = loc
	}
}

// WithClock sets the time source used to stamp samples
func WithClock(now func() time.Time) func(*Controller) {
	return func(c *Controller) {
		c.now = now
	}
}

// WithSessionStore records a storage session for every connection
func WithSessionStore(store SessionStore) func(*Controller) {
	return func(c *Controller) {
		c.store = store
	}
}

// WithExporter enables Export
func WithExporter(exporter Exporter) func(*Controller) {
	return func(c *Controller) {
		c.exporter = exporter
	}
}

// WithReconnect sets the policy applied after a transport failure
func WithReconnect(policy ReconnectPolicy) func(*Controller) {
	return func(c *Controller) {
		c.reconnectPolicy = policy
	}
}

// Controller is the connection state machine. It owns the transport handle
// and the lifetime of the ingestion pipeline reading from it.
type Controller struct {
	transport transport.Transport
	latest    *telemetry.Latest
	recorder  Recorder
	store     SessionStore
	exporter  Exporter

	baudRate        int
	maxFrameSize    int
	loc             *time.Location
	now             func() time.Time
	reconnectPolicy ReconnectPolicy
	logger          *slog.Logger

	events chan Event

	mu     sync.Mutex
	status Status
	closed bool

	// current connection, set iff status.State is Connected
	port   transport.Port
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64

	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}

	wg sync.WaitGroup
}

// NewController creates a disconnected Controller
func NewController(t transport.Transport, latest *telemetry.Latest, recorder Recorder, options ...func(*Controller)) *Controller {
	c := Controller{
		transport:    t,
		latest:       latest,
		recorder:     recorder,
		baudRate:     transport.DefaultBaudRate,
		maxFrameSize: frame.DefaultMaxFrameSize,
		loc:          time.UTC,
		now:          time.Now,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		events:       make(chan Event, eventBufferSize),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Events returns lifecycle notifications. Events are dropped when nobody keeps up.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Status returns a snapshot of the session state
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Ports lists the port identifiers the transport can open
func (c *Controller) Ports() ([]string, error) {
	return c.transport.Ports()
}

// Connect opens portID and starts reading from it. A pending reconnect loop is cancelled.
func (c *Controller) Connect(ctx context.Context, portID string) error {
	c.stopReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	return c.connectLocked(ctx, portID)
}

// Disconnect closes the port, waits for the read loop to exit and forces the actuator off.
// It is a no-op when already disconnected.
func (c *Controller) Disconnect() error {
	c.stopReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.State != Connected {
		return nil
	}

	portID := c.status.PortID
	err := c.teardownLocked()
	c.logger.Info("disconnected", slog.String("port", portID))
	c.emit(Event{Type: EventDisconnected, PortID: portID})
	return err
}

// SetActuator switches the actuator. The state changes only once the command is written.
func (c *Controller) SetActuator(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.State != Connected {
		return ErrNotConnected
	}

	command := CommandOff
	if on {
		command = CommandOn
	}
	if err := c.sendLocked(command); err != nil {
		return err
	}

	c.status.ActuatorOn = on
	return nil
}

// Reset sends the reset command and forces the actuator off
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.State != Connected {
		return ErrNotConnected
	}
	if err := c.sendLocked(CommandReset); err != nil {
		return err
	}

	c.status.ActuatorOn = false
	return nil
}

// Export disconnects, waits for queued samples to be persisted and exports them
func (c *Controller) Export(ctx context.Context, destinationName string) (string, error) {
	if c.exporter == nil {
		return "", ErrNoExporter
	}

	if err := c.Disconnect(); err != nil {
		c.logger.Warn(fmt.Sprintf("error closing port before export: %s", err.Error()))
	}
	if err := c.recorder.Sync(ctx); err != nil {
		return "", fmt.Errorf("flushing samples: %w", err)
	}

	path, err := c.exporter.ExportAll(ctx, destinationName)
	if err != nil {
		return "", fmt.Errorf("exporting samples: %w", err)
	}

	c.logger.Info("samples exported", slog.String("path", path))
	return path, nil
}

// ResetData disconnects and deletes every persisted sample.
// Samples queued before the call are written first and deleted with the rest.
func (c *Controller) ResetData(ctx context.Context) error {
	if err := c.Disconnect(); err != nil {
		c.logger.Warn(fmt.Sprintf("error closing port before reset: %s", err.Error()))
	}
	if err := c.recorder.Clear(ctx); err != nil {
		return fmt.Errorf("clearing samples: %w", err)
	}

	c.logger.Info("stored samples cleared")
	return nil
}

// Close disconnects and stops background work. The controller cannot be reused.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	err := c.Disconnect()
	c.wg.Wait()
	return err
}

// connectLocked opens portID and starts a pipeline. c.mu must be held.
func (c *Controller) connectLocked(ctx context.Context, portID string) error {
	if c.status.State == Connected {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, c.status.PortID)
	}

	logger := c.logger.With(slog.String("port", portID))

	port, err := c.transport.Open(portID, c.baudRate)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPortUnavailable, portID, err)
	}

	var sessionID int64
	if c.store != nil {
		cfg := sessionConfig{MaxFrameSize: c.maxFrameSize, Location: c.loc.String()}
		if sessionID, err = c.store.CreateSession(ctx, portID, c.baudRate, cfg); err != nil {
			logger.Error(fmt.Sprintf("error recording session: %s", err.Error()))
		}
	}

	pipeline := ingest.NewPipeline(port, c.latest, c.recorder,
		ingest.WithLogger(logger),
		ingest.WithClock(c.now),
		ingest.WithLocation(c.loc),
		ingest.WithSessionID(sessionID),
		ingest.WithReassembler(frame.NewReassembler(frame.WithMaxFrameSize(c.maxFrameSize))))

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.gen++
	c.port = port
	c.cancel = cancel
	c.done = done
	c.status = Status{
		State:     Connected,
		PortID:    portID,
		SessionID: sessionID,
		LastError: c.status.LastError,
	}

	c.wg.Add(1)
	go c.run(loopCtx, c.gen, pipeline, done)

	logger.Info("connected", slog.Int("baudRate", c.baudRate), slog.Int64("session", sessionID))
	c.emit(Event{Type: EventConnected, PortID: portID})
	return nil
}

func (c *Controller) run(ctx context.Context, gen uint64, pipeline *ingest.Pipeline, done chan struct{}) {
	defer c.wg.Done()

	err := pipeline.Run(ctx)
	close(done)

	c.pipelineExited(gen, err, pipeline.Stats())
}

// pipelineExited tears down a connection whose read loop stopped on its own
func (c *Controller) pipelineExited(gen uint64, err error, stats ingest.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.status.State != Connected {
		return // torn down by Disconnect, or superseded by a newer connection
	}

	portID := c.status.PortID
	logger := c.logger.With(slog.String("port", portID))

	if cErr := c.teardownLocked(); cErr != nil {
		logger.Warn(fmt.Sprintf("error closing port: %s", cErr.Error()))
	}

	if err == nil {
		logger.Info("transport closed",
			slog.Uint64("accepted", stats.Accepted),
			slog.Uint64("rejected", stats.Rejected))
		c.emit(Event{Type: EventTransportClosed, PortID: portID})
		return
	}

	logger.Error(fmt.Sprintf("transport failed: %s", err.Error()))
	c.status.LastError = err.Error()
	c.emit(Event{Type: EventTransportFailed, PortID: portID, Err: err})

	if c.reconnectPolicy.Enabled && !c.closed {
		c.startReconnectLocked(portID)
	}
}

// teardownLocked stops the read loop and closes the port. c.mu must be held.
func (c *Controller) teardownLocked() error {
	c.cancel()
	err := c.port.Close()
	<-c.done

	c.port = nil
	c.cancel = nil
	c.done = nil
	c.status = Status{
		State:     Disconnected,
		LastError: c.status.LastError,
	}

	if err != nil && !errors.Is(err, transport.ErrPortClosed) {
		return fmt.Errorf("closing port: %w", err)
	}
	return nil
}

func (c *Controller) sendLocked(command string) error {
	if _, err := io.WriteString(c.port, command+"\n"); err != nil {
		return fmt.Errorf("sending %s: %w", command, err)
	}
	c.logger.Debug("command sent", slog.String("command", command), slog.String("port", c.status.PortID))
	return nil
}

func (c *Controller) emit(e Event) {
	if e.At.IsZero() {
		e.At = c.now()
	}

	select {
	case c.events <- e:
	default:
		c.logger.Debug("event dropped", slog.String("event", e.Type.String()))
	}
}

// sessionConfig is stored with every session
type sessionConfig struct {
	MaxFrameSize int    `json:"maxFrameSize"`
	Location     string `json:"location"`
}
