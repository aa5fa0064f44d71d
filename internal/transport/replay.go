package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	replayExt = ".jsonl"

	defaultReplayChunkSize = 64
)

// WithReplayInterval sets the pause before every chunk is delivered
func WithReplayInterval(d time.Duration) func(*Replay) {
	return func(r *Replay) {
		r.interval = d
	}
}

// WithReplayChunkSize limits how many bytes a single Read returns
func WithReplayChunkSize(n int) func(*Replay) {
	return func(r *Replay) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithReplayLoop rewinds the capture at end of file instead of closing the port
func WithReplayLoop(loop bool) func(*Replay) {
	return func(r *Replay) {
		r.loop = loop
	}
}

// WithReplayLogger sets the logger for the replay transport
func WithReplayLogger(logger *slog.Logger) func(*Replay) {
	return func(r *Replay) {
		r.logger = logger.With(slog.String("transport", "replay"))
	}
}

// Replay plays captured frame streams back as if a controller were attached.
// Every *.jsonl file in the directory is a port; commands written to it are logged and dropped.
type Replay struct {
	dir       string
	interval  time.Duration
	chunkSize int
	loop      bool
	logger    *slog.Logger
}

// NewReplay creates a Replay transport serving captures from dir
func NewReplay(dir string, options ...func(*Replay)) *Replay {
	r := Replay{
		dir:       dir,
		chunkSize: defaultReplayChunkSize,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

func (r *Replay) Ports() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("listing captures: %w", err)
	}

	var ports []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), replayExt) {
			continue
		}
		ports = append(ports, e.Name())
	}
	slices.Sort(ports)
	return ports, nil
}

// Open opens the capture named portID. The baud rate is recorded for logging only.
func (r *Replay) Open(portID string, baudRate int) (Port, error) {
	name := filepath.Base(portID)
	if name != portID || !strings.EqualFold(filepath.Ext(name), replayExt) {
		return nil, fmt.Errorf("%w: invalid capture name %q", ErrPortUnavailable, portID)
	}

	f, err := os.Open(filepath.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrPortUnavailable, portID, err)
	}

	r.logger.Debug("capture opened", slog.String("port", portID), slog.Int("baudRate", baudRate))

	return &replayPort{
		file:      f,
		interval:  r.interval,
		chunkSize: r.chunkSize,
		loop:      r.loop,
		logger:    r.logger.With(slog.String("port", portID)),
		closed:    make(chan struct{}),
	}, nil
}

type replayPort struct {
	file      *os.File
	interval  time.Duration
	chunkSize int
	loop      bool
	logger    *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func (p *replayPort) Read(b []byte) (int, error) {
	if p.interval > 0 {
		t := time.NewTimer(p.interval)
		select {
		case <-p.closed:
			t.Stop()
			return 0, ErrPortClosed
		case <-t.C:
		}
	}

	select {
	case <-p.closed:
		return 0, ErrPortClosed
	default:
	}

	n, err := p.file.Read(b[:min(len(b), p.chunkSize)])
	if errors.Is(err, io.EOF) && p.loop {
		if _, err = p.file.Seek(0, io.SeekStart); err != nil {
			return n, fmt.Errorf("rewinding capture: %w", err)
		}
		return n, nil
	}
	if errors.Is(err, os.ErrClosed) {
		return n, fmt.Errorf("%w: %w", ErrPortClosed, err)
	}
	return n, err
}

func (p *replayPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrPortClosed
	default:
	}

	p.logger.Info("command received", slog.String("command", strings.TrimSpace(string(b))))
	return len(b), nil
}

func (p *replayPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.file.Close()
	})
	return err
}
