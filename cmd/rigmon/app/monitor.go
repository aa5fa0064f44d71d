package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/rig-telemetry/internal/ingest"
	"github.com/roman-kulish/rig-telemetry/internal/session"
)

const statsInterval = time.Minute

// EventSource emits session lifecycle events
type EventSource interface {
	Events() <-chan session.Event
}

// StatsSource reports persistence counters
type StatsSource interface {
	Stats() ingest.RecorderStats
}

// Monitor logs session lifecycle events and periodic persistence statistics
type Monitor struct {
	events EventSource
	stats  StatsSource
	logger *slog.Logger

	interval time.Duration
	wg       sync.WaitGroup
}

func newMonitor(events EventSource, stats StatsSource, logger *slog.Logger) *Monitor {
	m := Monitor{
		events:   events,
		stats:    stats,
		logger:   logger.With(slog.String("component", "monitor")),
		interval: statsInterval,
	}
	m.wg.Add(1)
	return &m
}

// Run logs until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logStats()
			return

		case e := <-m.events.Events():
			m.logEvent(e)

		case <-ticker.C:
			m.logStats()
		}
	}
}

// Wait blocks until Run returns
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) logEvent(e session.Event) {
	attrs := []any{slog.String("event", e.Type.String()), slog.String("port", e.PortID)}

	switch e.Type {
	case session.EventTransportFailed:
		m.logger.Error(fmt.Sprintf("session event: %s", e.Err.Error()), attrs...)
	case session.EventReconnecting:
		m.logger.Warn(fmt.Sprintf("session event: %s", e.Err.Error()), attrs...)
	default:
		m.logger.Debug("session event", attrs...)
	}
}

func (m *Monitor) logStats() {
	s := m.stats.Stats()
	m.logger.Info("persistence stats",
		slog.String("written", humanize.Comma(int64(s.Written))),
		slog.String("failed", humanize.Comma(int64(s.Failed))),
		slog.Int("queued", s.Queued))
}
