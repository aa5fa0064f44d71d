package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultReconnectInitialInterval = 500 * time.Millisecond
	DefaultReconnectMaxInterval     = 30 * time.Second
)

// ReconnectPolicy controls reconnecting after a transport failure.
// A clean close never triggers a reconnect.
type ReconnectPolicy struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // Zero retries until cancelled
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = DefaultReconnectInitialInterval
	}
	maxInterval := p.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultReconnectMaxInterval
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMaxInterval(max(initial, maxInterval)),
		backoff.WithMaxElapsedTime(p.MaxElapsedTime),
	)
	return backoff.WithContext(b, ctx)
}

// startReconnectLocked launches a reconnect loop for portID. c.mu must be held.
func (c *Controller) startReconnectLocked(portID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.reconnectCancel = cancel
	c.reconnectDone = done
	c.status.Reconnecting = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer cancel()

		c.reconnect(ctx, portID)

		c.mu.Lock()
		if c.reconnectDone == done {
			c.reconnectCancel = nil
			c.reconnectDone = nil
			c.status.Reconnecting = false
		}
		c.mu.Unlock()
	}()
}

func (c *Controller) reconnect(ctx context.Context, portID string) {
	logger := c.logger.With(slog.String("port", portID))
	logger.Info("reconnecting")

	operation := func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if ctx.Err() != nil || c.closed {
			return backoff.Permanent(context.Canceled)
		}

		err := c.connectLocked(ctx, portID)
		if errors.Is(err, ErrAlreadyConnected) {
			return nil
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn(fmt.Sprintf("reconnect attempt failed: %s", err.Error()), slog.Duration("retryIn", next))
		c.emit(Event{Type: EventReconnecting, PortID: portID, Err: err})
	}

	if err := backoff.RetryNotify(operation, c.reconnectPolicy.backOff(ctx), notify); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("reconnect cancelled")
			return
		}
		logger.Error(fmt.Sprintf("reconnect gave up: %s", err.Error()))
		return
	}
	logger.Info("reconnected")
}

// stopReconnect cancels a pending reconnect loop and waits for it to exit.
// c.mu must not be held.
func (c *Controller) stopReconnect() {
	c.mu.Lock()
	cancel, done := c.reconnectCancel, c.reconnectDone
	c.reconnectCancel = nil
	c.reconnectDone = nil
	c.status.Reconnecting = false
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
