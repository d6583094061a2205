package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/telemetry"
	"github.com/mpuview/mpuview/internal/transport"
)

const (
	defaultReconnectInitialDelay = time.Second
	defaultReconnectMaxDelay     = 15 * time.Second
)

// SessionOpener is the part of the telemetry session the reconnect policy drives.
type SessionOpener interface {
	Open(ctx context.Context, ch transport.Channel) error
}

// Reconnector reopens the session after a close the user did not ask for.
// The delay starts at initial, doubles after every failed attempt up to max,
// and resets once a session opens.
type Reconnector struct {
	logger  *slog.Logger
	session SessionOpener
	factory ChannelFactory
	initial time.Duration
	max     time.Duration

	mu      sync.Mutex
	delay   time.Duration
	pending bool
}

func NewReconnector(logger *slog.Logger, session SessionOpener, factory ChannelFactory, initial, maxDelay time.Duration) *Reconnector {
	if logger == nil {
		logger = slog.Default()
	}
	if initial <= 0 {
		initial = defaultReconnectInitialDelay
	}
	if maxDelay < initial {
		maxDelay = max(defaultReconnectMaxDelay, initial)
	}

	return &Reconnector{
		logger:  logger,
		session: session,
		factory: factory,
		initial: initial,
		max:     maxDelay,
		delay:   initial,
	}
}

// Start subscribes to session lifecycle events; it returns once subscribed.
func (r *Reconnector) Start(ctx context.Context, b bus.MessageBus) {
	bus.Listen(ctx, b, connectors.TopicSessionOpened, func(connectors.SessionOpened) {
		r.reset()
	})
	bus.Listen(ctx, b, connectors.TopicSessionClosed, func(ev connectors.SessionClosed) {
		if ev.Requested {
			return
		}
		r.schedule(ctx, ev)
	})
}

// NextDelay reports the wait before the next attempt.
func (r *Reconnector) NextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.delay
}

func (r *Reconnector) reset() {
	r.mu.Lock()
	r.delay = r.initial
	r.mu.Unlock()
}

func (r *Reconnector) schedule(ctx context.Context, ev connectors.SessionClosed) {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return
	}
	r.pending = true
	delay := r.delay
	r.delay = min(r.delay*2, r.max)
	r.mu.Unlock()

	r.logger.Info("session lost, reconnecting", "transport", ev.TransportName, "target", ev.Target, "error", ev.Err, "delay", delay)
	go func() {
		ok := sleepWithContext(ctx, delay)

		r.mu.Lock()
		r.pending = false
		r.mu.Unlock()
		if !ok {
			return
		}
		r.attempt(ctx)
	}()
}

func (r *Reconnector) attempt(ctx context.Context) {
	ch, err := r.factory()
	if err != nil {
		r.logger.Error("build channel for reconnect", "error", err)
		return
	}
	// A failed Open publishes SessionClosed, which schedules the next attempt.
	if err := r.session.Open(ctx, ch); err != nil {
		if errors.Is(err, telemetry.ErrAlreadyOpen) {
			r.logger.Debug("session already reopened")
			return
		}
		r.logger.Warn("reconnect attempt failed", "error", err)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
