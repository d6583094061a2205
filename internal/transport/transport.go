package transport

import (
	"context"
	"errors"
	"log/slog"
)

var (
	ErrNotConnected  = errors.New("transport is not connected")
	ErrAlreadyActive = errors.New("transport already started")
)

// Handler receives lifecycle callbacks from a Channel. A channel calls them
// from a single goroutine, in order: OnOpen at most once, any number of
// OnMessage, then OnClose exactly once.
type Handler interface {
	OnOpen()
	OnMessage(data string)
	OnClose(err error)
}

// Channel is a bidirectional text message stream to the device.
type Channel interface {
	Name() string
	Target() string
	// Start begins connecting and returns without waiting for the stream to open.
	Start(ctx context.Context, h Handler) error
	Send(ctx context.Context, data string) error
	Close() error
}

func channelLogger(name, target string) *slog.Logger {
	logger := slog.With("component", "transport", "transport", name)
	if target == "" {
		return logger
	}

	return logger.With("target", target)
}
