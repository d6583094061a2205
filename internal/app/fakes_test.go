package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mpuview/mpuview/internal/domain"
	"github.com/mpuview/mpuview/internal/transport"
)

const eventuallyTimeout = 2 * time.Second

type fakeChannel struct {
	startErr error

	mu      sync.Mutex
	handler transport.Handler
	sent    []string
	closed  bool
}

func (c *fakeChannel) Name() string   { return "fake" }
func (c *fakeChannel) Target() string { return "device" }

func (c *fakeChannel) Start(_ context.Context, h transport.Handler) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Send(_ context.Context, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) bound() transport.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *fakeChannel) sentPayloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type recordingSender struct {
	err  error
	sent []domain.DeviceConfig
}

func (s *recordingSender) SendConfig(_ context.Context, cfg domain.DeviceConfig) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cfg)
	return nil
}

type recordingDefaults struct {
	err   error
	saved []domain.DeviceConfig
}

func (d *recordingDefaults) SaveDeviceDefaults(cfg domain.DeviceConfig) error {
	d.saved = append(d.saved, cfg)
	return d.err
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(eventuallyTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
