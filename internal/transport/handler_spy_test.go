package transport

import (
	"sync"
	"testing"
	"time"
)

const waitTimeout = 3 * time.Second

type recordingHandler struct {
	opened   chan struct{}
	messages chan string
	closed   chan error

	mu       sync.Mutex
	received []string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan struct{}, 1),
		messages: make(chan string, 64),
		closed:   make(chan error, 1),
	}
}

func (h *recordingHandler) OnOpen() {
	h.opened <- struct{}{}
}

func (h *recordingHandler) OnMessage(data string) {
	h.mu.Lock()
	h.received = append(h.received, data)
	h.mu.Unlock()
	h.messages <- data
}

func (h *recordingHandler) OnClose(err error) {
	h.closed <- err
}

func (h *recordingHandler) drainMessages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.received...)
}

func (h *recordingHandler) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-h.opened:
	case err := <-h.closed:
		t.Fatalf("channel closed before open: %v", err)
	case <-time.After(waitTimeout):
		t.Fatalf("timeout waiting for open")
	}
}

func (h *recordingHandler) waitMessage(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-h.messages:
		return msg
	case <-time.After(waitTimeout):
		t.Fatalf("timeout waiting for message")
	}
	return ""
}

func (h *recordingHandler) waitClose(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.closed:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("timeout waiting for close")
	}
	return nil
}
