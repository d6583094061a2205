package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const DefaultTCPPort = 80

// TCPChannel talks to the firmware's plain socket server. After connecting it
// requests the stream with an HTTP request line, then reads concatenated JSON
// objects until the socket closes. Outbound payloads are newline terminated.
type TCPChannel struct {
	host string
	port int
	path string

	mu      sync.Mutex
	conn    net.Conn
	started bool
	closed  bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
}

func NewTCPChannel(host string, port int, path string) *TCPChannel {
	if port == 0 {
		port = DefaultTCPPort
	}
	if path == "" {
		path = DefaultStreamPath
	}

	return &TCPChannel{host: host, port: port, path: path}
}

func (t *TCPChannel) Name() string {
	return "tcp"
}

func (t *TCPChannel) Target() string {
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *TCPChannel) Start(ctx context.Context, h Handler) error {
	if t.host == "" {
		return errors.New("tcp host is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyActive
	}
	if t.closed {
		return net.ErrClosed
	}
	t.started = true

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	go t.run(runCtx, h)

	return nil
}

func (t *TCPChannel) run(ctx context.Context, h Handler) {
	logger := channelLogger(t.Name(), t.Target())
	stop := context.AfterFunc(ctx, func() {
		_ = t.Close()
	})
	defer stop()

	dialer := net.Dialer{Timeout: handshakeTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", t.Target())
	if err != nil {
		if t.isClosed() {
			h.OnClose(nil)
			return
		}
		logger.Warn("connect failed", "error", err)
		h.OnClose(fmt.Errorf("dial tcp: %w", err))
		return
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", t.path, t.host)
	_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := conn.Write([]byte(request)); err != nil {
		_ = conn.Close()
		logger.Warn("stream request failed", "error", err)
		h.OnClose(fmt.Errorf("request stream: %w", err))
		return
	}
	_ = conn.SetWriteDeadline(time.Time{})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		h.OnClose(nil)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	logger.Info("connected", "remote", conn.RemoteAddr().String())
	h.OnOpen()

	err = pumpFrames(conn, readObject, h, func() {
		logger.Warn("oversized frame dropped")
	})
	if t.isClosed() {
		logger.Info("closed")
		h.OnClose(nil)
		return
	}
	logger.Warn("read failed", "error", err)
	h.OnClose(fmt.Errorf("read tcp stream: %w", err))
}

func (t *TCPChannel) Send(ctx context.Context, data string) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write([]byte(data + "\n")); err != nil {
		return fmt.Errorf("write tcp payload: %w", err)
	}

	return nil
}

func (t *TCPChannel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close tcp: %w", err)
	}

	return nil
}

func (t *TCPChannel) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}

func (t *TCPChannel) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}
