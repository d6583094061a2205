package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultWebSocketPort = 80
	DefaultStreamPath    = "/stream"

	handshakeTimeout  = 6 * time.Second
	closeWriteTimeout = time.Second
)

// WebSocketChannel streams text messages over a WebSocket connection.
// It is single use: create a new channel for every connection attempt.
type WebSocketChannel struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
}

// NewWebSocketChannel builds a channel for ws://host:port/path.
// Zero port and empty path fall back to the device defaults.
func NewWebSocketChannel(host string, port int, path string) *WebSocketChannel {
	if port == 0 {
		port = DefaultWebSocketPort
	}
	if path == "" {
		path = DefaultStreamPath
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}

	return NewWebSocketChannelURL(u.String())
}

func NewWebSocketChannelURL(rawURL string) *WebSocketChannel {
	return &WebSocketChannel{
		url: rawURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (c *WebSocketChannel) Name() string {
	return "websocket"
}

func (c *WebSocketChannel) Target() string {
	return c.url
}

func (c *WebSocketChannel) Start(ctx context.Context, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyActive
	}
	if c.closed {
		return net.ErrClosed
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx, h)

	return nil
}

func (c *WebSocketChannel) run(ctx context.Context, h Handler) {
	logger := channelLogger(c.Name(), c.url)
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	logger.Info("connecting")
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if c.isClosed() {
			logger.Debug("dial aborted by close")
			h.OnClose(nil)
			return
		}
		logger.Warn("connect failed", "error", err)
		h.OnClose(fmt.Errorf("dial websocket: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		h.OnClose(nil)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	logger.Info("connected", "remote", conn.RemoteAddr().String())
	h.OnOpen()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("closed")
				h.OnClose(nil)
				return
			}
			logger.Warn("read failed", "error", err)
			h.OnClose(fmt.Errorf("read websocket: %w", err))
			return
		}
		logger.Debug("read message", "len", len(msg))
		h.OnMessage(string(msg))
	}
}

func (c *WebSocketChannel) Send(ctx context.Context, data string) error {
	conn, err := c.currentConn()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}

	return nil
}

func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	c.writeMu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close websocket: %w", err)
	}

	return nil
}

func (c *WebSocketChannel) currentConn() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return nil, ErrNotConnected
	}

	return c.conn, nil
}

func (c *WebSocketChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
