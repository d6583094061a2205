package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialBaud        = 115200
	defaultSerialReadTimeout = 300 * time.Millisecond
)

// SerialPort is the part of serial.Port the channel uses.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialOpener opens a port by name; tests replace it to run without hardware.
type SerialOpener func(name string, baud int) (SerialPort, error)

func openSerialPort(name string, baud int) (SerialPort, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// SerialChannel reads line-delimited payloads from a USB serial console and
// writes each outbound payload followed by a newline. Lines may end in '\n' or
// a bare '\r', and Python dict reprs are rewritten to JSON.
type SerialChannel struct {
	portName string
	baudRate int
	open     SerialOpener

	mu      sync.Mutex
	port    SerialPort
	started bool
	closed  bool
	done    chan struct{}

	writeMu sync.Mutex
}

func NewSerialChannel(portName string, baudRate int) *SerialChannel {
	return NewSerialChannelWithOpener(portName, baudRate, openSerialPort)
}

func NewSerialChannelWithOpener(portName string, baudRate int, opener SerialOpener) *SerialChannel {
	if baudRate <= 0 {
		baudRate = DefaultSerialBaud
	}

	return &SerialChannel{
		portName: portName,
		baudRate: baudRate,
		open:     opener,
		done:     make(chan struct{}),
	}
}

func (t *SerialChannel) Name() string {
	return "serial"
}

func (t *SerialChannel) Target() string {
	if t.portName == "" {
		return ""
	}

	return fmt.Sprintf("%s@%d", t.portName, t.baudRate)
}

func (t *SerialChannel) Start(ctx context.Context, h Handler) error {
	if t.portName == "" {
		return errors.New("serial port is empty")
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
	go t.run(ctx, h)

	return nil
}

func (t *SerialChannel) run(ctx context.Context, h Handler) {
	logger := channelLogger(t.Name(), t.Target())
	stop := context.AfterFunc(ctx, func() {
		_ = t.Close()
	})
	defer stop()

	port, err := t.open(t.portName, t.baudRate)
	if err != nil {
		logger.Warn("open failed", "error", err)
		h.OnClose(fmt.Errorf("open serial port %q: %w", t.portName, err))
		return
	}
	if err := port.SetReadTimeout(defaultSerialReadTimeout); err != nil {
		_ = port.Close()
		h.OnClose(fmt.Errorf("set serial read timeout: %w", err))
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = port.Close()
		h.OnClose(nil)
		return
	}
	t.port = port
	t.mu.Unlock()

	logger.Info("connected")
	h.OnOpen()

	err = pumpFrames(&pollingReader{r: port, done: t.done}, readConsoleLine, h, func() {
		logger.Warn("oversized line dropped")
	})
	if t.isClosed() {
		logger.Info("closed")
		h.OnClose(nil)
		return
	}
	logger.Warn("read failed", "error", err)
	h.OnClose(fmt.Errorf("read serial: %w", err))
}

func (t *SerialChannel) Send(ctx context.Context, data string) error {
	port, err := t.currentPort()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeFull(ctx, port, []byte(data+"\n")); err != nil {
		return fmt.Errorf("write serial payload: %w", err)
	}

	return nil
}

func (t *SerialChannel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return nil
	}

	return port.Close()
}

func (t *SerialChannel) currentPort() (SerialPort, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil || t.closed {
		return nil, ErrNotConnected
	}

	return t.port, nil
}

func (t *SerialChannel) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// readConsoleLine reads one console line and converts a printed dict such as
// {'gyro': (0.1, 0.2, 0.3), 'temp': 24.5} into JSON. Other lines pass through.
func readConsoleLine(r *bufio.Reader) (string, error) {
	line, err := readLine(r)
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return line, nil
	}

	return pythonReprToJSON(line), nil
}

// pythonReprToJSON rewrites single-quoted strings and tuples. Double-quoted
// strings are copied as they are, so valid JSON is left unchanged.
func pythonReprToJSON(repr string) string {
	var (
		sb    strings.Builder
		quote byte
	)
	sb.Grow(len(repr))
	for i := 0; i < len(repr); i++ {
		c := repr[i]
		switch {
		case quote == '"':
			sb.WriteByte(c)
			if c == '\\' && i+1 < len(repr) {
				i++
				sb.WriteByte(repr[i])
			} else if c == '"' {
				quote = 0
			}
		case quote == '\'':
			switch {
			case c == '\\' && i+1 < len(repr) && repr[i+1] == '\'':
				i++
				sb.WriteByte('\'')
			case c == '\\' && i+1 < len(repr):
				i++
				sb.WriteByte(c)
				sb.WriteByte(repr[i])
			case c == '"':
				sb.WriteString(`\"`)
			case c == '\'':
				quote = 0
				sb.WriteByte('"')
			default:
				sb.WriteByte(c)
			}
		case c == '"':
			quote = c
			sb.WriteByte(c)
		case c == '\'':
			quote = c
			sb.WriteByte('"')
		case c == '(':
			sb.WriteByte('[')
		case c == ')':
			sb.WriteByte(']')
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String()
}

// pollingReader turns read timeouts (0 bytes, nil error) into retries so
// bufio does not give up with io.ErrNoProgress.
type pollingReader struct {
	r    io.Reader
	done <-chan struct{}
}

func (p *pollingReader) Read(buf []byte) (int, error) {
	for {
		select {
		case <-p.done:
			return 0, net.ErrClosed
		default:
		}
		n, err := p.r.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
