package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/domain"
	"github.com/mpuview/mpuview/internal/transport"
)

const maxRejectedPreviewLen = 256

var (
	ErrAlreadyOpen  = errors.New("session already open")
	ErrNotConnected = errors.New("session is not connected")
)

// SendError wraps a config that could not be encoded or written to the channel.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send device config: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) connectionState() connectors.ConnectionState {
	switch s {
	case StateConnecting:
		return connectors.ConnectionStateConnecting
	case StateConnected:
		return connectors.ConnectionStateConnected
	default:
		return connectors.ConnectionStateDisconnected
	}
}

// Stats counts inbound frames since the session was created.
type Stats struct {
	FramesAccepted uint64
	FramesRejected uint64
}

// Session owns one logical connection to the device stream. It decodes
// inbound frames and publishes them on the bus, and encodes outbound config.
type Session struct {
	logger *slog.Logger
	bus    bus.Publisher
	codec  Codec

	// pubMu orders frame events against the closed event: a frame whose
	// callback passed the generation check is published before SessionClosed.
	pubMu sync.Mutex

	mu      sync.Mutex
	state   State
	channel transport.Channel
	// gen identifies the Open call the current channel callbacks belong to.
	gen   uint64
	stats Stats
}

func NewSession(logger *slog.Logger, pub bus.Publisher, codec Codec) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = discardPublisher{}
	}
	if codec == nil {
		codec = NewJSONCodec()
	}

	return &Session{
		logger: logger,
		bus:    pub,
		codec:  codec,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

// Open binds the session to ch and starts it. The session stays connecting
// until the channel reports the stream is open.
func (s *Session) Open(ctx context.Context, ch transport.Channel) error {
	if ch == nil {
		return errors.New("channel is required")
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.channel = ch
	s.mu.Unlock()

	s.logger.Info("opening session", "transport", ch.Name(), "target", ch.Target())
	s.publishConnStatus(ch, StateConnecting, nil)

	if err := ch.Start(ctx, &binding{session: s, gen: gen}); err != nil {
		s.logger.Warn("channel start failed", "transport", ch.Name(), "error", err)
		s.onTransportClose(gen, err)

		return fmt.Errorf("start %s channel: %w", ch.Name(), err)
	}

	return nil
}

// SendConfig encodes cfg and writes it to the channel. It returns only after
// the channel accepted the write.
func (s *Session) SendConfig(ctx context.Context, cfg domain.DeviceConfig) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	ch := s.channel
	s.mu.Unlock()

	payload, err := s.codec.Encode(cfg)
	if err != nil {
		return &SendError{Err: err}
	}
	if err := ch.Send(ctx, payload); err != nil {
		s.logger.Warn("config write failed", "transport", ch.Name(), "error", err)
		return &SendError{Err: err}
	}

	s.logger.Info(
		"device config sent",
		"accelerometer_range", cfg.AccelerometerRange,
		"gyro_range", cfg.GyroRange,
		"filter_band", cfg.FilterBand,
		"delay_samples", cfg.DelaySamples,
	)
	s.bus.Publish(connectors.TopicRawFrameOut, connectors.RawFrame{Text: payload, Len: len(payload)})

	return nil
}

// Close is idempotent. Callbacks the channel delivers after Close are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	ch := s.channel
	s.state = StateDisconnected
	s.channel = nil
	s.gen++
	s.mu.Unlock()

	s.logger.Info("closing session", "transport", ch.Name())
	s.publishClosed(ch, nil, true)

	if err := ch.Close(); err != nil {
		return fmt.Errorf("close %s channel: %w", ch.Name(), err)
	}

	return nil
}

func (s *Session) onTransportOpen(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("stale open callback dropped", "state", state)
		return
	}
	s.state = StateConnected
	ch := s.channel
	s.mu.Unlock()

	s.logger.Info("session connected", "transport", ch.Name(), "target", ch.Target())
	s.bus.Publish(connectors.TopicSessionOpened, connectors.SessionOpened{
		TransportName: ch.Name(),
		Target:        ch.Target(),
		Timestamp:     time.Now(),
	})
	s.publishConnStatus(ch, StateConnected, nil)
}

func (s *Session) onTransportMessage(gen uint64, raw string) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.bus.Publish(connectors.TopicRawFrameIn, connectors.RawFrame{Text: raw, Len: len(raw)})

	frame, err := s.codec.Decode(raw)
	if err != nil {
		s.mu.Lock()
		s.stats.FramesRejected++
		s.mu.Unlock()

		s.logger.Warn("frame rejected", "error", err, "len", len(raw))
		s.bus.Publish(connectors.TopicFrameRejected, connectors.FrameRejected{
			Err:       err,
			Raw:       preview(raw),
			Timestamp: time.Now(),
		})
		return
	}

	s.mu.Lock()
	s.stats.FramesAccepted++
	s.mu.Unlock()

	s.bus.Publish(connectors.TopicSensorFrame, frame)
}

func (s *Session) onTransportClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("stale close callback dropped", "error", err)
		return
	}
	ch := s.channel
	s.state = StateDisconnected
	s.channel = nil
	s.gen++
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("session closed by transport", "transport", ch.Name(), "error", err)
	} else {
		s.logger.Info("session closed by transport", "transport", ch.Name())
	}
	s.publishClosed(ch, err, false)
}

func (s *Session) publishClosed(ch transport.Channel, err error, requested bool) {
	event := connectors.SessionClosed{
		TransportName: ch.Name(),
		Target:        ch.Target(),
		Requested:     requested,
		Timestamp:     time.Now(),
	}
	if err != nil {
		event.Err = err.Error()
	}
	s.pubMu.Lock()
	s.bus.Publish(connectors.TopicSessionClosed, event)
	s.pubMu.Unlock()
	s.publishConnStatus(ch, StateDisconnected, err)
}

func (s *Session) publishConnStatus(ch transport.Channel, state State, err error) {
	status := connectors.ConnectionStatus{
		State:         state.connectionState(),
		TransportName: ch.Name(),
		Target:        ch.Target(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(connectors.TopicConnStatus, status)
}

// binding routes channel callbacks to the Open call that registered them.
type binding struct {
	session *Session
	gen     uint64
}

func (b *binding) OnOpen() {
	b.session.onTransportOpen(b.gen)
}

func (b *binding) OnMessage(data string) {
	b.session.onTransportMessage(b.gen, data)
}

func (b *binding) OnClose(err error) {
	b.session.onTransportClose(b.gen, err)
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, any) {}

func preview(raw string) string {
	if len(raw) <= maxRejectedPreviewLen {
		return raw
	}

	return raw[:maxRejectedPreviewLen] + "..."
}
