package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/domain"
	"github.com/mpuview/mpuview/internal/transport"
)

const validFrame = `{"acceleration":{"x":1,"y":2,"z":3},"gyro":{"x":4,"y":5,"z":6},"temperature":36.6}`

var sampleConfig = domain.DeviceConfig{
	AccelerometerRange: domain.AccelRange2G,
	GyroRange:          domain.GyroRange250DPS,
	FilterBand:         domain.FilterBand20Hz,
	DelaySamples:       10,
}

type published struct {
	topic string
	msg   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(topic string, msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, msg: msg})
}

func (p *recordingPublisher) topic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]any, 0)
	for _, ev := range p.events {
		if ev.topic == topic {
			out = append(out, ev.msg)
		}
	}
	return out
}

type fakeChannel struct {
	startErr error
	sendErr  error

	handler transport.Handler
	sent    []string
	closed  int
}

func (c *fakeChannel) Name() string   { return "fake" }
func (c *fakeChannel) Target() string { return "device" }

func (c *fakeChannel) Start(_ context.Context, h transport.Handler) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.handler = h
	return nil
}

func (c *fakeChannel) Send(_ context.Context, data string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed++
	return nil
}

func openConnected(t *testing.T) (*Session, *fakeChannel, *recordingPublisher) {
	t.Helper()

	pub := &recordingPublisher{}
	s := NewSession(nil, pub, NewJSONCodec())
	ch := &fakeChannel{}
	if err := s.Open(context.Background(), ch); err != nil {
		t.Fatalf("open: %v", err)
	}
	ch.handler.OnOpen()
	if s.State() != StateConnected {
		t.Fatalf("expected connected, got %s", s.State())
	}

	return s, ch, pub
}

func TestSessionLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession(nil, pub, NewJSONCodec())
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected initial state, got %s", s.State())
	}

	ch := &fakeChannel{}
	if err := s.Open(context.Background(), ch); err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.State() != StateConnecting {
		t.Fatalf("expected connecting after open, got %s", s.State())
	}

	ch.handler.OnOpen()
	if s.State() != StateConnected {
		t.Fatalf("expected connected after transport open, got %s", s.State())
	}
	if got := len(pub.topic(connectors.TopicSessionOpened)); got != 1 {
		t.Fatalf("expected one session opened event, got %d", got)
	}

	ch.handler.OnClose(errors.New("peer reset"))
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected after transport close, got %s", s.State())
	}
	closed := pub.topic(connectors.TopicSessionClosed)
	if len(closed) != 1 {
		t.Fatalf("expected one session closed event, got %d", len(closed))
	}
	event := closed[0].(connectors.SessionClosed)
	if event.Requested || event.Err != "peer reset" {
		t.Fatalf("unexpected close event: %+v", event)
	}

	statuses := pub.topic(connectors.TopicConnStatus)
	wantStates := []connectors.ConnectionState{
		connectors.ConnectionStateConnecting,
		connectors.ConnectionStateConnected,
		connectors.ConnectionStateDisconnected,
	}
	if len(statuses) != len(wantStates) {
		t.Fatalf("expected %d status events, got %d", len(wantStates), len(statuses))
	}
	for i, raw := range statuses {
		if got := raw.(connectors.ConnectionStatus).State; got != wantStates[i] {
			t.Fatalf("status %d: expected %s, got %s", i, wantStates[i], got)
		}
	}
}

func TestSessionOpenTwiceFails(t *testing.T) {
	s := NewSession(nil, nil, nil)
	if err := s.Open(context.Background(), &fakeChannel{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Open(context.Background(), &fakeChannel{}); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected ErrAlreadyOpen while connecting, got %v", err)
	}
}

func TestSessionOpenStartFailureReturnsToDisconnected(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession(nil, pub, nil)
	startErr := errors.New("dial refused")

	err := s.Open(context.Background(), &fakeChannel{startErr: startErr})
	if !errors.Is(err, startErr) {
		t.Fatalf("expected start error, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.State())
	}
	if got := len(pub.topic(connectors.TopicSessionClosed)); got != 1 {
		t.Fatalf("expected session closed event, got %d", got)
	}
	if err := s.Open(context.Background(), &fakeChannel{}); err != nil {
		t.Fatalf("reopen after failure: %v", err)
	}
}

func TestSessionEmitsDecodedFrames(t *testing.T) {
	s, ch, pub := openConnected(t)

	ch.handler.OnMessage(validFrame)

	frames := pub.topic(connectors.TopicSensorFrame)
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(frames))
	}
	frame := frames[0].(domain.SensorFrame)
	if frame.Gyro.Z != 6 || frame.Temperature != 36.6 {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if got := s.Stats().FramesAccepted; got != 1 {
		t.Fatalf("expected one accepted frame, got %d", got)
	}
}

func TestSessionToleratesMalformedFrame(t *testing.T) {
	s, ch, pub := openConnected(t)

	ch.handler.OnMessage(`{"acceleration":`)
	if s.State() != StateConnected {
		t.Fatalf("decode failure must not change state, got %s", s.State())
	}
	rejected := pub.topic(connectors.TopicFrameRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected one rejection, got %d", len(rejected))
	}
	if !errors.Is(rejected[0].(connectors.FrameRejected).Err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload rejection, got %v", rejected[0])
	}

	ch.handler.OnMessage(validFrame)
	if got := len(pub.topic(connectors.TopicSensorFrame)); got != 1 {
		t.Fatalf("expected following frame to be emitted, got %d", got)
	}
	stats := s.Stats()
	if stats.FramesAccepted != 1 || stats.FramesRejected != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSessionIgnoresMessagesBeforeOpen(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession(nil, pub, nil)
	ch := &fakeChannel{}
	if err := s.Open(context.Background(), ch); err != nil {
		t.Fatalf("open: %v", err)
	}

	ch.handler.OnMessage(validFrame)
	if got := len(pub.topic(connectors.TopicSensorFrame)); got != 0 {
		t.Fatalf("expected no frames while connecting, got %d", got)
	}
}

func TestSendConfigRequiresConnected(t *testing.T) {
	s := NewSession(nil, nil, nil)
	if err := s.SendConfig(context.Background(), sampleConfig); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while disconnected, got %v", err)
	}

	ch := &fakeChannel{}
	if err := s.Open(context.Background(), ch); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SendConfig(context.Background(), sampleConfig); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while connecting, got %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("channel must not be written before connected, got %v", ch.sent)
	}
}

func TestSendConfigWritesEncodedPayload(t *testing.T) {
	s, ch, pub := openConnected(t)

	if err := s.SendConfig(context.Background(), sampleConfig); err != nil {
		t.Fatalf("send config: %v", err)
	}

	want := `{"accelerometerRange":"2g","gyroRange":"250dps","filterBand":"20Hz","delay":10}`
	if len(ch.sent) != 1 || ch.sent[0] != want {
		t.Fatalf("unexpected writes: %v", ch.sent)
	}
	if got := len(pub.topic(connectors.TopicRawFrameOut)); got != 1 {
		t.Fatalf("expected outbound raw frame event, got %d", got)
	}
}

func TestSendConfigPropagatesInvalidConfig(t *testing.T) {
	s, ch, _ := openConnected(t)

	cfg := sampleConfig
	cfg.DelaySamples = -1
	err := s.SendConfig(context.Background(), cfg)

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected SendError, got %v", err)
	}
	var invalid *domain.InvalidConfigError
	if !errors.As(err, &invalid) || invalid.Field != domain.FieldDelaySamples {
		t.Fatalf("expected invalid delaySamples, got %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("invalid config must not be written, got %v", ch.sent)
	}
}

func TestSendConfigWrapsWriteFailure(t *testing.T) {
	s, ch, _ := openConnected(t)
	writeErr := errors.New("broken pipe")
	ch.sendErr = writeErr

	err := s.SendConfig(context.Background(), sampleConfig)
	var sendErr *SendError
	if !errors.As(err, &sendErr) || !errors.Is(err, writeErr) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("write failure must not close session, got %s", s.State())
	}
}

func TestCloseIsIdempotentAndDropsLateCallbacks(t *testing.T) {
	s, ch, pub := openConnected(t)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if ch.closed != 1 {
		t.Fatalf("expected channel closed once, got %d", ch.closed)
	}

	ch.handler.OnMessage(validFrame)
	ch.handler.OnClose(nil)

	closed := pub.topic(connectors.TopicSessionClosed)
	if len(closed) != 1 {
		t.Fatalf("expected exactly one close event, got %d", len(closed))
	}
	if !closed[0].(connectors.SessionClosed).Requested {
		t.Fatalf("expected requested close event")
	}
	if got := len(pub.topic(connectors.TopicSensorFrame)); got != 0 {
		t.Fatalf("expected late frame to be dropped, got %d", got)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.State())
	}
}

func TestCloseWhileConnecting(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewSession(nil, pub, nil)
	ch := &fakeChannel{}
	if err := s.Open(context.Background(), ch); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ch.handler.OnOpen()
	if s.State() != StateDisconnected {
		t.Fatalf("late open must not revive a closed session, got %s", s.State())
	}
	if got := len(pub.topic(connectors.TopicSessionOpened)); got != 0 {
		t.Fatalf("expected no session opened events, got %d", got)
	}
}

func TestStaleChannelCannotCloseNewSession(t *testing.T) {
	s, first, _ := openConnected(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := &fakeChannel{}
	if err := s.Open(context.Background(), second); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	second.handler.OnOpen()

	first.handler.OnClose(errors.New("late close from old socket"))
	if s.State() != StateConnected {
		t.Fatalf("stale close must not affect new session, got %s", s.State())
	}
}

// gatedCodec blocks Decode until release is closed.
type gatedCodec struct {
	*JSONCodec
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCodec) Decode(raw string) (domain.SensorFrame, error) {
	close(c.entered)
	<-c.release
	return c.JSONCodec.Decode(raw)
}

func TestSessionNoFrameAfterConcurrentClose(t *testing.T) {
	pub := &recordingPublisher{}
	codec := &gatedCodec{JSONCodec: NewJSONCodec(), entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(nil, pub, codec)
	ch := &fakeChannel{}
	if err := s.Open(context.Background(), ch); err != nil {
		t.Fatalf("open: %v", err)
	}
	ch.handler.OnOpen()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ch.handler.OnMessage(validFrame)
	}()
	<-codec.entered
	go func() {
		defer wg.Done()
		_ = s.Close()
	}()
	time.Sleep(20 * time.Millisecond)
	close(codec.release)
	wg.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	closedAt := -1
	for i, ev := range pub.events {
		switch ev.topic {
		case connectors.TopicSessionClosed:
			closedAt = i
		case connectors.TopicSensorFrame:
			if closedAt >= 0 {
				t.Fatalf("sensor frame published after session closed: %v", pub.events)
			}
		}
	}
	if closedAt < 0 {
		t.Fatalf("expected session closed event")
	}
}
