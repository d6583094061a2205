package display

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/domain"
)

const timeLayout = "15:04:05.000"

// Renderer writes one line per session event to an io.Writer.
type Renderer struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, now: time.Now}
}

// Start subscribes to frame and lifecycle topics and returns once subscribed.
// The returned channel closes after every listener stopped.
func (r *Renderer) Start(ctx context.Context, b bus.MessageBus) <-chan struct{} {
	listeners := []<-chan struct{}{
		bus.Listen(ctx, b, connectors.TopicSensorFrame, r.RenderFrame),
		bus.Listen(ctx, b, connectors.TopicSessionOpened, r.renderOpened),
		bus.Listen(ctx, b, connectors.TopicSessionClosed, r.renderClosed),
		bus.Listen(ctx, b, connectors.TopicFrameRejected, r.renderRejected),
		bus.Listen(ctx, b, connectors.TopicConfigApplied, r.renderApplied),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, l := range listeners {
			<-l
		}
	}()

	return done
}

func (r *Renderer) RenderFrame(frame domain.SensorFrame) {
	r.printf("%s", FormatFrame(frame))
}

func (r *Renderer) renderOpened(ev connectors.SessionOpened) {
	r.printf("connected via %s to %s", ev.TransportName, ev.Target)
}

func (r *Renderer) renderClosed(ev connectors.SessionClosed) {
	switch {
	case ev.Requested:
		r.printf("disconnected")
	case ev.Err != "":
		r.printf("connection lost: %s", ev.Err)
	default:
		r.printf("connection closed by device")
	}
}

func (r *Renderer) renderRejected(ev connectors.FrameRejected) {
	r.printf("frame rejected: %v", ev.Err)
}

func (r *Renderer) renderApplied(ev connectors.ConfigApplied) {
	cfg := ev.Config
	r.printf(
		"config applied: accel %s, gyro %s, filter %s, delay %d",
		cfg.AccelerometerRange, cfg.GyroRange, cfg.FilterBand, cfg.DelaySamples,
	)
}

func (r *Renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "%s %s\n", r.now().Format(timeLayout), fmt.Sprintf(format, args...))
}
