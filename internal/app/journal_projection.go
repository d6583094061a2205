package app

import (
	"context"
	"time"

	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/domain"
)

// WriteQueue runs database writes off the bus goroutine.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// ConfigRecorder stores an applied device config.
type ConfigRecorder interface {
	Record(ctx context.Context, cfg domain.DeviceConfig, appliedAt time.Time) (int64, error)
}

// StartJournalProjection records every ConfigApplied event in the journal.
// It returns once subscribed; the returned channel closes when it stops.
func StartJournalProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, journal ConfigRecorder) <-chan struct{} {
	return bus.Listen(ctx, b, connectors.TopicConfigApplied, func(ev connectors.ConfigApplied) {
		cfg := ev.Config
		appliedAt := ev.Timestamp
		queue.Enqueue("record_device_config", func(writeCtx context.Context) error {
			_, err := journal.Record(writeCtx, cfg, appliedAt)
			return err
		})
	})
}
