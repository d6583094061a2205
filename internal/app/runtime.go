package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mpuview/mpuview/internal/bus"
	"github.com/mpuview/mpuview/internal/config"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/domain"
	"github.com/mpuview/mpuview/internal/logging"
	"github.com/mpuview/mpuview/internal/persistence"
	"github.com/mpuview/mpuview/internal/telemetry"
)

const shutdownFlushTimeout = 2 * time.Second

// Options tune Initialize. The zero value uses the user config dir.
type Options struct {
	// RootDir replaces the user config dir when set.
	RootDir string
	// Override adjusts the loaded config before it is validated, e.g. from CLI flags.
	Override func(cfg *config.AppConfig)
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager  *logging.Manager
	Bus         *bus.PubSubBus
	DB          *sql.DB
	Journal     *persistence.ConfigJournal
	WriterQueue *persistence.WriterQueue

	writerCancel context.CancelFunc

	Session     *telemetry.Session
	Settings    *Settings
	Reconnector *Reconnector

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool

	closeOnce sync.Once
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	var (
		paths Paths
		err   error
	)
	if opts.RootDir != "" {
		paths, err = PathsIn(opts.RootDir)
	} else {
		paths, err = ResolvePaths()
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
		cfg.FillMissingDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting mpuview runtime", "version", BuildVersion(), "connector", cfg.Connection.Connector)

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.DB = db
	rt.Journal = persistence.NewConfigJournal(db)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	rt.setConnStatus(ConnectionStatusFromConfig(cfg.Connection))
	bus.Listen(ctx, b, connectors.TopicConnStatus, rt.setConnStatus)

	// The writer outlives ctx so shutdown can flush after a signal.
	writerCtx, writerCancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.writerCancel = writerCancel
	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), 64)
	writerQueue.Start(writerCtx)
	rt.WriterQueue = writerQueue
	StartJournalProjection(ctx, b, writerQueue, rt.Journal)

	rt.Session = telemetry.NewSession(logMgr.Logger("session"), b, telemetry.NewJSONCodec())
	rt.Settings = NewSettings(logMgr.Logger("settings"), rt.Session, b, rt)

	if cfg.Reconnect.Enabled {
		rt.Reconnector = NewReconnector(
			logMgr.Logger("reconnect"),
			rt.Session,
			ChannelFactoryForConnection(cfg.Connection),
			cfg.Reconnect.InitialDelay(),
			cfg.Reconnect.MaxDelay(),
		)
		rt.Reconnector.Start(ctx, b)
	}

	return rt, nil
}

// Connect opens the session on a fresh channel for the configured connector.
func (r *Runtime) Connect() error {
	ch, err := NewChannelForConnection(r.CurrentConfig().Connection)
	if err != nil {
		return err
	}

	return r.Session.Open(r.Ctx, ch)
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// DeviceDefaults returns the device settings last applied or loaded from config.
func (r *Runtime) DeviceDefaults() domain.DeviceConfig {
	return r.CurrentConfig().Device.Domain()
}

// SaveDeviceDefaults persists cfg as the device section of the config file.
func (r *Runtime) SaveDeviceDefaults(cfg domain.DeviceConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.Config
	next.Device = config.DeviceConfigFromDomain(cfg)
	if next.Device == r.Config.Device {
		return nil
	}
	if err := config.Save(r.Paths.ConfigFile, next); err != nil {
		return err
	}
	r.Config = next

	return nil
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// AppliedConfigs lists the journal, newest first.
func (r *Runtime) AppliedConfigs(ctx context.Context, limit int) ([]persistence.AppliedConfig, error) {
	if r.Journal == nil {
		return nil, fmt.Errorf("database is not initialized")
	}

	return r.Journal.List(ctx, limit)
}

func (r *Runtime) ClearJournal(ctx context.Context) error {
	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("config journal cleared")

	return nil
}

// Close stops the session before the bus shuts down and waits for pending
// journal writes. Calls after the first are no-ops.
func (r *Runtime) Close() error {
	r.closeOnce.Do(r.shutdown)
	return nil
}

func (r *Runtime) shutdown() {
	if r.Session != nil {
		if err := r.Session.Close(); err != nil {
			slog.Warn("close session", "error", err)
		}
	}
	if r.WriterQueue != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		if err := r.WriterQueue.Flush(flushCtx); err != nil {
			slog.Warn("flush db writes", "error", err)
		}
		cancel()
	}
	if r.writerCancel != nil {
		r.writerCancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
}
