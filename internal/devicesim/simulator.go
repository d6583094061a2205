// Package devicesim imitates the ESP32 MPU-6050 board: it streams synthetic
// sensor frames and applies config commands sent back by a client.
package devicesim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpuview/mpuview/internal/domain"
	"github.com/mpuview/mpuview/internal/telemetry"
)

// DefaultInterval matches the firmware's sleep between samples.
const DefaultInterval = 100 * time.Millisecond

const writeTimeout = 2 * time.Second

type Options struct {
	// Interval is the time per sample; the device waits Interval*(1+DelaySamples).
	Interval time.Duration
	// Legacy streams {"gyro":[...],"accel":[...],"temp":t} like the firmware.
	Legacy bool
	// Initial is the device config at power-on. Zero means the firmware defaults.
	Initial domain.DeviceConfig
}

type Simulator struct {
	logger   *slog.Logger
	codec    *telemetry.JSONCodec
	interval time.Duration
	legacy   bool
	upgrader websocket.Upgrader

	mu      sync.Mutex
	cfg     domain.DeviceConfig
	applied []domain.DeviceConfig
	sample  uint64
	changed chan struct{}
}

func New(logger *slog.Logger, opts Options) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	cfg := opts.Initial
	if cfg.Validate() != nil {
		cfg = domain.DefaultDeviceConfig()
	}

	return &Simulator{
		logger:   logger,
		codec:    telemetry.NewJSONCodec(),
		interval: opts.Interval,
		legacy:   opts.Legacy,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cfg:     cfg,
		changed: make(chan struct{}, 1),
	}
}

// Config returns the device config currently in effect.
func (s *Simulator) Config() domain.DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cfg
}

// Applied returns every config command accepted so far, oldest first.
func (s *Simulator) Applied() []domain.DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.DeviceConfig(nil), s.applied...)
}

// Changed is signalled (without blocking) each time a config is applied.
func (s *Simulator) Changed() <-chan struct{} {
	return s.changed
}

// Handler serves the stream endpoint at path.
func (s *Simulator) Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, s)

	return mux
}

func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	logger := s.logger.With("remote", r.RemoteAddr, "mode", "websocket")
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("client read ended", "error", err)
				return
			}
			s.HandleCommand(string(msg))
		}
	}()

	err = s.stream(ctx, func(payload string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(payload))
	})
	if err != nil {
		logger.Info("client dropped", "error", err)
	}

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
	logger.Info("client disconnected")
}

// ServeTCP runs the firmware's plain socket server on ln until ctx is done.
// Frames are written back to back with no separator.
func (s *Simulator) ServeTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveTCPConn(ctx, conn)
		}()
	}
}

func (s *Simulator) serveTCPConn(parent context.Context, conn net.Conn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String(), "mode", "tcp")
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	go func() {
		defer cancel()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			s.HandleCommand(scanner.Text())
		}
	}()

	err := s.stream(ctx, func(payload string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := conn.Write([]byte(payload))
		return err
	})
	if err != nil {
		logger.Info("client dropped", "error", err)
	}
	_ = conn.Close()
	logger.Info("client disconnected")
}

// HandleCommand applies one inbound config command. Text that is not a JSON
// object, such as an HTTP request line, is ignored.
func (s *Simulator) HandleCommand(text string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		if text != "" {
			s.logger.Debug("ignoring non-json command", "text", text)
		}
		return
	}

	cfg, err := s.codec.DecodeConfig(text)
	if err != nil {
		s.logger.Warn("rejecting config command", "error", err)
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	s.applied = append(s.applied, cfg)
	s.mu.Unlock()

	select {
	case s.changed <- struct{}{}:
	default:
	}
	s.logger.Info(
		"config applied",
		"accelerometer_range", cfg.AccelerometerRange,
		"gyro_range", cfg.GyroRange,
		"filter_band", cfg.FilterBand,
		"delay_samples", cfg.DelaySamples,
	)
}

func (s *Simulator) stream(ctx context.Context, write func(payload string) error) error {
	for {
		payload, err := s.nextPayload()
		if err != nil {
			return err
		}
		if err := write(payload); err != nil {
			return err
		}
		if !sleepWithContext(ctx, s.period()) {
			return nil
		}
	}
}

// period is the firmware's per-sample sleep stretched by the configured delay.
func (s *Simulator) period() time.Duration {
	s.mu.Lock()
	delay := s.cfg.DelaySamples
	s.mu.Unlock()

	return s.interval * time.Duration(1+delay)
}

func (s *Simulator) nextPayload() (string, error) {
	s.mu.Lock()
	n := s.sample
	s.sample++
	cfg := s.cfg
	s.mu.Unlock()

	frame := SyntheticFrame(n, cfg)
	if s.legacy {
		return s.codec.EncodeFirmwareFrame(frame)
	}

	return s.codec.EncodeFrame(frame)
}

// SyntheticFrame returns sample n of a slow wobble around a board lying flat.
// Values are clamped to the ranges in cfg.
func SyntheticFrame(n uint64, cfg domain.DeviceConfig) domain.SensorFrame {
	phase := float64(n) * 0.1
	accelLimit := float64(cfg.AccelerometerRange.G())
	gyroLimit := float64(cfg.GyroRange.DPS())

	return domain.SensorFrame{
		Acceleration: domain.Vector3{
			X: clamp(0.05*math.Sin(phase), accelLimit),
			Y: clamp(0.05*math.Cos(phase), accelLimit),
			Z: clamp(1+0.01*math.Sin(2*phase), accelLimit),
		},
		Gyro: domain.Vector3{
			X: clamp(12*math.Cos(phase), gyroLimit),
			Y: clamp(-12*math.Sin(phase), gyroLimit),
			Z: clamp(3*math.Sin(0.5*phase), gyroLimit),
		},
		Temperature: 24.5 + 0.25*math.Sin(0.01*phase),
	}
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}

	return math.Max(-limit, math.Min(limit, v))
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
