package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mpuview/mpuview/internal/config"
)

func TestFanoutWriter_ContinuesWhenOneDestinationFails(t *testing.T) {
	var dst bytes.Buffer
	w := newFanoutWriter(errorWriter{err: errors.New("broken stdout")}, &dst)

	n, err := w.Write([]byte("test"))
	if err != nil {
		t.Fatalf("write returned error: %v", err)
	}
	if n != len("test") {
		t.Fatalf("unexpected bytes written: got %d, want %d", n, len("test"))
	}
	if got := dst.String(); got != "test" {
		t.Fatalf("unexpected destination contents: got %q", got)
	}
}

func TestFanoutWriter_FailsWhenAllDestinationsFail(t *testing.T) {
	w := newFanoutWriter(errorWriter{err: errors.New("first")}, errorWriter{err: errors.New("second")})

	if _, err := w.Write([]byte("test")); err == nil || err.Error() != "first" {
		t.Fatalf("expected first destination error, got %v", err)
	}
}

func TestManagerConfigure_LogFileStillReceivesLogsWhenConsoleFails(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "logs", "mpuview.log")
	m := NewManagerWithOutput(errorWriter{err: errors.New("broken console")})
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	slog.Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	cleanLogPath := filepath.Clean(logPath)
	// #nosec G304 -- logPath is created from t.TempDir() in this test.
	raw, err := os.ReadFile(cleanLogPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte("file must receive this message")) {
		t.Fatalf("log file does not contain test message, contents: %q", string(raw))
	}
}

func TestManagerConfigure_JSONFormatAndComponent(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var out bytes.Buffer
	m := NewManagerWithOutput(&out)
	if err := m.Configure(config.LoggingConfig{Level: "warn", Format: config.LogFormatJSON}, ""); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	logger := m.Logger("session")
	logger.Info("filtered out")
	logger.Warn("frame rejected", "field", "gyro.z")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record above warn level, got %d: %q", len(lines), out.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode json record: %v", err)
	}
	if record["component"] != "session" || record["field"] != "gyro.z" || record["msg"] != "frame rejected" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestManagerConfigure_RejectsUnknownLevel(t *testing.T) {
	m := NewManagerWithOutput(&bytes.Buffer{})
	if err := m.Configure(config.LoggingConfig{Level: "verbose"}, ""); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{raw: "", want: slog.LevelInfo},
		{raw: "DEBUG", want: slog.LevelDebug},
		{raw: " warning ", want: slog.LevelWarn},
		{raw: "error", want: slog.LevelError},
	}

	for _, tc := range tests {
		got, err := ParseLevel(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got.Level() != tc.want {
			t.Fatalf("parse %q: expected %v, got %v", tc.raw, tc.want, got.Level())
		}
	}
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}
