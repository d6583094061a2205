package connectors

import (
	"time"

	"github.com/mpuview/mpuview/internal/domain"
)

// ConnectionState describes the session lifecycle state shown to the user.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
)

// ConnectionStatus is a bus event snapshot of current session status.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// SessionOpened is published once the transport reports the stream is open.
type SessionOpened struct {
	TransportName string
	Target        string
	Timestamp     time.Time
}

// SessionClosed is published on every transition back to disconnected.
// Requested is set when the close was asked for by the caller rather than the transport.
type SessionClosed struct {
	TransportName string
	Target        string
	Err           string
	Requested     bool
	Timestamp     time.Time
}

// FrameRejected carries an inbound payload that failed to decode.
type FrameRejected struct {
	Err       error
	Raw       string
	Timestamp time.Time
}

// ConfigApplied is published after a device config was written to the stream.
type ConfigApplied struct {
	Config    domain.DeviceConfig
	Timestamp time.Time
}

// RawFrame carries payload diagnostics for debug/log views.
type RawFrame struct {
	Text string
	Len  int
}
