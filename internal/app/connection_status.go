package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mpuview/mpuview/internal/config"
	"github.com/mpuview/mpuview/internal/connectors"
	"github.com/mpuview/mpuview/internal/transport"
)

// ChannelFactory builds a fresh, unstarted channel for each connection attempt.
type ChannelFactory func() (transport.Channel, error)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorWebSocket:
		return "websocket"
	case config.ConnectorTCP:
		return "tcp"
	case config.ConnectorSerial:
		return "serial"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

func ConnectionTarget(cfg config.ConnectionConfig) string {
	switch cfg.Connector {
	case config.ConnectorWebSocket, config.ConnectorTCP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return ""
		}
		port := cfg.Port
		if port <= 0 {
			port = config.DefaultPort
		}
		return net.JoinHostPort(host, strconv.Itoa(port))
	case config.ConnectorSerial:
		return strings.TrimSpace(cfg.SerialPort)
	default:
		return ""
	}
}

func ConnectionStatusFromConfig(cfg config.ConnectionConfig) connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
}

func NewChannelForConnection(cfg config.ConnectionConfig) (transport.Channel, error) {
	switch cfg.Connector {
	case config.ConnectorWebSocket:
		return transport.NewWebSocketChannel(strings.TrimSpace(cfg.Host), cfg.Port, cfg.Path), nil
	case config.ConnectorTCP:
		return transport.NewTCPChannel(strings.TrimSpace(cfg.Host), cfg.Port, cfg.Path), nil
	case config.ConnectorSerial:
		return transport.NewSerialChannel(strings.TrimSpace(cfg.SerialPort), cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}

// ChannelFactoryForConnection binds cfg into a factory for the reconnect policy.
func ChannelFactoryForConnection(cfg config.ConnectionConfig) ChannelFactory {
	return func() (transport.Channel, error) {
		return NewChannelForConnection(cfg)
	}
}
