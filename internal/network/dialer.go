// File: internal/network/dialer.go
package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialerConfig holds configuration for the low-level TCP dialer shared by the
// HTTP client and the websocket transport.
type DialerConfig struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	// ForceNoDelay controls TCP_NODELAY. Small request/reply frames dominate
	// this client's traffic, so Nagle buffering only adds latency.
	ForceNoDelay bool
}

// NewDialerConfig creates the default dialer configuration.
func NewDialerConfig() *DialerConfig {
	return &DialerConfig{
		Timeout:      10 * time.Second,
		KeepAlive:    30 * time.Second,
		ForceNoDelay: false,
	}
}

// DialTCPContext establishes a raw TCP connection with the configured socket
// options applied. TLS, when needed, is layered on by the caller: http.Transport
// and websocket.Dialer both own their own handshakes.
func DialTCPContext(ctx context.Context, network, address string, config *DialerConfig) (net.Conn, error) {
	if config == nil {
		config = NewDialerConfig()
	}

	dialer := &net.Dialer{
		Timeout:   config.Timeout,
		KeepAlive: config.KeepAlive,
		// Enable Happy Eyeballs (RFC 8305) for faster IPv4/IPv6 fallback.
		FallbackDelay: 300 * time.Millisecond,
	}

	rawConn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tcp dial failed: %w", err)
	}

	if tcpConn, ok := rawConn.(*net.TCPConn); ok {
		if err := configureTCP(tcpConn, config); err != nil {
			tcpConn.Close()
			return nil, err
		}
	}

	return rawConn, nil
}

// configureTCP applies TCP specific settings.
func configureTCP(conn *net.TCPConn, config *DialerConfig) error {
	// Enabling keep-alive helps detect dead peers behind NATs and proxies.
	if err := conn.SetKeepAlive(true); err != nil {
		return fmt.Errorf("failed to enable TCP keep-alive: %w", err)
	}
	if config.KeepAlive > 0 {
		if err := conn.SetKeepAlivePeriod(config.KeepAlive); err != nil {
			return fmt.Errorf("failed to set keep-alive period: %w", err)
		}
	}

	if config.ForceNoDelay {
		if err := conn.SetNoDelay(true); err != nil {
			return fmt.Errorf("failed to set TCP NoDelay: %w", err)
		}
	}
	return nil
}
