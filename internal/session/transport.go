// File: internal/session/transport.go
package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/network"
)

// Maximum message size allowed from the peer. Command results are JSON
// documents, not file transfers.
const maxMessageSize = 1024 * 1024 // 1MB

// Conn is one established relay session. Implementations must allow one
// concurrent reader and serialize writers themselves.
type Conn interface {
	// ReadMessage blocks until the next text frame or a read failure.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error
	// Ping sends a keepalive probe.
	Ping() error
	Close() error
}

// Dialer establishes relay sessions. The Manager depends on this interface so
// tests can script connections without a network.
type Dialer interface {
	DialContext(ctx context.Context, rawURL string) (Conn, error)
}

// WebsocketDialer dials relays over websocket using the shared TCP dialer and
// the hardened TLS defaults from the network package.
type WebsocketDialer struct {
	cfg     config.SessionConfig
	netCfg  *network.ClientConfig
	headers http.Header
	log     *zap.Logger
}

// NewWebsocketDialer builds a dialer from the session and network settings.
// clientCfg may be nil; the network defaults then apply.
func NewWebsocketDialer(cfg config.SessionConfig, clientCfg *network.ClientConfig, logger *zap.Logger) *WebsocketDialer {
	if clientCfg == nil {
		clientCfg = network.NewDefaultClientConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := make(http.Header, len(clientCfg.Headers))
	for k, v := range clientCfg.Headers {
		headers.Set(k, v)
	}

	return &WebsocketDialer{
		cfg:     cfg,
		netCfg:  clientCfg,
		headers: headers,
		log:     logger.Named("ws_dialer"),
	}
}

var _ Dialer = (*WebsocketDialer)(nil)

// DialContext performs the websocket handshake and returns the wrapped
// connection with read deadlines armed.
func (d *WebsocketDialer) DialContext(ctx context.Context, rawURL string) (Conn, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("no relay URL configured")
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: d.netCfg.IgnoreTLSErrors}
	if d.netCfg.TLSConfig != nil {
		tlsConfig = d.netCfg.TLSConfig.Clone()
		tlsConfig.InsecureSkipVerify = d.netCfg.IgnoreTLSErrors
	}

	dialerCfg := d.netCfg.DialerConfig
	wsDialer := &websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		TLSClientConfig:  tlsConfig,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		NetDialContext: func(ctx context.Context, netw, addr string) (net.Conn, error) {
			return network.DialTCPContext(ctx, netw, addr, dialerCfg)
		},
	}
	if d.netCfg.ProxyURL != nil {
		wsDialer.Proxy = http.ProxyURL(d.netCfg.ProxyURL)
	}

	conn, resp, err := wsDialer.DialContext(ctx, rawURL, d.headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (handshake status %s)", err, resp.Status)
		}
		return nil, &protocolDialError{url: rawURL, err: err}
	}
	d.log.Debug("Websocket session established", zap.String("url", rawURL))

	return newWSConn(conn, d.cfg.WriteWait, d.cfg.PongWait), nil
}

// protocolDialError keeps the relay URL with the handshake failure.
type protocolDialError struct {
	url string
	err error
}

func (e *protocolDialError) Error() string {
	return fmt.Sprintf("dial %s: %v", e.url, e.err)
}

func (e *protocolDialError) Unwrap() error { return e.err }

// wsConn adapts a gorilla connection to the Conn interface: one writer at a
// time, write deadlines on every frame, and a read deadline the pong handler
// keeps extending.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	writeWait time.Duration
	pongWait  time.Duration
}

func newWSConn(conn *websocket.Conn, writeWait, pongWait time.Duration) *wsConn {
	c := &wsConn{
		conn:      conn,
		writeWait: writeWait,
		pongWait:  pongWait,
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Binary frames are not part of the protocol; skip without failing.
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	// Best effort close frame; the peer may already be gone.
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeWait),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}
