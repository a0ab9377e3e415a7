// File: internal/session/transport_test.go
package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/network"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// startRelayStub runs handler on an upgraded websocket connection. The
// returned done channel closes when the handler exits; tests must drain it
// before finishing because hijacked connections outlive server.Close.
func startRelayStub(t *testing.T, handler func(*websocket.Conn)) (string, <-chan struct{}) {
	t.Helper()

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			close(done)
			return
		}
		defer close(done)
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), done
}

func testDialer(t *testing.T, clientCfg *network.ClientConfig) *WebsocketDialer {
	t.Helper()
	return NewWebsocketDialer(testSessionConfig(), clientCfg, zaptest.NewLogger(t))
}

func TestWebsocketDialer_SessionEcho(t *testing.T) {
	t.Parallel()

	// -- Setup --
	url, done := startRelayStub(t, func(conn *websocket.Conn) {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(msgType, data)
		// Hold the connection open until the client closes it.
		conn.ReadMessage()
	})

	dialer := testDialer(t, nil)

	// -- Execution --
	conn, err := dialer.DialContext(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage([]byte(`{"type":"hello","address":"0xabc"}`)))
	data, err := conn.ReadMessage()

	// -- Assertions --
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello","address":"0xabc"}`, string(data))

	require.NoError(t, conn.Ping(), "keepalive probes should not fail on a live link")
	require.NoError(t, conn.Close())
	<-done
}

func TestWebsocketDialer_SendsConfiguredHeaders(t *testing.T) {
	t.Parallel()

	// -- Setup --
	gotToken := make(chan string, 1)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken <- r.Header.Get("X-Relay-Token")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			close(done)
			return
		}
		defer close(done)
		defer conn.Close()
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	clientCfg := network.NewDefaultClientConfig()
	clientCfg.Headers = map[string]string{"X-Relay-Token": "tok-123"}
	dialer := testDialer(t, clientCfg)

	// -- Execution --
	conn, err := dialer.DialContext(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	// -- Assertions --
	assert.Equal(t, "tok-123", <-gotToken)
	require.NoError(t, conn.Close())
	<-done
}

func TestWebsocketDialer_HandshakeRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay is draining", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	dialer := testDialer(t, nil)

	conn, err := dialer.DialContext(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Contains(t, err.Error(), "dial ws")
	assert.Contains(t, err.Error(), "503")
}

func TestWebsocketDialer_EmptyURL(t *testing.T) {
	t.Parallel()

	dialer := testDialer(t, nil)

	_, err := dialer.DialContext(context.Background(), "")
	assert.ErrorContains(t, err, "no relay URL configured")
}

func TestWebsocketDialer_ContextCancellation(t *testing.T) {
	t.Parallel()

	dialer := testDialer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Reserved documentation address; the canceled context aborts the dial
	// before any packet leaves.
	_, err := dialer.DialContext(ctx, "ws://203.0.113.1:9/session")
	require.Error(t, err)
}

func TestWSConn_SkipsBinaryFrames(t *testing.T) {
	t.Parallel()

	// -- Setup --
	url, done := startRelayStub(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"server_notice"}`))
		conn.ReadMessage()
	})

	dialer := testDialer(t, nil)
	conn, err := dialer.DialContext(context.Background(), url)
	require.NoError(t, err)

	// -- Execution --
	data, err := conn.ReadMessage()

	// -- Assertions --
	require.NoError(t, err)
	assert.Equal(t, `{"type":"server_notice"}`, string(data), "the binary frame should be skipped")

	require.NoError(t, conn.Close())
	<-done
}

func TestNewWebsocketDialer_NilConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	dialer := NewWebsocketDialer(config.SessionConfig{HandshakeTimeout: time.Second}, nil, nil)

	require.NotNil(t, dialer)
	assert.NotNil(t, dialer.netCfg)
	assert.Empty(t, dialer.headers)
}
