// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/xkoreth/quill-cli/internal/observability"
)

// executeQuill runs one pristine root command with captured output, the way
// a user invocation would, and returns stdout, stderr and the command error.
// The logger is re-armed per call so the per-test --log-level applies.
func executeQuill(t *testing.T, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	root.SetOut(outBuf)
	root.SetErr(errBuf)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

// quietArgs prefixes the isolation flags every test invocation wants: a
// throwaway state directory and a logger that only speaks on real errors.
func quietArgs(stateDir string, args ...string) []string {
	base := []string{"--state-dir", stateDir, "--log-level", "error"}
	return append(base, args...)
}

// writeConfigFile persists YAML config content to a temp file.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// relayFrame is the decoded shape of any frame the relay stub receives.
type relayFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload string `json:"payload"`
	Address string `json:"address"`
	Auth    *struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	} `json:"auth"`
}

// startRelay serves a websocket relay for the duration of the test. Every
// received frame surfaces on the returned channel; when respond is set,
// command frames are acknowledged with a successful result that echoes the
// payload text and whether the frame arrived signed.
func startRelay(t *testing.T, respond bool) (string, <-chan relayFrame) {
	t.Helper()

	frames := make(chan relayFrame, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame relayFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			select {
			case frames <- frame:
			default:
			}

			if !respond || frame.Type != "command" {
				continue
			}
			reply, err := json.Marshal(map[string]interface{}{
				"type": "command_result",
				"id":   frame.ID,
				"ok":   true,
				"payload": map[string]interface{}{
					"echo":   frame.Payload,
					"signed": frame.Auth != nil,
				},
			})
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), frames
}

// firstAddressLine returns the first line of stdout, which the identity
// commands reserve for the EIP-55 address.
func firstAddressLine(t *testing.T, stdout string) string {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.NotEmpty(t, lines)
	address := strings.TrimSpace(lines[0])
	require.Regexp(t, `^0x[0-9a-fA-F]{40}$`, address)
	return address
}
