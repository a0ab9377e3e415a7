// File: cmd/exec_test.go
package cmd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkoreth/quill-cli/internal/keystore"
)

func TestExec_LocalStatus(t *testing.T) {
	stdout, _, err := executeQuill(t, nil, quietArgs(t.TempDir(), "exec", "status")...)

	require.NoError(t, err)
	assert.Contains(t, stdout, `"disconnected"`)
}

func TestExec_LocalWhoami(t *testing.T) {
	stateDir := t.TempDir()

	// whoami is local and unsigned: it must not invent an identity.
	_, _, err := executeQuill(t, nil, quietArgs(stateDir, "exec", "whoami")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identity configured")

	stdout, _, err := executeQuill(t, nil, quietArgs(stateDir, "identity", "new")...)
	require.NoError(t, err)
	address := firstAddressLine(t, stdout)

	stdout, _, err = executeQuill(t, nil, quietArgs(stateDir, "exec", "whoami")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, address)
}

func TestExec_SessionCommandEndToEnd(t *testing.T) {
	// -- Setup --
	stateDir := t.TempDir()
	relayURL, frames := startRelay(t, true)

	// -- Execution --
	stdout, stderr, err := executeQuill(t, nil,
		quietArgs(stateDir, "--relay", relayURL, "exec", "deploy", "api", "--timeout", "5s")...)

	// -- Assertions --
	require.NoError(t, err)
	assert.Contains(t, stderr, "Created new identity", "first use should mint an identity")
	assert.Contains(t, stderr, `"deploy" is not in the registry`)
	assert.Contains(t, stdout, `"echo": "deploy api"`)
	assert.Contains(t, stdout, `"signed": true`)

	hello := <-frames
	require.Equal(t, "hello", hello.Type)
	assert.Regexp(t, `^0x[0-9a-fA-F]{40}$`, hello.Address)

	command := <-frames
	require.Equal(t, "command", command.Type)
	assert.Equal(t, "deploy api", command.Payload)
	require.NotNil(t, command.Auth, "unregistered commands go out signed")
	assert.Equal(t, hello.Address, command.Auth.Address)
}

func TestExec_PayloadIsCanonicalizedAndSigned(t *testing.T) {
	// -- Setup --
	stateDir := t.TempDir()
	relayURL, frames := startRelay(t, true)

	// -- Execution --
	_, _, err := executeQuill(t, nil,
		quietArgs(stateDir, "--relay", relayURL, "exec", "deploy",
			"--payload", `{"b": 2, "a": 1}`, "--timeout", "5s")...)

	// -- Assertions --
	require.NoError(t, err)

	<-frames // hello
	command := <-frames
	require.NotNil(t, command.Auth)

	// The signature covers the canonical payload encoding, independent of the
	// key order the user typed.
	recovered, err := keystore.RecoverAddress([]byte(`{"a":1,"b":2}`), command.Auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, command.Auth.Address, recovered)
}

func TestExec_NoWaitPrintsDispatchID(t *testing.T) {
	stateDir := t.TempDir()
	relayURL, _ := startRelay(t, false)

	stdout, _, err := executeQuill(t, nil,
		quietArgs(stateDir, "--relay", relayURL, "exec", "deploy", "--wait=false")...)

	require.NoError(t, err)
	_, parseErr := uuid.Parse(strings.TrimSpace(stdout))
	assert.NoError(t, parseErr, "fire-and-forget should print the dispatch id")
}

func TestExec_TimeoutSurfacesAsError(t *testing.T) {
	stateDir := t.TempDir()
	relayURL, _ := startRelay(t, false)

	start := time.Now()
	_, _, err := executeQuill(t, nil,
		quietArgs(stateDir, "--relay", relayURL, "exec", "deploy", "--timeout", "150ms")...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second, "the timeout flag should bound the wait")
}

func TestExec_NoRelayConfigured(t *testing.T) {
	_, _, err := executeQuill(t, nil, quietArgs(t.TempDir(), "exec", "deploy")...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no relay URL configured")
}

func TestExec_InvalidPayloadJSON(t *testing.T) {
	_, _, err := executeQuill(t, nil,
		quietArgs(t.TempDir(), "exec", "status", "--payload", "{not json")...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --payload JSON")
}

func TestExec_RequiresCommandName(t *testing.T) {
	_, _, err := executeQuill(t, nil, quietArgs(t.TempDir(), "exec")...)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestExec_StatelessCommandNeedsNoRelay(t *testing.T) {
	// -- Setup --
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nodes": 17}`))
	}))
	defer server.Close()

	manifest := writeConfigFile(t, `
commands:
  - name: graph
    kind: stateless-request
    stateless:
      endpoint: `+server.URL+`
      method: GET
`)
	cfgFile := writeConfigFile(t, `
router:
  manifest_path: `+manifest+`
logger:
  level: error
`)

	// -- Execution: no relay URL and no identity anywhere in the setup --
	stdout, stderr, err := executeQuill(t, nil,
		"--config", cfgFile, "--state-dir", t.TempDir(), "exec", "graph")

	// -- Assertions --
	require.NoError(t, err)
	assert.Contains(t, stdout, `"nodes": 17`)
	assert.NotContains(t, stderr, "Created new identity",
		"an unsigned stateless exchange should not mint an identity")
}
