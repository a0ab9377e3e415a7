// File: cmd/commands_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkoreth/quill-cli/api/protocol"
)

func TestCommands_TableListsBuiltins(t *testing.T) {
	stdout, _, err := executeQuill(t, nil, quietArgs(t.TempDir(), "commands")...)

	require.NoError(t, err)
	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, "KIND")
	for _, builtin := range []string{"help", "status", "whoami"} {
		assert.Contains(t, stdout, builtin)
	}
}

func TestCommands_JSONOutput(t *testing.T) {
	stdout, _, err := executeQuill(t, nil, quietArgs(t.TempDir(), "commands", "--json")...)
	require.NoError(t, err)

	var descriptors []protocol.CommandDescriptor
	require.NoError(t, json.UnmarshalFromString(stdout, &descriptors))
	assert.GreaterOrEqual(t, len(descriptors), 3)
	for _, d := range descriptors {
		assert.True(t, d.Kind.Valid(), "descriptor %q should carry a valid kind", d.Name)
	}
}

func TestCommands_IncludesManifestEntries(t *testing.T) {
	// -- Setup --
	manifest := writeConfigFile(t, `
commands:
  - name: deploy
    kind: authenticated-session
    requires_signature: true
    description: Deploy a build.
  - name: graph
    kind: stateless-request
    stateless:
      endpoint: https://api.example.com/graph
      method: POST
`)
	cfgFile := writeConfigFile(t, `
router:
  manifest_path: `+manifest+`
logger:
  level: error
`)

	// -- Execution --
	stdout, _, err := executeQuill(t, nil,
		"--config", cfgFile, "--state-dir", t.TempDir(), "commands")

	// -- Assertions --
	require.NoError(t, err)
	assert.Contains(t, stdout, "deploy")
	assert.Contains(t, stdout, "Deploy a build.")
	assert.Contains(t, stdout, "graph")
	assert.Contains(t, stdout, string(protocol.KindStatelessRequest))
}
