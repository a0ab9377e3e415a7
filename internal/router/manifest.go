// File: internal/router/manifest.go
package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/spf13/viper"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/network"
)

// Registry holds the known command descriptors, keyed by normalized name.
// Descriptors arrive from the local manifest and from discovery; later adds
// replace earlier ones of the same name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]protocol.CommandDescriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]protocol.CommandDescriptor)}
}

// Add validates and stores descriptors. The first invalid descriptor aborts
// the batch.
func (r *Registry) Add(descriptors ...protocol.CommandDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range descriptors {
		d = d.Normalized()
		if d.Name == "" {
			return fmt.Errorf("descriptor with empty name")
		}
		if !d.Kind.Valid() {
			return fmt.Errorf("descriptor %q has unknown handler kind %q", d.Name, d.Kind)
		}
		if d.Kind == protocol.KindStatelessRequest && (d.Stateless == nil || d.Stateless.Endpoint == "") {
			return fmt.Errorf("descriptor %q is stateless but names no endpoint", d.Name)
		}
		r.byName[d.Name] = d
	}
	return nil
}

// Lookup finds a descriptor by name, case-insensitively.
func (r *Registry) Lookup(name string) (protocol.CommandDescriptor, bool) {
	key := protocol.CommandDescriptor{Name: name}.Normalized().Name

	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[key]
	return d, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []protocol.CommandDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.CommandDescriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// commandManifest is the on-disk and discovery envelope.
type commandManifest struct {
	Commands []protocol.CommandDescriptor `json:"commands" mapstructure:"commands"`
}

// LoadManifest reads command descriptors from a local manifest file. The
// format follows the config file (YAML/JSON/TOML, decided by extension).
func LoadManifest(path string) ([]protocol.CommandDescriptor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read command manifest: %w", err)
	}

	var manifest commandManifest
	if err := v.Unmarshal(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse command manifest: %w", err)
	}
	return manifest.Commands, nil
}

// FetchDescriptors retrieves the command manifest from a discovery endpoint:
// a single GET returning {"commands": [...]}.
func FetchDescriptors(ctx context.Context, client *network.Client, url string) ([]protocol.CommandDescriptor, error) {
	if client == nil {
		client = network.NewClient(network.NewDefaultClientConfig())
	}
	if url == "" {
		return nil, fmt.Errorf("no discovery URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &protocol.TransportError{Op: "discovery", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxStatelessResponse))
	if err != nil {
		return nil, &protocol.TransportError{Op: "discovery read", Err: err}
	}

	var manifest commandManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode discovery manifest: %w", err)
	}
	return manifest.Commands, nil
}
