// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/keystore"
	"github.com/xkoreth/quill-cli/internal/network"
	"github.com/xkoreth/quill-cli/internal/router"
	"github.com/xkoreth/quill-cli/internal/storage"
)

// NewStore opens the file-backed state store, defaulting the directory to
// ~/.quill when the configuration leaves it empty.
func NewStore(cfg config.KeystoreConfig, logger *zap.Logger) (storage.Store, error) {
	dir := cfg.Dir
	if dir == "" {
		resolved, err := storage.DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = resolved
	}
	return storage.NewFileStore(dir, logger)
}

// NewKeystore loads the identity engine over an opened store.
func NewKeystore(store storage.Store, logger *zap.Logger) (*keystore.Engine, error) {
	return keystore.New(store, logger)
}

// OpenKeystore is the short path for commands that manage identity and never
// touch the network: store plus keystore, nothing else.
func OpenKeystore(cfg config.Interface, logger *zap.Logger) (*keystore.Engine, error) {
	store, err := NewStore(cfg.Keystore(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return NewKeystore(store, logger)
}

// NewRegistry assembles the command registry: built-in descriptors first,
// then the local manifest file, then remote discovery. A failed discovery
// degrades to a warning; the locally known commands still work offline.
func NewRegistry(ctx context.Context, cfg config.RouterConfig, client *network.Client, logger *zap.Logger) (*router.Registry, error) {
	log := logger.Named("registry")
	registry := router.NewRegistry()

	if err := registry.Add(builtinDescriptors()...); err != nil {
		return nil, fmt.Errorf("builtin descriptors rejected: %w", err)
	}

	if cfg.ManifestPath != "" {
		descriptors, err := router.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("command manifest %s: %w", cfg.ManifestPath, err)
		}
		if err := registry.Add(descriptors...); err != nil {
			return nil, fmt.Errorf("command manifest %s: %w", cfg.ManifestPath, err)
		}
		log.Debug("Loaded command manifest",
			zap.String("path", cfg.ManifestPath),
			zap.Int("commands", len(descriptors)),
		)
	}

	if cfg.DiscoveryURL != "" {
		descriptors, err := router.FetchDescriptors(ctx, client, cfg.DiscoveryURL)
		if err != nil {
			log.Warn("Command discovery failed; continuing with local manifest",
				zap.String("url", cfg.DiscoveryURL),
				zap.Error(err),
			)
		} else if err := registry.Add(descriptors...); err != nil {
			log.Warn("Discovered manifest rejected", zap.Error(err))
		} else {
			log.Debug("Discovered commands",
				zap.String("url", cfg.DiscoveryURL),
				zap.Int("commands", len(descriptors)),
			)
		}
	}

	return registry, nil
}

// builtinDescriptors names the commands every quill build understands without
// any manifest. All of them are local.
func builtinDescriptors() []protocol.CommandDescriptor {
	return []protocol.CommandDescriptor{
		{Name: "status", Kind: protocol.KindLocal, Description: "Show the relay session state."},
		{Name: "whoami", Kind: protocol.KindLocal, Description: "Show the active identity address."},
		{Name: "help", Kind: protocol.KindLocal, Description: "List the known commands."},
	}
}

// builtinLocals binds the built-in local handlers to the wired components.
// Handlers return plain data; presentation belongs to the caller.
func builtinLocals(c *Components) map[string]router.LocalFunc {
	return map[string]router.LocalFunc{
		"status": func(ctx context.Context, args []string) (interface{}, error) {
			state := c.Session.Status()
			payload := map[string]interface{}{
				"status":            string(state.Status),
				"reconnectAttempts": state.ReconnectAttempts,
			}
			if state.LastError != nil {
				payload["lastError"] = state.LastError.Error()
			}
			return payload, nil
		},
		"whoami": func(ctx context.Context, args []string) (interface{}, error) {
			address, err := c.Keys.Address()
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"address": address}, nil
		},
		"help": func(ctx context.Context, args []string) (interface{}, error) {
			descriptors := c.Registry.List()
			listing := make([]map[string]interface{}, 0, len(descriptors))
			for _, d := range descriptors {
				entry := map[string]interface{}{
					"name": d.Name,
					"kind": string(d.Kind),
				}
				if d.RequiresSignature {
					entry["signed"] = true
				}
				if d.Description != "" {
					entry["description"] = d.Description
				}
				listing = append(listing, entry)
			}
			return listing, nil
		},
	}
}

// DefaultDescriptor is the routing record assumed for a command name the
// registry does not know: it rides the authenticated session and is signed.
// Commands that must not be signed need a manifest entry saying so.
func DefaultDescriptor(name string) protocol.CommandDescriptor {
	return protocol.CommandDescriptor{
		Name:              name,
		Kind:              protocol.KindAuthenticatedSession,
		RequiresSignature: true,
	}.Normalized()
}

// Resolve looks name up in the registry, falling back to DefaultDescriptor
// for unknown names. known reports whether the registry had it.
func Resolve(registry *router.Registry, name string) (descriptor protocol.CommandDescriptor, known bool) {
	if registry != nil {
		if d, ok := registry.Lookup(name); ok {
			return d, true
		}
	}
	return DefaultDescriptor(name), false
}
