// File: internal/service/factory.go

// Package service is the composition root: it wires storage, the keystore,
// the relay session, and the command router into a running client. Commands
// that need only a slice of the stack (identity management, manifest
// inspection) use the narrower initializers instead of the full factory.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/network"
	"github.com/xkoreth/quill-cli/internal/router"
	"github.com/xkoreth/quill-cli/internal/session"
)

// ComponentFactory builds the full client stack. The CLI layer depends on
// this interface so command tests can substitute a canned Components.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the full dependency graph. Nothing here touches the network
// except command discovery, which is skipped unless configured; connecting
// the session is the caller's decision.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service: config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("service: logger is required")
	}

	components := &Components{log: logger.Named("service")}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed; shutting down partially created components",
				zap.Error(initializationErr))
			components.Shutdown(context.Background())
		}
	}()

	// 1. Storage and identity custody.
	store, err := NewStore(cfg.Keystore(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize storage: %w", err)
		return nil, initializationErr
	}
	components.Store = store

	keys, err := NewKeystore(store, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize keystore: %w", err)
		return nil, initializationErr
	}
	components.Keys = keys
	logger.Debug("Keystore initialized", zap.Bool("has_identity", keys.Has()))

	// 2. Stateless HTTP client. The websocket dialer shares its socket and
	// TLS settings so both paths present the same network posture.
	clientCfg, err := network.NewClientConfig(cfg.Network(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to configure HTTP client: %w", err)
		return nil, initializationErr
	}
	components.HTTP = network.NewClient(clientCfg)

	// 3. Relay session.
	dialer := session.NewWebsocketDialer(cfg.Session(), clientCfg, logger)
	mgr, err := session.New(cfg.Session(), dialer, keys, nil, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize session manager: %w", err)
		return nil, initializationErr
	}
	components.Session = mgr

	// 4. Command registry: built-ins, then the local manifest, then remote
	// discovery. Later sources override earlier descriptors by name.
	registry, err := NewRegistry(ctx, cfg.Router(), components.HTTP, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to load command registry: %w", err)
		return nil, initializationErr
	}
	components.Registry = registry

	// 5. Router over everything above.
	rt, err := router.New(cfg.Router(), logger, mgr, keys, components.HTTP, builtinLocals(components))
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize router: %w", err)
		return nil, initializationErr
	}
	components.Router = rt

	logger.Debug("Client components initialized",
		zap.Int("known_commands", registry.Len()))
	return components, nil
}
