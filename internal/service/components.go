// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/internal/keystore"
	"github.com/xkoreth/quill-cli/internal/network"
	"github.com/xkoreth/quill-cli/internal/router"
	"github.com/xkoreth/quill-cli/internal/session"
	"github.com/xkoreth/quill-cli/internal/storage"
)

// shutdownGrace bounds how long Shutdown waits for the session goroutines to
// drain before giving up and returning.
const shutdownGrace = 5 * time.Second

// Components holds the wired client: persistent storage, identity custody,
// the relay session, the command registry, and the router that dispatches
// through all of them. Constructed by a ComponentFactory; the zero value is
// not usable.
type Components struct {
	Store    storage.Store
	Keys     *keystore.Engine
	Session  *session.Manager
	Registry *router.Registry
	Router   *router.Router
	HTTP     *network.Client

	log *zap.Logger
}

// Shutdown tears the client down: the session disconnects (aborting in-flight
// commands), its goroutines drain, and idle HTTP connections close. Safe to
// call on a partially initialized struct and more than once.
func (c *Components) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}
	log := c.log
	if log == nil {
		log = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if c.Session != nil {
		done := make(chan struct{})
		go func() {
			c.Session.Close()
			close(done)
		}()

		grace, cancel := context.WithTimeout(ctx, shutdownGrace)
		select {
		case <-done:
		case <-grace.Done():
			log.Warn("Session did not drain before the shutdown deadline")
		}
		cancel()
	}

	if c.HTTP != nil {
		c.HTTP.CloseIdleConnections()
	}

	log.Debug("Components shut down")
}
