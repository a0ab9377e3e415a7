// File: internal/router/local.go
package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/xkoreth/quill-cli/api/protocol"
)

// RegisterLocal installs (or replaces) the in-process handler for name.
func (r *Router) RegisterLocal(name string, fn LocalFunc) error {
	key := protocol.CommandDescriptor{Name: name}.Normalized().Name
	if key == "" {
		return fmt.Errorf("local command name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("local command %q requires a handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.locals[key] = fn
	return nil
}

// LocalCommands returns the registered local command names, sorted.
func (r *Router) LocalCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.locals))
	for name := range r.locals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) executeLocal(ctx context.Context, descriptor protocol.CommandDescriptor, opts Options) protocol.Result {
	r.mu.RLock()
	fn, ok := r.locals[descriptor.Name]
	r.mu.RUnlock()

	if !ok {
		return errorResult("", fmt.Errorf("%w: %s", protocol.ErrUnknownLocalCommand, descriptor.Name))
	}

	payload, err := fn(ctx, opts.Args)
	if err != nil {
		return errorResult("", err)
	}
	return protocol.Result{Status: protocol.ResultSuccess, Payload: payload}
}
