// File: internal/router/router.go

// Package router classifies named commands and dispatches them: local
// handlers run in-process, authenticated-session commands ride the relay
// connection with an optional identity signature, and stateless-request
// commands perform a one-shot HTTP exchange. Routing is driven by descriptor
// metadata; a fixed always-signed floor covers identity-mutating commands
// whose metadata may be stale.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/canonical"
	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/network"
)

// Session is the slice of the relay session the router depends on.
type Session interface {
	Status() protocol.ConnectionState
	SendCommand(ctx context.Context, payload string, auth *protocol.SignedMessage, ttl time.Duration) (string, <-chan protocol.Result, error)
}

// LocalFunc is an in-process command handler.
type LocalFunc func(ctx context.Context, args []string) (interface{}, error)

// Options tunes a single Execute call.
type Options struct {
	// Args are appended to the descriptor name to form the command text.
	Args []string
	// Payload, when set, is canonicalized and signed in place of the
	// command text, and becomes the body of stateless requests.
	Payload interface{}
	// Wait blocks for the correlated resolution instead of returning a
	// pending result.
	Wait bool
	// Timeout bounds both the pending record and the wait. Zero uses the
	// configured default.
	Timeout time.Duration
}

// alwaysSigned is the fixed floor of identity-mutating commands that are
// signed regardless of descriptor metadata. Stale metadata must never let
// these leave unsigned.
var alwaysSigned = map[string]struct{}{
	"identity.rotate":  {},
	"identity.unlink":  {},
	"identity.destroy": {},
	"session.revoke":   {},
}

// Router dispatches commands per their descriptors. Safe for concurrent use.
type Router struct {
	cfg       config.RouterConfig
	log       *zap.Logger
	session   Session
	signer    protocol.Signer
	stateless *network.Client

	mu     sync.RWMutex
	locals map[string]LocalFunc
}

// New constructs a Router. The signer is optional: commands that require a
// signature then fail with a SigningError instead of going out unsigned. A
// nil stateless client falls back to the hardened default.
func New(cfg config.RouterConfig, logger *zap.Logger, session Session, signer protocol.Signer, stateless *network.Client, locals map[string]LocalFunc) (*Router, error) {
	if logger == nil {
		return nil, fmt.Errorf("router requires a logger")
	}
	if session == nil {
		return nil, fmt.Errorf("router requires a session")
	}
	if stateless == nil {
		stateless = network.NewClient(network.NewDefaultClientConfig())
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = 5 * time.Second
	}

	r := &Router{
		cfg:       cfg,
		log:       logger.Named("router"),
		session:   session,
		signer:    signer,
		stateless: stateless,
		locals:    make(map[string]LocalFunc, len(locals)),
	}
	for name, fn := range locals {
		if err := r.RegisterLocal(name, fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Execute dispatches one command and never lets an internal fault escape:
// panics and unexpected errors come back as an error Result.
func (r *Router) Execute(ctx context.Context, descriptor protocol.CommandDescriptor, opts Options) (result protocol.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Command execution panicked",
				zap.String("command", descriptor.Name),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			result = errorResult("", fmt.Errorf("internal fault executing %q: %v", descriptor.Name, rec))
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	descriptor = descriptor.Normalized()

	switch descriptor.Kind {
	case protocol.KindLocal:
		return r.executeLocal(ctx, descriptor, opts)
	case protocol.KindAuthenticatedSession:
		return r.executeSession(ctx, descriptor, opts)
	case protocol.KindStatelessRequest:
		return r.executeStateless(ctx, descriptor, opts)
	default:
		return errorResult("", fmt.Errorf("unknown handler kind %q for command %q", descriptor.Kind, descriptor.Name))
	}
}

// executeSession dispatches over the relay connection. The connectivity check
// runs before any signing so a dead session never spends a signature.
func (r *Router) executeSession(ctx context.Context, descriptor protocol.CommandDescriptor, opts Options) protocol.Result {
	if r.session.Status().Status != protocol.StatusConnected {
		return errorResult("", protocol.ErrNotConnected)
	}

	text := commandText(descriptor.Name, opts.Args)

	var auth *protocol.SignedMessage
	if r.signatureRequired(descriptor) {
		signed, err := r.sign(text, opts.Payload)
		if err != nil {
			return errorResult("", err)
		}
		auth = signed
	}

	ttl := opts.Timeout
	if ttl <= 0 {
		ttl = r.cfg.DefaultWait
	}

	id, ch, err := r.session.SendCommand(ctx, text, auth, ttl)
	if err != nil {
		return errorResult("", err)
	}
	r.log.Debug("Command dispatched",
		zap.String("command", descriptor.Name),
		zap.String("command_id", id),
		zap.Bool("signed", auth != nil),
		zap.Bool("wait", opts.Wait),
	)

	if !opts.Wait {
		return protocol.Result{ID: id, Status: protocol.ResultPending}
	}

	select {
	case result := <-ch:
		return result
	case <-ctx.Done():
		// The pending record keeps running to its own resolution; only
		// this caller stops waiting.
		return errorResult(id, ctx.Err())
	}
}

// sign canonicalizes the signing input and obtains the identity signature.
// Failures are wrapped as SigningError so callers can tell custody faults
// from transport faults.
func (r *Router) sign(text string, payload interface{}) (*protocol.SignedMessage, error) {
	if r.signer == nil {
		return nil, protocol.NewSigningError(protocol.ErrNoIdentity)
	}

	input := interface{}(text)
	if payload != nil {
		input = payload
	}
	message, err := canonical.Marshal(input)
	if err != nil {
		return nil, protocol.NewSigningError(fmt.Errorf("failed to canonicalize signing input: %w", err))
	}

	signed, err := r.signer.Sign(message)
	if err != nil {
		var sigErr *protocol.SigningError
		if errors.As(err, &sigErr) {
			return nil, err
		}
		return nil, protocol.NewSigningError(err)
	}
	return signed, nil
}

func (r *Router) signatureRequired(descriptor protocol.CommandDescriptor) bool {
	if descriptor.RequiresSignature {
		return true
	}
	_, forced := alwaysSigned[descriptor.Name]
	return forced
}

// commandText joins the command name and its arguments into the wire payload.
func commandText(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

func errorResult(id string, err error) protocol.Result {
	return protocol.Result{
		ID:     id,
		Status: protocol.StatusFor(err),
		Err:    err,
		Error:  err.Error(),
	}
}
