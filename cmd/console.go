// File: cmd/console.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/observability"
	"github.com/xkoreth/quill-cli/internal/router"
	"github.com/xkoreth/quill-cli/internal/service"
)

const consolePrompt = "quill> "

const consoleBanner = `quill console - type 'help' for commands, 'exit' to leave.
`

// eventBuffer sizes the feed between session callbacks and the printer.
// Callbacks never block on it; a full buffer drops the event instead of
// stalling the session's read loop.
const eventBuffer = 64

func newConsoleCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open an interactive session with the relay",
		Long: `Open an interactive prompt backed by a persistent relay session. The
connection reconnects automatically after drops; status transitions and
unsolicited relay notices are printed as they happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := newFactory().Create(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize components", zap.Error(err))
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			return runConsole(cmd, components, timeout)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "per-command timeout (default: router.default_wait)")
	return cmd
}

// runConsole drives the prompt loop. Two goroutines cooperate under one
// errgroup: the line loop reads parsed input and dispatches commands, and the
// printer drains the session event feed so output never interleaves with a
// half-typed line.
func runConsole(cmd *cobra.Command, components *service.Components, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// The prompt loop and the event printer write concurrently; one lock
	// across both streams keeps lines whole.
	var outMu sync.Mutex
	out := &lockedWriter{mu: &outMu, w: cmd.OutOrStdout()}
	errOut := &lockedWriter{mu: &outMu, w: cmd.ErrOrStderr()}

	created, address, err := components.Keys.Ensure()
	if err != nil {
		return fmt.Errorf("failed to prepare identity: %w", err)
	}
	if created {
		fmt.Fprintf(errOut, "Created new identity %s (back it up: quill identity export)\n", address)
	}

	registerConsoleCommands(components)

	// Session callbacks run on the session's goroutines and must never
	// block, so they hand events to the printer through a buffered feed.
	events := make(chan protocol.Event, eventBuffer)
	feed := func(event protocol.Event) {
		select {
		case events <- event:
		default:
		}
	}
	statusSub := components.Session.On(protocol.EventStatus, feed)
	defer components.Session.Off(statusSub)
	noticeSub := components.Session.On(protocol.EventNotice, feed)
	defer components.Session.Off(noticeSub)

	fmt.Fprint(out, consoleBanner)
	fmt.Fprintf(out, "identity: %s\n", address)

	if err := components.Session.Connect(ctx); err != nil {
		// The console stays usable offline: local commands still work and
		// 'reconnect' retries the relay.
		fmt.Fprintf(errOut, "Connection failed: %v\n", err)
	}

	// The stdin pump stays detached: a blocked Read on a terminal cannot be
	// interrupted, so the pump is abandoned at exit rather than joined.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case event := <-events:
				printSessionEvent(errOut, event)
			}
		}
	})

	g.Go(func() error {
		defer cancel()
		for {
			fmt.Fprint(out, consolePrompt)

			var line string
			var open bool
			select {
			case <-gctx.Done():
				fmt.Fprintln(out)
				return nil
			case line, open = <-lines:
				if !open {
					fmt.Fprintln(out)
					return nil
				}
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return nil
			}
			if line == "clear" {
				fmt.Fprint(out, "\x1b[2J\x1b[H")
				continue
			}

			dispatchConsoleLine(gctx, out, errOut, components, line, timeout)
		}
	})

	return g.Wait()
}

// registerConsoleCommands adds the session-management commands that only make
// sense inside a live console, so 'help' lists them alongside the rest.
func registerConsoleCommands(components *service.Components) {
	locals := map[string]router.LocalFunc{
		"reconnect": func(ctx context.Context, args []string) (interface{}, error) {
			if err := components.Session.Reconnect(ctx); err != nil {
				return nil, err
			}
			return map[string]interface{}{"status": components.Session.Status().Status}, nil
		},
		"reset": func(ctx context.Context, args []string) (interface{}, error) {
			components.Session.Disconnect()
			if err := components.Keys.Reset(); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"identity": "destroyed",
				"note":     "run 'reconnect' to continue with a fresh identity",
			}, nil
		},
	}
	descriptors := []protocol.CommandDescriptor{
		{Name: "reconnect", Kind: protocol.KindLocal, Description: "Tear down and redial the relay connection."},
		{Name: "reset", Kind: protocol.KindLocal, Description: "Disconnect and destroy the local identity."},
	}

	// The names are fixed and valid; registration cannot fail.
	for name, fn := range locals {
		_ = components.Router.RegisterLocal(name, fn)
	}
	_ = components.Registry.Add(descriptors...)
}

// dispatchConsoleLine routes one input line. Errors are printed, never fatal;
// the shell survives anything a command does.
func dispatchConsoleLine(ctx context.Context, out, errOut io.Writer, components *service.Components, line string, timeout time.Duration) {
	fields := strings.Fields(line)
	name := fields[0]

	descriptor, known := service.Resolve(components.Registry, name)
	if !known {
		fmt.Fprintf(errOut, "unknown command %q; sending as a signed session command\n", name)
	}

	result := components.Router.Execute(ctx, descriptor, router.Options{
		Args:    fields[1:],
		Wait:    true,
		Timeout: timeout,
	})
	printConsoleResult(out, errOut, result)
}

func printConsoleResult(out, errOut io.Writer, result protocol.Result) {
	switch result.Status {
	case protocol.ResultPending:
		fmt.Fprintf(out, "dispatched %s\n", result.ID)
	case protocol.ResultSuccess:
		data, err := json.MarshalIndent(result.Payload, "", "  ")
		if err != nil {
			fmt.Fprintf(errOut, "error: unrenderable result payload: %v\n", err)
			return
		}
		fmt.Fprintln(out, string(data))
	default:
		message := result.Error
		if message == "" && result.Err != nil {
			message = result.Err.Error()
		}
		fmt.Fprintf(errOut, "error (%s): %s\n", strings.ToLower(string(result.Status)), message)
	}
}

// lockedWriter serializes writes from the console's goroutines.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// printSessionEvent renders one asynchronous session event. A leading newline
// breaks out of the pending prompt before the message.
func printSessionEvent(w io.Writer, event protocol.Event) {
	switch event.Type {
	case protocol.EventStatus:
		status, ok := event.Payload.(*protocol.StatusEvent)
		if !ok {
			return
		}
		if status.Error != "" {
			fmt.Fprintf(w, "\n[session] %s (attempt %d): %s\n", status.Status, status.ReconnectAttempts, status.Error)
			return
		}
		fmt.Fprintf(w, "\n[session] %s\n", status.Status)
	case protocol.EventNotice:
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "\n[notice] %s\n", data)
	}
}
