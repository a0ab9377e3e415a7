// File: cmd/exec.go
package cmd

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/observability"
	"github.com/xkoreth/quill-cli/internal/router"
	"github.com/xkoreth/quill-cli/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// payloadCodec decodes --payload input keeping numbers as json.Number so the
// exact text the user typed is what gets canonicalized and signed.
var payloadCodec = jsoniter.Config{UseNumber: true}.Froze()

// shutdownWait bounds component teardown after a command finishes.
const shutdownWait = 10 * time.Second

func newExecCmd() *cobra.Command {
	var (
		rawPayload string
		wait       bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Execute a single command and print its result",
		Long: `Execute one command and exit. Local commands run in-process, stateless
commands perform a one-shot HTTP request, and session commands connect to the
relay first, creating a signing identity on first use if none exists.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			var payload interface{}
			if rawPayload != "" {
				if err := payloadCodec.UnmarshalFromString(rawPayload, &payload); err != nil {
					return fmt.Errorf("invalid --payload JSON: %w", err)
				}
			}

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

			name := args[0]
			descriptor, known := service.Resolve(components.Registry, name)
			if !known {
				cmd.PrintErrf("Command %q is not in the registry; sending it as a signed session command.\n", name)
			}

			if err := prepareForDispatch(cmd.Context(), cmd, components, descriptor); err != nil {
				return err
			}

			result := components.Router.Execute(cmd.Context(), descriptor, router.Options{
				Args:    args[1:],
				Payload: payload,
				Wait:    wait,
				Timeout: timeout,
			})
			return printResult(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&rawPayload, "payload", "p", "", "JSON payload to sign and send in place of the command text")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the command result (--wait=false prints the dispatch id)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "per-command timeout (default: router.default_wait)")
	return cmd
}

// prepareForDispatch makes sure the pieces a command needs exist before the
// router sees it: an identity when the command will be signed, and a live
// session when it rides the relay. Local commands need neither.
func prepareForDispatch(ctx context.Context, cmd *cobra.Command, components *service.Components, descriptor protocol.CommandDescriptor) error {
	needsSession := descriptor.Kind == protocol.KindAuthenticatedSession
	needsIdentity := needsSession || descriptor.RequiresSignature
	if !needsIdentity && !needsSession {
		return nil
	}

	if needsIdentity {
		created, address, err := components.Keys.Ensure()
		if err != nil {
			return fmt.Errorf("failed to prepare identity: %w", err)
		}
		if created {
			cmd.PrintErrf("Created new identity %s (back it up: quill identity export)\n", address)
		}
	}

	if needsSession {
		if err := components.Session.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to relay: %w", err)
		}
	}
	return nil
}

// printResult renders a routed result: pending prints the dispatch id,
// success prints the payload as JSON, and failures become command errors so
// the process exits nonzero.
func printResult(cmd *cobra.Command, result protocol.Result) error {
	switch result.Status {
	case protocol.ResultPending:
		cmd.Println(result.ID)
		return nil
	case protocol.ResultSuccess:
		data, err := json.MarshalIndent(result.Payload, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render result payload: %w", err)
		}
		cmd.Println(string(data))
		return nil
	default:
		if result.Err != nil {
			return result.Err
		}
		return fmt.Errorf("command failed (%s): %s", result.Status, result.Error)
	}
}
