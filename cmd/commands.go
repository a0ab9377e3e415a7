// File: cmd/commands.go
package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkoreth/quill-cli/internal/observability"
)

func newCommandsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the known commands and how they are routed",
		Long: `List every command in the registry: built-ins, manifest entries, and
whatever relay discovery advertised. Names outside this list still execute;
they are sent as signed session commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}

			components, err := newFactory().Create(cmd.Context(), cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
				defer cancel()
				components.Shutdown(shutdownCtx)
			}()

			descriptors := components.Registry.List()

			if asJSON {
				data, err := json.MarshalIndent(descriptors, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to render registry: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tKIND\tSIGNED\tDESCRIPTION")
			for _, descriptor := range descriptors {
				signed := ""
				if descriptor.RequiresSignature {
					signed = "yes"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
					descriptor.Name, descriptor.Kind, signed, descriptor.Description)
			}
			return writer.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the registry as JSON")
	return cmd
}
