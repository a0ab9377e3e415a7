// File: cmd/identity.go
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/internal/keystore"
	"github.com/xkoreth/quill-cli/internal/observability"
	"github.com/xkoreth/quill-cli/internal/service"
)

// newIdentityCmd groups the identity lifecycle: show, create, back up,
// restore, and destroy the signing key. None of these touch the network.
func newIdentityCmd() *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the local signing identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := openKeystore(cmd)
			if err != nil {
				return err
			}
			if !keys.Has() {
				cmd.PrintErrln("No identity configured. Run 'quill identity new' to create one.")
				return nil
			}
			address, err := keys.Address()
			if err != nil {
				return err
			}
			cmd.Println(address)
			return nil
		},
	}

	identityCmd.AddCommand(newIdentityNewCmd())
	identityCmd.AddCommand(newIdentityExportCmd())
	identityCmd.AddCommand(newIdentityImportCmd())
	identityCmd.AddCommand(newIdentityImportKeyCmd())
	identityCmd.AddCommand(newIdentityResetCmd())
	return identityCmd
}

func newIdentityNewCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a signing identity if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := openKeystore(cmd)
			if err != nil {
				return err
			}

			var address string
			created := true
			if force {
				// Explicit regeneration over whatever exists.
				address, err = keys.Generate()
			} else {
				created, address, err = keys.Ensure()
			}
			if err != nil {
				return err
			}

			if !created {
				cmd.PrintErrln("An identity already exists; use --force to replace it.")
				cmd.Println(address)
				return nil
			}

			phrase, err := keys.ExportMnemonic()
			if err != nil {
				return err
			}
			cmd.Println(address)
			cmd.Println()
			cmd.Println(phrase)
			cmd.PrintErrln()
			cmd.PrintErrln("Write the recovery phrase down and store it offline. Anyone holding")
			cmd.PrintErrln("it holds this identity; quill keeps only the secret, never the phrase.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity (destructive)")
	return cmd
}

func newIdentityExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the recovery phrase for the stored identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := openKeystore(cmd)
			if err != nil {
				return err
			}

			phrase, err := keys.ExportMnemonic()
			if err != nil {
				return err
			}
			if phrase == "" {
				// Not an error: the identity works, it just cannot be
				// phrase-backed (imported from a raw secret).
				cmd.PrintErrln("The stored identity has no recovery phrase; it was imported from a raw")
				cmd.PrintErrln("secret. Create a fresh identity with 'quill identity new --force' to get")
				cmd.PrintErrln("phrase backup.")
				return nil
			}
			cmd.Println(phrase)
			return nil
		},
	}
}

func newIdentityImportCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "import [words...]",
		Short: "Restore an identity from its recovery phrase",
		Long: `Restore an identity from a 12 or 24 word recovery phrase. The stored
identity, if any, is replaced. Prefer --stdin over arguments so the phrase
stays out of shell history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			phrase := strings.Join(args, " ")
			if fromStdin {
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read phrase from stdin: %w", err)
				}
				phrase = string(raw)
			}

			keys, err := openKeystore(cmd)
			if err != nil {
				return err
			}
			address, err := keys.ImportMnemonic(phrase)
			if err != nil {
				return err
			}
			cmd.Println(address)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the phrase from standard input")
	return cmd
}

func newIdentityImportKeyCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "import-key [hex]",
		Short: "Restore an identity from a raw hex secret",
		Long: `Restore an identity from a raw secret key in hex (0x prefix optional).
Identities restored this way have no recovery phrase to export.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if fromStdin {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read secret from stdin: %w", err)
				}
				raw = strings.TrimSpace(string(data))
			} else {
				if len(args) != 1 {
					return fmt.Errorf("supply the secret as an argument or via --stdin")
				}
				raw = args[0]
			}

			keys, err := openKeystore(cmd)
			if err != nil {
				return err
			}
			address, err := keys.ImportSecretHex(raw)
			if err != nil {
				return err
			}
			cmd.Println(address)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the secret from standard input")
	return cmd
}

func newIdentityResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Destroy the stored identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := openKeystore(cmd)
			if err != nil {
				return err
			}
			if !keys.Has() {
				cmd.PrintErrln("No identity to reset.")
				return nil
			}
			if err := keys.Reset(); err != nil {
				return err
			}
			cmd.PrintErrln("Identity destroyed. Sessions authenticated with it are gone for good.")
			return nil
		},
	}
}

// openKeystore builds the storage-plus-keystore slice of the stack for
// commands that never need a session.
func openKeystore(cmd *cobra.Command) (*keystore.Engine, error) {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	logger := observability.GetLogger()
	keys, err := service.OpenKeystore(cfg, logger)
	if err != nil {
		logger.Error("Keystore unavailable", zap.Error(err))
		return nil, err
	}
	return keys, nil
}
