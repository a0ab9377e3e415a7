// -- cmd/root.go --

// Package cmd wires the quill CLI: configuration loading, logger bootstrap,
// and the command surface over the signed-command client.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/observability"
	"github.com/xkoreth/quill-cli/internal/service"
)

// contextKey scopes values quill stores on the command context.
type contextKey string

const configKey contextKey = "config"

// newFactory builds the production component stack. Tests swap it for a stub
// so commands run against canned components.
var newFactory = service.NewComponentFactory

// NewRootCommand builds a pristine root command. Each invocation gets its own
// viper instance so nothing leaks between executions (the interactive tests
// rely on this).
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "quill",
		Short: "Quill is a signed-command client for operator relays.",
		Long: `Quill maintains a persistent authenticated session to a command relay and
signs commands with a locally held secp256k1 identity instead of an account.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// A basic logger so the failure is visible somewhere.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "quill"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting quill", zap.String("version", Version))

			// Subcommands read the validated config from the context; there
			// is no config singleton.
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./quill.yaml)")
	rootCmd.PersistentFlags().StringP("relay", "r", "", "relay websocket URL (overrides session.url)")
	rootCmd.PersistentFlags().String("state-dir", "", "identity state directory (overrides keystore.dir, default ~/.quill)")
	rootCmd.PersistentFlags().String("log-level", "", "log verbosity (overrides logger.level)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newIdentityCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newConsoleCmd())
	rootCmd.AddCommand(newCommandsCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the CLI under a signal-aware context. The caller owns exit
// codes; errors are printed here and returned.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	rootCmd.SetContext(ctx)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig layers the config sources: defaults, an optional file,
// QUILL_* environment variables, then explicit flag overrides.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("quill")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment carry it.
	}

	// Flags beat file and environment, but only when actually set: binding
	// an untouched flag would mask file and env values with its empty default.
	overrides := []struct{ key, flag string }{
		{"session.url", "relay"},
		{"keystore.dir", "state-dir"},
		{"logger.level", "log-level"},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		if err := v.BindPFlag(o.key, cmd.Flags().Lookup(o.flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", o.flag, err)
		}
	}
	return nil
}

// configFromCommand retrieves the config the root PersistentPreRunE stored.
func configFromCommand(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}
