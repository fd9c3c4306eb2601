package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regata-dev/regata/pkg/appctx"
	"github.com/regata-dev/regata/pkg/config"
	"github.com/regata-dev/regata/pkg/logging"
)

const cliExecutable = "regata"

// NewCommand constructs the top-level regata CLI command, wiring global
// flags, configuration loading, and logging setup.
func NewCommand() *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Regata validates scanner registry changes against real CI providers",
		Long: `Regata dispatches test runs for changed scanners to the configured CI
providers (GitHub Actions, GitLab CI, Azure DevOps, Bitbucket Pipelines),
polls them to completion, and reports the aggregated results.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			manager := config.NewManager()
			sources := config.DefaultSources(configFile, cmd.Flags(), debug)
			if err := manager.Load(sources); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			cfg := manager.Get()
			if err := logging.ConfigureGlobalLogging(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			ctx := appctx.WithConfig(cmd.Context(), manager)
			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
