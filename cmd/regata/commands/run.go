package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/regata-dev/regata/cmd/regata/internal/format"
	"github.com/regata-dev/regata/pkg/appctx"
	"github.com/regata-dev/regata/pkg/config"
	"github.com/regata-dev/regata/pkg/orchestrator"
	"github.com/regata-dev/regata/pkg/registry"
)

// ErrRunsFailed signals that the batch finished but at least one run did not
// succeed. The CLI exits non-zero without printing a redundant error.
var ErrRunsFailed = errors.New("one or more test runs did not succeed")

// NewRunCommand constructs the 'regata run' command: detect changed
// scanners, dispatch their tests to every enabled provider, and report.
func NewRunCommand() *cobra.Command {
	var (
		registryPath string
		baseRef      string
		registryRef  string
		scanners     []string
		output       string
		quiet        bool
		noColor      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch and await test runs for changed scanners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := format.ValidateMode(output); err != nil {
				return err
			}
			out := format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), format.ParseMode(output), quiet, !noColor)

			manager, ok := appctx.Config(cmd.Context())
			if !ok {
				return errors.New("configuration not initialized")
			}
			cfg := manager.Get()

			if registryPath == "" {
				registryPath = cfg.Registry.Path
			}
			if baseRef == "" {
				baseRef = cfg.Registry.BaseRef
			}

			ctx := cmd.Context()

			if len(scanners) == 0 {
				detected, err := registry.DetectChangedScanners(ctx, registryPath, baseRef, "HEAD")
				if err != nil {
					return fmt.Errorf("detect changed scanners: %w", err)
				}
				scanners = detected
			}
			if len(scanners) == 0 {
				return out.PrintSummary("No scanner changes detected, nothing to run")
			}
			log.Info().Strs("scanners", scanners).Msg("Validating changed scanners")

			defs := registry.LoadAllTests(registryPath, scanners)
			if len(defs) == 0 {
				return out.PrintSummary("None of the changed scanners define tests, nothing to run")
			}

			if registryRef == "" {
				ref, err := registry.CurrentCommit(ctx, registryPath)
				if err != nil {
					return fmt.Errorf("resolve registry ref: %w", err)
				}
				registryRef = ref
			}

			providers, err := config.BuildProviders(cfg.Providers)
			if err != nil {
				return err
			}

			orch, err := orchestrator.New(providers, cfg.Run.Options())
			if err != nil {
				return err
			}

			inputs := orchestrator.InputsFromDefinitions(scanners, defs)
			rep, err := orch.Execute(ctx, inputs, registryRef)
			if rep != nil {
				if printErr := out.PrintReport(rep); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return err
			}

			if !rep.Success() {
				return ErrRunsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&registryPath, "registry", "", "Registry checkout directory (default from config)")
	cmd.Flags().StringVar(&baseRef, "base-ref", "", "Base git ref for change detection (default from config)")
	cmd.Flags().StringVar(&registryRef, "registry-ref", "", "Registry ref passed to providers (default: current HEAD commit)")
	cmd.Flags().StringSliceVar(&scanners, "scanner", nil, "Scanner id to test (repeatable, skips change detection)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress summary output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	config.BindRunFlags(cmd.Flags())

	return cmd
}
