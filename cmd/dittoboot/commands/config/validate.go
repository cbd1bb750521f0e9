package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/pkg/config"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dittoboot configuration file.

Checks for syntax errors, invalid values, and that the configured kernel is
compiled into this binary.

Examples:
  # Validate default config
  dittoboot config validate

  # Validate specific config file
  dittoboot config validate --config /etc/dittoboot/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, store, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if _, err := kernel.NewFinder(kernel.DefaultRegistry(), store).Find(cmd.Context()); err != nil {
		warnings = append(warnings, err.Error())
	}
	if cfg.Probe.Enabled && !cfg.Metrics.Enabled {
		warnings = append(warnings, "probe enabled without metrics: /metrics will answer 404")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	kernelName := cfg.Kernel
	if kernelName == "" {
		kernelName = "(auto)"
	}
	fmt.Fprintf(out, "\nConfiguration summary:\n")
	fmt.Fprintf(out, "  Kernel:            %s\n", kernelName)
	fmt.Fprintf(out, "  Snapshot backend:  %s\n", cfg.Snapshots.Backend)
	fmt.Fprintf(out, "  Log level:         %s\n", cfg.Logging.Level)
	return nil
}
