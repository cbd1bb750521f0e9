package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/internal/cli/prompt"
	"github.com/marmos91/dittoboot/pkg/config"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

var (
	initForce       bool
	initInteractive bool
	initKernel      string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a dittoboot configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dittoboot/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dittoboot config init

  # Pick the kernel from the registered ones
  dittoboot config init --interactive

  # Force overwrite existing config
  dittoboot config init --force --kernel standard`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Choose the kernel interactively")
	initCmd.Flags().StringVar(&initKernel, "kernel", "", "Preferred kernel to write in the config")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	cfg.Kernel = initKernel
	if initInteractive && initKernel == "" {
		chosen, err := chooseKernel()
		if err != nil {
			return err
		}
		cfg.Kernel = chosen
	}

	if err := config.WriteInitialConfig(configPath, cfg, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Edit the configuration file to customize your setup")
	fmt.Fprintln(out, "  2. Start with: dittoboot start")
	fmt.Fprintf(out, "  3. Or specify custom config: dittoboot start --config %s\n", configPath)
	return nil
}

// chooseKernel asks which registered kernel to prefer. With fewer than two
// kernels there is nothing to choose and "" is returned.
func chooseKernel() (string, error) {
	descs := kernel.DefaultRegistry().Descriptors()
	if len(descs) < 2 {
		return "", nil
	}

	options := make([]prompt.Option, 0, len(descs))
	for _, d := range descs {
		label := d.Name
		if d.Version != "" {
			label += " (" + d.Version + ")"
		}
		options = append(options, prompt.Option{Label: label, Value: d.Name, Description: d.Description})
	}
	return prompt.Select("Kernel", options)
}
