package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittoboot/internal/cli/output"
	"github.com/marmos91/dittoboot/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective dittoboot configuration, after defaults and
environment variable overrides.

Examples:
  # Show as YAML
  dittoboot config show

  # Show as JSON
  dittoboot config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, _, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		tree, err := toTree(cfg)
		if err != nil {
			return err
		}
		return output.PrintJSON(cmd.OutOrStdout(), tree)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}

// toTree converts cfg to a generic tree keyed like the YAML file, so the JSON
// output uses the same names.
func toTree(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return tree, nil
}
