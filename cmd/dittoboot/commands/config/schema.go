package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/pkg/config"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for configuration",
	Long: `Generate a JSON schema for the dittoboot configuration file.

The schema can be used for IDE autocompletion and configuration validation.

Examples:
  # Print schema to stdout
  dittoboot config schema

  # Save schema to file
  dittoboot config schema --output config.schema.json`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "Output file (default: stdout)")
}

func runSchema(cmd *cobra.Command, args []string) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}

	if schemaOutput == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	if err := os.WriteFile(schemaOutput, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema written to %s\n", schemaOutput)
	return nil
}
