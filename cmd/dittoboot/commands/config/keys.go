package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/internal/cli/output"
	"github.com/marmos91/dittoboot/pkg/config"
)

var keysOutput string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the well-known configuration keys",
	Long: `List the configuration keys read by dittoboot itself, with the
environment variable overriding each of them.

Plugins read their own settings under plugins.<name>.`,
	RunE: runKeys,
}

func init() {
	keysCmd.Flags().StringVarP(&keysOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

type propertyList []config.Property

func (l propertyList) Headers() []string {
	return []string{"Key", "Env", "Default", "Description"}
}

func (l propertyList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, p := range l {
		rows = append(rows, []string{p.Key, p.Env, p.Default, p.Description})
	}
	return rows
}

func runKeys(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(keysOutput)
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, propertyList(config.Properties()))
}
