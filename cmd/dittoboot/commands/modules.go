package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/internal/cli/output"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

var modulesOutput string

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the registered early modules, kernels and kernel modules",
	Long: `List every plugin compiled into this binary.

The kernel column of the output is what the "kernel" configuration key
(DITTOBOOT_KERNEL) selects when more than one kernel is registered.

Examples:
  dittoboot modules
  dittoboot modules --output json`,
	RunE: runModules,
}

func init() {
	modulesCmd.Flags().StringVarP(&modulesOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// providerList renders descriptors as a table.
type providerList []capability.Descriptor

func (l providerList) Headers() []string {
	return []string{"Kind", "Name", "Version", "Description"}
}

func (l providerList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, d := range l {
		rows = append(rows, []string{string(d.Kind), d.Name, d.Version, d.Description})
	}
	return rows
}

func registeredProviders() providerList {
	var all providerList
	all = append(all, bios.DefaultRegistry().Descriptors()...)
	all = append(all, kernel.DefaultRegistry().Descriptors()...)
	all = append(all, kernel.ModuleRegistry().Descriptors()...)
	return all
}

func runModules(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(modulesOutput)
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, registeredProviders())
}
