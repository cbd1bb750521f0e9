package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoboot/internal/cli/output"
	"github.com/marmos91/dittoboot/internal/cli/prompt"
	"github.com/marmos91/dittoboot/pkg/config"
	"github.com/marmos91/dittoboot/pkg/snapshot"
)

var (
	restoreYes     bool
	snapshotOutput string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage configuration snapshots",
	Long: `Save the effective configuration under a name and restore it later.

Snapshots are kept in the backend selected by the snapshots section of the
configuration file (file, badger, sqlite or postgres).

Examples:
  dittoboot config snapshot save before-upgrade
  dittoboot config snapshot list
  dittoboot config snapshot restore before-upgrade
  dittoboot config snapshot delete before-upgrade`,
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save the effective configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotSave,
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Replace the configuration file with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotRestore,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDelete,
}

func init() {
	snapshotRestoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "Do not ask for confirmation")
	snapshotListCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "table", "Output format (table|json|yaml)")

	snapshotCmd.AddCommand(snapshotSaveCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
}

// openSnapshots loads the configuration and opens its snapshot backend.
// The caller closes the returned snapshot store.
func openSnapshots(cmd *cobra.Command) (*config.Store, snapshot.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, store, err := config.MustLoad(configPath)
	if err != nil {
		return nil, nil, err
	}

	snaps, err := snapshot.New(cfg.Snapshots)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot backend: %w", err)
	}
	return store, snaps, nil
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	store, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = snaps.Close() }()

	if err := store.Save(cmd.Context(), snaps, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %q saved\n", args[0])
	return nil
}

func runSnapshotRestore(cmd *cobra.Command, args []string) error {
	name := args[0]

	store, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = snaps.Close() }()

	if !restoreYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Overwrite %s with snapshot %q", store.ConfigFile(), name))
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return nil
			}
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	if err := store.Restore(cmd.Context(), snaps, name); err != nil {
		return err
	}
	if err := store.WriteConfig(""); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %q restored to %s\n", name, store.ConfigFile())
	return nil
}

type snapshotList []snapshot.Info

func (l snapshotList) Headers() []string {
	return []string{"Name", "Created"}
}

func (l snapshotList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, info := range l {
		rows = append(rows, []string{info.Name, info.CreatedAt.Local().Format(time.RFC3339)})
	}
	return rows
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(snapshotOutput)
	if err != nil {
		return err
	}

	_, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = snaps.Close() }()

	infos, err := snaps.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 && format == output.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots")
		return nil
	}
	return output.Print(cmd.OutOrStdout(), format, snapshotList(infos))
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	_, snaps, err := openSnapshots(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = snaps.Close() }()

	if err := snaps.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %q deleted\n", args[0])
	return nil
}
