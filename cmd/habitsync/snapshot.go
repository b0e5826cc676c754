package main

import (
	"fmt"
	"io"
	"os"

	"habitsync/internal/app"
	"habitsync/internal/snapshot"
	"habitsync/internal/utils"

	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the whole dataset as a snapshot file",
		Long: `Snapshots use the same format as the synced file: canonical JSON with
a header carrying the producing device, record count and checksum.`,
	}

	cmd.AddCommand(newSnapshotExportCmd())
	cmd.AddCommand(newSnapshotImportCmd())
	return cmd
}

func newSnapshotExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the local dataset to a file (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				snap, err := a.Store().ExportSnapshot(ctx)
				if err != nil {
					return err
				}

				id := a.Device().Identity(ctx)
				snap.Header = snapshot.Header{
					ProducedBy:     id.ID,
					ProducedByName: id.Name,
					ProducedAt:     snapshot.Now(),
				}
				if err := snap.Seal(); err != nil {
					return err
				}

				data, err := snapshot.Encode(snap)
				if err != nil {
					return err
				}

				if len(args) == 0 {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(args[0], data, 0644); err != nil {
					return fmt.Errorf("failed to write snapshot: %w", err)
				}
				fmt.Fprintf(os.Stderr, "✓ Exported %d records to %s\n", snap.Header.RecordCount, args[0])
				return nil
			})
		},
	}
}

func newSnapshotImportCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the local dataset with a snapshot file",
		Long: `Replace all local habits, tasks and settings with the contents of a
snapshot file. The file's checksum is verified first; a damaged file is
never applied. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}

			snap, err := snapshot.Decode(data)
			if err != nil {
				return fmt.Errorf("refusing to import %s: %w", args[0], err)
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				current, err := a.Store().CurrentRecordCount(ctx)
				if err != nil {
					return err
				}

				if !force {
					question := fmt.Sprintf("Replace %d local records with %d records from %s?", current, snap.Header.RecordCount, args[0])
					if !utils.PromptYesNo(question) {
						fmt.Println("Cancelled")
						return nil
					}
				}

				if err := a.Store().ImportSnapshot(ctx, snap); err != nil {
					return err
				}
				fmt.Printf("✓ Imported %d records\n", snap.Header.RecordCount)
				a.NotifyDataChanged()
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}
