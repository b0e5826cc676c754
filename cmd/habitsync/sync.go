package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"habitsync/internal/app"
	"habitsync/internal/cli"
	"habitsync/internal/sync"
	"habitsync/internal/utils"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the sync command with all subcommands
func newSyncCmd() *cobra.Command {
	var resolve string
	var noInput bool

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize habits with the configured remote",
		Long: `Synchronize the local habit database with the remote snapshot.

A sync pulls first, then uploads this device's data. If the cloud copy was
written by another device, sync stops and asks which side to keep:

  this-device  upload this device's data over the cloud copy
  cloud        replace this device's data with the cloud copy
  cancel       change nothing

Examples:
  habitsync sync                        # Sync, asking on conflict
  habitsync sync --resolve cloud        # Sync and keep the cloud copy on conflict
  habitsync sync status                 # Show sync status
  habitsync sync queue                  # Show pending sync intents
  habitsync sync queue clear            # Drop pending sync intents
  habitsync sync watch                  # Keep syncing in the foreground`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			engine, err := a.Engine()
			if err != nil {
				return err
			}

			var resolution *sync.Resolution
			if resolve != "" {
				r, err := sync.ParseResolution(resolve)
				if err != nil {
					return err
				}
				resolution = &r
			}

			if err := sync.RunOnce(ctx, engine, sync.TriggerManual); err != nil {
				return sync.UserError(err, engine.RemoteName())
			}

			status := engine.Status()
			if status.NeedsDecision() {
				if err := decide(ctx, engine, status, resolution, noInput); err != nil {
					return sync.UserError(err, engine.RemoteName())
				}
				status = engine.Status()
			} else if resolution != nil {
				fmt.Println("No conflict to resolve")
			}

			return reportOutcome(status)
		},
	}

	syncCmd.Flags().StringVar(&resolve, "resolve", "", "resolve a conflict without asking: this-device, cloud or cancel")
	syncCmd.Flags().BoolVar(&noInput, "no-input", false, "never prompt; leave conflicts pending")
	syncCmd.RegisterFlagCompletionFunc("resolve", cli.ResolutionCompletion)

	syncCmd.AddCommand(newSyncStatusCmd())
	syncCmd.AddCommand(newSyncQueueCmd())
	syncCmd.AddCommand(newSyncHistoryCmd())
	syncCmd.AddCommand(newSyncWatchCmd())

	return syncCmd
}

// decide applies a resolution to the pending conflict, asking the user
// when none was given and a terminal is attached. A conflict that changed
// while the user was deciding is shown again.
func decide(ctx context.Context, engine *sync.Engine, status sync.Status, r *sync.Resolution, noInput bool) error {
	for {
		choice := r
		if choice == nil {
			if noInput || !isInteractive() {
				fmt.Print(cli.RenderConflict(*status.Conflict, time.Now(), false))
				return nil
			}

			picked, ok, err := cli.PickResolution(*status.Conflict)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Conflict left pending. Run 'habitsync sync' again to decide.")
				return nil
			}
			choice = &picked
		}

		err := engine.Resolve(ctx, *choice)
		if !errors.Is(err, sync.ErrConflictChanged) {
			return err
		}
		status = engine.Status()
		fmt.Println("Cloud data changed while you were deciding.")
		if r != nil {
			fmt.Print(cli.RenderConflict(*status.Conflict, time.Now(), false))
			return nil
		}
	}
}

func reportOutcome(status sync.Status) error {
	switch status.State {
	case sync.StateFailed:
		return fmt.Errorf("sync failed: %s", status.Message)
	case sync.StateSimulatorBlocked:
		return utils.ErrSimulatedEnvironment()
	case sync.StateConflictDetected, sync.StateAwaitingUserDecision:
		return nil
	}
	if status.Message != "" {
		fmt.Println("✓", status.Message)
	} else {
		fmt.Println("✓ Up to date")
	}
	return nil
}

// newSyncStatusCmd creates the 'sync status' command
func newSyncStatusCmd() *cobra.Command {
	var asJSON, asYAML bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display the sync status: remote, device identity, last successful
sync, queued intents and local record count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown()

			report, err := a.StatusReport(cmd.Context())
			if err != nil {
				return err
			}

			if format := utils.FormatFromFlags(asJSON, asYAML); format != utils.FormatText {
				return utils.Encode(cmd.OutOrStdout(), format, report)
			}
			fmt.Print(cli.RenderStatus(report, time.Now(), a.Config().UI.Color && isInteractive()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "output as YAML")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml")
	return cmd
}

// newSyncQueueCmd creates the 'sync queue' command
func newSyncQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Show pending sync intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown()

			intents, err := a.Queue().Pending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(cli.RenderQueue(intents, time.Now()))
			return nil
		},
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all pending sync intents",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown()

			n, err := a.Queue().Discard(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("✓ Cleared %d pending intent(s)\n", n)
			return nil
		},
	})

	return queueCmd
}

func newSyncHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Shutdown()

			entries, err := a.History().Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Print(cli.RenderHistory(entries, time.Now()))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	return cmd
}

// newSyncWatchCmd keeps the coordinator running in the foreground and
// prints every status change
func newSyncWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync periodically and print status changes until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			return watch(ctx, a)
		},
	}
}

func watch(ctx context.Context, a *app.App) error {
	engine, err := a.Engine()
	if err != nil {
		return err
	}

	updates, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	coordinator, err := a.StartAutoSync()
	if err != nil {
		return err
	}
	fmt.Printf("Watching %s (every %s). Press Ctrl+C to stop.\n", engine.RemoteName(), a.Config().Sync.Interval)
	if !a.Config().Sync.SyncOnStart {
		coordinator.Trigger(sync.TriggerManual)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), status)

			switch {
			case status.State == sync.StateAwaitingUserDecision:
				if isInteractive() {
					if err := decide(ctx, engine, status, nil, false); err != nil {
						fmt.Println("Resolve failed:", err)
					}
				} else {
					fmt.Print(cli.RenderConflict(*status.Conflict, time.Now(), false))
				}
			case status.IsTerminal() && status.State != sync.StateSimulatorBlocked:
				engine.DismissStatus()
			}
		}
	}
}
