package main

import (
	"time"

	"habitsync/internal/sync"
	"habitsync/internal/utils"

	"github.com/spf13/cobra"
)

// backgroundSyncTimeout bounds a detached sync when no timeout is configured
const backgroundSyncTimeout = time.Minute

// newBackgroundSyncCmd creates a hidden command that runs sync in background
// This is spawned as a separate process to allow the main CLI to exit immediately
func newBackgroundSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:    sync.BackgroundCommand,
		Hidden: true,
		Short:  "Internal command for background sync (do not call directly)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				utils.Debugf("Background sync: %v", err)
				return nil // Silent fail
			}
			defer a.Shutdown()

			cfg := a.Config()
			if !cfg.SyncEnabled() || !cfg.Sync.AutoSync {
				return nil
			}
			engine, err := a.Engine()
			if err != nil {
				return nil
			}

			timeout := cfg.Sync.Timeout
			if timeout == 0 {
				timeout = backgroundSyncTimeout
			}

			// Failures stay in the queue and the background log
			sync.RunBackground(cmd.Context(), engine, timeout)
			return nil
		},
	}
}
