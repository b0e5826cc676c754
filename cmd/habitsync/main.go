package main

import (
	"context"
	"fmt"
	"os"

	"habitsync/internal/app"
	"habitsync/internal/config"
	"habitsync/internal/utils"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "habitsync",
		Short: "Habit tracking with whole-dataset cloud sync",
		Long: `habitsync keeps a local habit database and syncs it as a single
snapshot file to a WebDAV server or a shared folder.

When the cloud copy was written by another device, nothing is overwritten
until you choose which side to keep.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.SetVerboseMode(verbose)
			if configPath != "" {
				config.SetCustomConfigPath(configPath)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file or directory (default: $XDG_CONFIG_HOME/habitsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newDeviceCmd())
	rootCmd.AddCommand(newCredentialsCmd())
	rootCmd.AddCommand(newHabitCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newBackgroundSyncCmd())

	return rootCmd
}

// loadConfig reads the configuration selected by --config
func loadConfig() (*config.Config, error) {
	path, err := config.GetConfigPath()
	if err != nil {
		return nil, err
	}
	return config.LoadConfig(path)
}

// openApp loads the configuration and opens the database. Callers must
// Shutdown the returned app.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var bgArgs []string
	if configPath != "" {
		bgArgs = append(bgArgs, "--config", configPath)
	}
	return app.NewApp(ctx, cfg, app.WithBackgroundArgs(bgArgs...))
}

// isInteractive reports whether stdin and stdout are terminals
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
