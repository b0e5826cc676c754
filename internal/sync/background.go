package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"habitsync/internal/utils"
)

// BackgroundCommand is the hidden CLI command run by SpawnBackgroundSync
const BackgroundCommand = "_internal_background_sync"

// SpawnBackgroundSync spawns a detached process that syncs and exits, so
// the CLI returns immediately after a local change. extraArgs are passed
// to the child, e.g. --config.
func SpawnBackgroundSync(extraArgs ...string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}

	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return err
	}

	args := append([]string{BackgroundCommand}, extraArgs...)
	cmd := exec.Command(executable, args...)

	// Detach from parent process
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// RunBackground performs one sync in the current process, logging to the
// per-process background log
func RunBackground(ctx context.Context, engine *Engine, timeout time.Duration) error {
	bgLogger, err := utils.NewBackgroundLogger()
	if err != nil {
		utils.Debugf("Background logging disabled: %v", err)
	}
	defer bgLogger.Close()

	bgLogger.Printf("Started background sync at %s (PID: %d) with %s", time.Now().Format(time.RFC3339), os.Getpid(), engine.RemoteName())

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = RunOnce(ctx, engine, TriggerBackground)
	if err != nil {
		bgLogger.Printf("Sync error: %v", err)
	} else {
		bgLogger.Printf("Finished with status %s", engine.Status())
	}

	bgLogger.Printf("Finished at %s", time.Now().Format(time.RFC3339))
	return err
}
