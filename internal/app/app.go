package app

import (
	"context"
	"fmt"
	"time"

	"habitsync/internal/cli"
	"habitsync/internal/config"
	"habitsync/internal/credentials"
	"habitsync/internal/database"
	"habitsync/internal/device"
	"habitsync/internal/queue"
	"habitsync/internal/remote"
	"habitsync/internal/store"
	"habitsync/internal/sync"
	"habitsync/internal/utils"

	// Remote types register themselves
	_ "habitsync/internal/remote/folder"
	_ "habitsync/internal/remote/webdav"
)

// App holds the application state
type App struct {
	config  *config.Config
	db      *database.Database
	store   *store.Store
	queue   *queue.Manager
	device  *device.Provider
	history *sync.History

	// engine is nil when no remote is configured or sync is disabled
	engine      *sync.Engine
	coordinator *sync.Coordinator

	// backgroundArgs are passed to a spawned background sync
	backgroundArgs []string
}

// Option configures NewApp
type Option func(*App)

// WithBackgroundArgs sets extra arguments for spawned background syncs
func WithBackgroundArgs(args ...string) Option {
	return func(a *App) { a.backgroundArgs = args }
}

// NewApp opens the database and wires the sync engine from cfg
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	q, err := queue.NewManager(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sync queue: %w", err)
	}

	a := &App{
		config:  cfg,
		db:      db,
		store:   store.New(db),
		queue:   q,
		device:  device.NewProvider(db, device.WithName(cfg.Device.Name), device.WithSimulated(cfg.Device.Simulated)),
		history: sync.NewHistory(db),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.SyncEnabled() {
		rs, err := NewRemote(*cfg.Remote)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.engine, err = sync.NewEngine(sync.Deps{
			Local:   a.store,
			Queue:   q,
			Remote:  rs,
			Device:  a.device,
			History: a.history,
			FileID:  cfg.Remote.FileID,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return a, nil
}

// NewRemote builds the configured remote, resolving its password when the
// remote needs one
func NewRemote(cfg remote.Config) (remote.Store, error) {
	if cfg.Type == "webdav" && cfg.Password == "" {
		name := cfg.DisplayName()
		creds, err := credentials.NewResolver().Resolve(name, cfg.Username, cfg.URL)
		if err != nil {
			utils.Debugf("Credential resolution for %s: %v", name, err)
			return nil, utils.ErrCredentialsNotFound(name, cfg.Username)
		}
		utils.Debugf("Using %s credentials for %s", creds.Source, name)
		cfg.Username = creds.Username
		cfg.Password = creds.Password
	}

	rs, err := remote.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s remote: %w", cfg.Type, err)
	}
	return rs, nil
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Store() *store.Store {
	return a.store
}

func (a *App) Queue() *queue.Manager {
	return a.queue
}

func (a *App) Device() *device.Provider {
	return a.device
}

func (a *App) History() *sync.History {
	return a.history
}

func (a *App) Database() *database.Database {
	return a.db
}

// Engine returns the sync engine or an error explaining why sync is off
func (a *App) Engine() (*sync.Engine, error) {
	if a.engine == nil {
		return nil, utils.ErrSyncNotEnabled()
	}
	return a.engine, nil
}

// StartAutoSync starts the background coordinator for long-running
// commands
func (a *App) StartAutoSync() (*sync.Coordinator, error) {
	engine, err := a.Engine()
	if err != nil {
		return nil, err
	}
	if a.coordinator != nil {
		return a.coordinator, nil
	}

	c, err := sync.NewCoordinator(engine, sync.CoordinatorOptions{
		Interval:    a.config.Sync.Interval,
		Timeout:     a.config.Sync.Timeout,
		SyncOnStart: a.config.Sync.SyncOnStart,
	})
	if err != nil {
		return nil, err
	}
	a.coordinator = c
	c.Start()
	return c, nil
}

// NotifyDataChanged schedules a sync after a local write when auto sync is
// on. Short-lived commands hand the sync to a detached process.
func (a *App) NotifyDataChanged() {
	if a.engine == nil || !a.config.Sync.AutoSync {
		return
	}
	if a.coordinator != nil {
		a.coordinator.Trigger(sync.TriggerDataChange)
		return
	}
	if a.device.IsSimulatedEnvironment() {
		return
	}
	if err := sync.SpawnBackgroundSync(a.backgroundArgs...); err != nil {
		utils.Warnf("Failed to start background sync: %v", err)
	}
}

// StatusReport gathers what `sync status` shows
func (a *App) StatusReport(ctx context.Context) (cli.StatusReport, error) {
	report := cli.StatusReport{
		Status: sync.Idle(),
		Device: a.device.Identity(ctx),
	}
	if a.engine != nil {
		report.Status = a.engine.Status()
		report.Remote = a.engine.RemoteName()
	} else if a.device.IsSimulatedEnvironment() {
		report.Status = sync.SimulatorBlocked()
	}

	var err error
	if report.Pending, err = a.queue.Pending(ctx); err != nil {
		return report, err
	}
	if report.LastSuccess, err = a.history.LastSuccess(ctx); err != nil {
		return report, err
	}
	if report.Records, err = a.store.CurrentRecordCount(ctx); err != nil {
		return report, err
	}

	stats, err := a.db.GetStats()
	if err != nil {
		return report, err
	}
	report.DBSize = stats.DatabaseSize
	return report, nil
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() {
	a.ShutdownWithTimeout(5 * time.Second)
}

// ShutdownWithTimeout waits for a running sync, then closes the database
func (a *App) ShutdownWithTimeout(timeout time.Duration) {
	if a.coordinator != nil {
		a.coordinator.Shutdown(timeout)
	}
	if err := a.db.Close(); err != nil {
		utils.Warnf("Failed to close database: %v", err)
	}
}
