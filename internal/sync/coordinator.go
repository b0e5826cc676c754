package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"habitsync/internal/utils"
)

// Triggers recorded in the queue and history
const (
	TriggerLaunch     = "launch"
	TriggerInterval   = "interval"
	TriggerManual     = "manual"
	TriggerDataChange = "data_change"
	TriggerBackground = "background"
)

// CoordinatorOptions configures automatic syncing
type CoordinatorOptions struct {
	// Interval between periodic syncs; zero disables the ticker
	Interval time.Duration
	// Timeout bounds a single run; zero means no limit
	Timeout     time.Duration
	SyncOnStart bool
	Logger      *log.Logger
}

// Coordinator runs the engine in the background on launch, on a timer and
// after local changes. At most one run is in flight; triggers arriving
// meanwhile are dropped because the running sync already covers them.
type Coordinator struct {
	engine *Engine
	opts   CoordinatorOptions

	ctx    context.Context
	cancel context.CancelFunc

	// Goroutine management
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	running  atomic.Bool
	shutdown atomic.Bool

	// Logging (silent errors)
	logger *log.Logger
}

// NewCoordinator creates a coordinator for engine
func NewCoordinator(engine *Engine, opts CoordinatorOptions) (*Coordinator, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync engine is required")
	}
	if opts.Interval < 0 || opts.Timeout < 0 {
		return nil, fmt.Errorf("interval and timeout must not be negative")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[AutoSync] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		engine: engine,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		logger: logger,
	}, nil
}

// Start triggers the launch sync and starts the periodic ticker
func (c *Coordinator) Start() {
	if c.shutdown.Load() {
		return
	}
	if c.opts.SyncOnStart {
		c.Trigger(TriggerLaunch)
	}
	if c.opts.Interval > 0 {
		c.wg.Add(1)
		go c.tick()
	}
}

func (c *Coordinator) tick() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Trigger(TriggerInterval)
		}
	}
}

// Trigger starts a background run unless one is already in flight. It
// never blocks and reports whether a run was started.
func (c *Coordinator) Trigger(trigger string) bool {
	if c.shutdown.Load() {
		return false
	}
	if !c.running.CompareAndSwap(false, true) {
		return false
	}

	c.wg.Add(1)
	go c.run(trigger)
	return true
}

// Running reports whether a run is in flight
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

func (c *Coordinator) run(trigger string) {
	defer c.wg.Done()
	defer c.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("Panic in %s sync: %v", trigger, r)
		}
	}()

	ctx := c.ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if err := RunOnce(ctx, c.engine, trigger); err != nil {
		c.logger.Printf("%s sync: %v", trigger, err)
		return
	}
	if s := c.engine.Status(); s.State != StateIdle {
		c.logger.Printf("%s sync finished: %s", trigger, s)
	}
}

// RunOnce requests a sync and executes the queue. A blocked environment or
// a pending decision is reported through the status, not as an error.
func RunOnce(ctx context.Context, engine *Engine, trigger string) error {
	return utils.LogOperationf("%s sync with %s", func() error {
		err := engine.RequestSync(ctx, trigger)
		if errors.Is(err, ErrEnvironmentBlocked) || errors.Is(err, ErrAwaitingDecision) {
			return nil
		}
		if err != nil {
			return err
		}
		return engine.Execute(ctx)
	}, trigger, engine.RemoteName())
}

// Shutdown stops the ticker and waits for the in-flight run. A run still
// going after timeout is cancelled; its intent stays queued.
func (c *Coordinator) Shutdown(timeout time.Duration) {
	c.shutdown.Store(true)
	c.stopOnce.Do(func() { close(c.stop) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Printf("Warning: Pending syncs did not complete within %v", timeout)
		c.cancel()
		<-done
	}
	c.cancel()
}
