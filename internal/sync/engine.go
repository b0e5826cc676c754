package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"habitsync/internal/conflict"
	"habitsync/internal/device"
	"habitsync/internal/queue"
	"habitsync/internal/remote"
	"habitsync/internal/snapshot"
	"habitsync/internal/utils"
)

var (
	// ErrAwaitingDecision is returned while a conflict waits for Resolve
	ErrAwaitingDecision = errors.New("sync is waiting for a conflict resolution")
	// ErrEnvironmentBlocked is returned when sync is attempted in a simulated environment
	ErrEnvironmentBlocked = errors.New("sync is disabled in a simulated environment")
	// ErrNoPendingConflict is returned by Resolve when there is nothing to resolve
	ErrNoPendingConflict = errors.New("no conflict is waiting for a resolution")
	// ErrEphemeralIdentity is returned when the device identity could not be persisted
	ErrEphemeralIdentity = errors.New("device identity is not persisted; sync needs a writable database")
	// ErrConflictChanged is returned by Resolve(UseCloudData) when the cloud
	// copy changed after the user saw it; a fresh conflict awaits a decision
	ErrConflictChanged = errors.New("cloud data changed since the conflict was shown")
)

// Resolution is the user's answer to a conflict
type Resolution int

const (
	// UseThisDevice overwrites the cloud snapshot with local data
	UseThisDevice Resolution = iota + 1
	// UseCloudData replaces local data with the cloud snapshot
	UseCloudData
	// Cancel drops the queued sync and touches neither side
	Cancel
)

func (r Resolution) String() string {
	switch r {
	case UseThisDevice:
		return "this-device"
	case UseCloudData:
		return "cloud"
	case Cancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ParseResolution parses a --resolve flag value
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "this-device", "local", "device":
		return UseThisDevice, nil
	case "cloud", "remote":
		return UseCloudData, nil
	case "cancel":
		return Cancel, nil
	default:
		return 0, fmt.Errorf("invalid resolution %q (valid: this-device, cloud, cancel)", s)
	}
}

// LocalStore is the local dataset as seen by the engine
type LocalStore interface {
	ExportSnapshot(ctx context.Context) (snapshot.Snapshot, error)
	ImportSnapshot(ctx context.Context, snap snapshot.Snapshot) error
	CurrentRecordCount(ctx context.Context) (int, error)
}

// DeviceIdentity identifies this installation and gates sync
type DeviceIdentity interface {
	Identity(ctx context.Context) device.Record
	IsSimulatedEnvironment() bool
}

// Deps are the engine's collaborators. History is optional.
type Deps struct {
	Local   LocalStore
	Queue   *queue.Manager
	Remote  remote.Store
	Device  DeviceIdentity
	History *History
	FileID  string
}

type pendingConflict struct {
	record  conflict.Record
	header  snapshot.Header
	trigger string
}

// Engine runs sync intents against the remote snapshot and owns the sync
// Status. One engine exists per process; it is the only writer of Status.
type Engine struct {
	local   LocalStore
	queue   *queue.Manager
	remote  remote.Store
	device  DeviceIdentity
	history *History
	fileID  string
	now     func() time.Time

	// permit serializes Execute, ExecuteNext and Resolve
	permit chan struct{}

	// guarded by the permit
	runTrigger string
	runMsg     string

	mu      sync.Mutex
	status  Status
	pending *pendingConflict
	subs    map[int]chan Status
	nextSub int
}

// NewEngine creates an engine in the Idle state
func NewEngine(d Deps) (*Engine, error) {
	if d.Local == nil || d.Queue == nil || d.Remote == nil || d.Device == nil {
		return nil, fmt.Errorf("local store, queue, remote and device identity are required")
	}
	if err := remote.ValidateFileID(d.FileID); err != nil {
		return nil, err
	}

	return &Engine{
		local:   d.Local,
		queue:   d.Queue,
		remote:  d.Remote,
		device:  d.Device,
		history: d.History,
		fileID:  d.FileID,
		now:     time.Now,
		permit:  make(chan struct{}, 1),
		status:  Status{State: StateIdle, Since: time.Now()},
		subs:    make(map[int]chan Status),
	}, nil
}

// RemoteName returns the display name of the remote
func (e *Engine) RemoteName() string {
	return e.remote.DisplayName()
}

// Status returns the current status
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Subscribe returns a channel receiving the current status and every later
// change, and a function that stops the subscription. A slow reader misses
// intermediate values but always sees the latest one.
func (e *Engine) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 16)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	ch <- e.status
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
}

func publish(ch chan Status, s Status) {
	select {
	case ch <- s:
		return
	default:
	}
	// Full: drop the oldest value
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// transitionLocked moves to next if the state machine allows it. Callers
// hold e.mu.
func (e *Engine) transitionLocked(next Status) bool {
	if !CanTransition(e.status.State, next.State) {
		utils.Errorf("Rejected sync status transition %s -> %s", e.status.State, next.State)
		return false
	}
	next.Since = e.now()
	e.status = next
	for _, ch := range e.subs {
		publish(ch, next)
	}
	return true
}

func (e *Engine) transition(next Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitionLocked(next)
}

// DismissStatus returns a terminal status to Idle. Other states are left
// alone; the return value reports whether anything changed.
func (e *Engine) DismissStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.status.IsTerminal() {
		return false
	}
	return e.transitionLocked(Idle())
}

// RequestSync queues a pull followed by a push and moves to Syncing. In a
// simulated environment nothing is queued and the status becomes
// SimulatorBlocked.
func (e *Engine) RequestSync(ctx context.Context, trigger string) error {
	if e.device.IsSimulatedEnvironment() {
		e.block(ctx, trigger)
		return ErrEnvironmentBlocked
	}
	if e.awaitingDecision() {
		return ErrAwaitingDecision
	}

	if _, err := e.queue.Enqueue(ctx, queue.KindPull, trigger); err != nil {
		return fmt.Errorf("failed to queue pull: %w", err)
	}
	if _, err := e.queue.Enqueue(ctx, queue.KindPush, trigger); err != nil {
		return fmt.Errorf("failed to queue push: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		// A conflict surfaced while enqueueing; the intents wait behind it
		return ErrAwaitingDecision
	}
	if e.status.State != StateSyncing {
		e.transitionLocked(Syncing(fmt.Sprintf("Sync requested (%s)", trigger)))
	}
	return nil
}

// Execute runs queued intents until the queue is empty, an attempt fails, or
// a conflict pauses execution. A paused engine returns nil with the status
// AwaitingUserDecision.
func (e *Engine) Execute(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if err := e.ready(ctx); err != nil {
		return err
	}
	for {
		more, err := e.step(ctx)
		if err != nil || !more {
			return err
		}
	}
}

// ExecuteNext runs at most one queued intent and reports whether more work
// may follow
func (e *Engine) ExecuteNext(ctx context.Context) (bool, error) {
	if err := e.acquire(ctx); err != nil {
		return false, err
	}
	defer e.release()

	if err := e.ready(ctx); err != nil {
		return false, err
	}
	return e.step(ctx)
}

// Resolve applies the user's decision on the pending conflict
func (e *Engine) Resolve(ctx context.Context, r Resolution) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	e.mu.Lock()
	pc := e.pending
	e.mu.Unlock()
	if pc == nil {
		return ErrNoPendingConflict
	}
	if e.device.IsSimulatedEnvironment() {
		e.block(ctx, "resolve")
		return ErrEnvironmentBlocked
	}

	switch r {
	case Cancel:
		return e.cancel(ctx, pc)
	case UseThisDevice:
		return e.keepLocal(ctx, pc)
	case UseCloudData:
		return e.adoptRemote(ctx, pc)
	default:
		return fmt.Errorf("unknown resolution %d", r)
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.permit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.permit
}

func (e *Engine) awaitingDecision() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

func (e *Engine) ready(ctx context.Context) error {
	if e.device.IsSimulatedEnvironment() {
		e.block(ctx, "execute")
		return ErrEnvironmentBlocked
	}
	if e.awaitingDecision() {
		return ErrAwaitingDecision
	}
	return nil
}

func (e *Engine) block(ctx context.Context, trigger string) {
	e.mu.Lock()
	already := e.status.State == StateSimulatorBlocked
	e.pending = nil
	e.transitionLocked(SimulatorBlocked())
	e.mu.Unlock()

	if !already {
		utils.Warnf("Sync refused: this is a simulated environment (set %s=false to allow)", device.SimulatedEnvVar)
		e.record(ctx, trigger, OutcomeBlocked, "simulated environment")
	}
}

// step dequeues and runs one intent. It returns true when the intent
// completed and the queue may hold more.
func (e *Engine) step(ctx context.Context) (bool, error) {
	intent, err := e.queue.DequeueNext(ctx)
	if err != nil {
		if errors.Is(err, queue.ErrBusy) {
			e.failRun(ctx, "Another habitsync process is syncing; try again shortly")
		} else {
			e.failRun(ctx, fmt.Sprintf("Sync queue unavailable: %v", err))
		}
		return false, err
	}
	if intent == nil {
		e.finishRun(ctx)
		return false, nil
	}

	e.mu.Lock()
	if e.status.State != StateSyncing {
		e.runMsg = ""
	}
	e.transitionLocked(Syncing(fmt.Sprintf("Running %s with %s (attempt %d)", intent.Kind, e.remote.DisplayName(), intent.AttemptCount)))
	e.mu.Unlock()
	e.runTrigger = intent.Trigger

	utils.Debugf("Executing %s intent %s (trigger %q, attempt %d)", intent.Kind, intent.ID, intent.Trigger, intent.AttemptCount)

	id := e.device.Identity(ctx)
	if id.Ephemeral {
		return false, e.failIntent(ctx, intent, ErrEphemeralIdentity)
	}

	meta, err := e.remoteMetadata(ctx)
	if err != nil {
		return false, e.failIntent(ctx, intent, err)
	}

	verdict := conflict.Evaluate(id.ID, meta)
	utils.Debugf("Conflict check for %s: %s", intent.Kind, verdict)
	if verdict == conflict.Divergent {
		return false, e.enterConflict(ctx, intent, meta)
	}

	switch intent.Kind {
	case queue.KindPull:
		// Nothing newer to pull: the cloud copy is ours, empty, or absent
		if meta == nil {
			utils.Debugf("No snapshot on %s yet", e.remote.DisplayName())
		}
	case queue.KindPush:
		msg, err := e.push(ctx, id, meta)
		if err != nil {
			return false, e.failIntent(ctx, intent, err)
		}
		e.runMsg = msg
	}

	if err := e.queue.Complete(ctx, intent.ID); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			utils.Warnf("The %s intent was taken over by another habitsync process; it will run again", intent.Kind)
			return true, nil
		}
		e.failRun(ctx, fmt.Sprintf("Sync queue unavailable: %v", err))
		return false, err
	}
	return true, nil
}

// remoteMetadata returns the remote header, or nil when there is no
// snapshot yet
func (e *Engine) remoteMetadata(ctx context.Context) (*snapshot.Header, error) {
	meta, err := e.remote.GetMetadata(ctx, e.fileID)
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// push uploads local data unless the cloud copy already matches it
func (e *Engine) push(ctx context.Context, id device.Record, meta *snapshot.Header) (string, error) {
	snap, err := e.prepare(ctx, id)
	if err != nil {
		return "", err
	}
	if meta != nil && meta.ProducedBy == id.ID && meta.Checksum == snap.Header.Checksum {
		return fmt.Sprintf("%s is up to date (%d records)", e.remote.DisplayName(), meta.RecordCount), nil
	}
	if err := e.upload(ctx, snap); err != nil {
		return "", err
	}
	return fmt.Sprintf("Uploaded %d records to %s", snap.Header.RecordCount, e.remote.DisplayName()), nil
}

// prepare exports local data as a sealed snapshot produced by id
func (e *Engine) prepare(ctx context.Context, id device.Record) (snapshot.Snapshot, error) {
	snap, err := e.local.ExportSnapshot(ctx)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snap.Header = snapshot.Header{
		ProducedBy:     id.ID,
		ProducedByName: id.Name,
		ProducedAt:     snapshot.FromTime(e.now()),
	}
	if err := snap.Seal(); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

func (e *Engine) upload(ctx context.Context, snap snapshot.Snapshot) error {
	body, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	return e.remote.PutBody(ctx, e.fileID, body)
}

func (e *Engine) enterConflict(ctx context.Context, intent *queue.Intent, meta *snapshot.Header) error {
	localCount, err := e.local.CurrentRecordCount(ctx)
	if err != nil {
		return e.failIntent(ctx, intent, err)
	}
	if err := e.queue.Release(ctx, intent.ID); err != nil {
		utils.Warnf("Failed to return %s intent to the queue: %v", intent.Kind, err)
	}

	e.awaitDecision(ctx, intent.Trigger, meta, localCount)
	return nil
}

// awaitDecision parks a conflict against meta and waits for Resolve
func (e *Engine) awaitDecision(ctx context.Context, trigger string, meta *snapshot.Header, localCount int) {
	rec := conflict.NewRecord(meta, localCount)

	e.mu.Lock()
	e.pending = &pendingConflict{record: rec, header: *meta, trigger: trigger}
	e.transitionLocked(ConflictDetected(rec))
	e.transitionLocked(AwaitingUserDecision(rec))
	e.mu.Unlock()

	msg := fmt.Sprintf("cloud data from %s (%d records, local %d, severity %s)",
		rec.RemoteLabel(), rec.RemoteRecordCount, rec.LocalRecordCount, rec.Severity)
	utils.Infof("Sync paused: %s", msg)
	e.record(ctx, trigger, OutcomeConflict, msg)
}

// failIntent records cause on the intent, keeps it queued and moves to Failed
func (e *Engine) failIntent(ctx context.Context, intent *queue.Intent, cause error) error {
	if err := e.queue.Fail(ctx, intent.ID, cause); err != nil {
		utils.Errorf("Failed to record sync error on intent %s: %v", intent.ID, err)
	}
	e.failRun(ctx, describeError(cause, e.remote.DisplayName()))
	return fmt.Errorf("%s failed: %w", intent.Kind, cause)
}

func (e *Engine) failRun(ctx context.Context, msg string) {
	e.mu.Lock()
	moved := e.status.State == StateSyncing && e.transitionLocked(Failed(msg))
	e.mu.Unlock()

	if moved {
		utils.Warnf("Sync failed: %s", msg)
		e.record(ctx, e.runTrigger, OutcomeFailed, msg)
	}
	e.runMsg = ""
}

func (e *Engine) finishRun(ctx context.Context) {
	msg := e.runMsg
	if msg == "" {
		msg = "Everything is up to date"
	}

	e.mu.Lock()
	moved := e.status.State == StateSyncing && e.transitionLocked(Success(msg))
	e.mu.Unlock()

	if moved {
		utils.Infof("Sync finished: %s", msg)
		e.record(ctx, e.runTrigger, OutcomeSuccess, msg)
	}
	e.runMsg = ""
}

func (e *Engine) cancel(ctx context.Context, pc *pendingConflict) error {
	n, err := e.queue.Discard(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pending = nil
	e.transitionLocked(Idle())
	e.mu.Unlock()

	e.record(ctx, pc.trigger, OutcomeCancelled, fmt.Sprintf("conflict with %s left unresolved, %d intent(s) discarded", pc.record.RemoteLabel(), n))
	return nil
}

// beginResolution consumes the pending conflict and moves to Syncing
func (e *Engine) beginResolution(pc *pendingConflict, r Resolution, msg string) {
	e.mu.Lock()
	e.pending = nil
	e.transitionLocked(Syncing(msg))
	e.mu.Unlock()
	e.runTrigger = pc.trigger + " (resolved: " + r.String() + ")"
}

// endResolution drops the intents the resolution satisfied and moves to Success
func (e *Engine) endResolution(ctx context.Context, msg string) {
	if _, err := e.queue.Discard(ctx); err != nil {
		utils.Warnf("Failed to clear satisfied sync intents: %v", err)
	}
	e.runMsg = msg
	e.finishRun(ctx)
}

func (e *Engine) keepLocal(ctx context.Context, pc *pendingConflict) error {
	e.beginResolution(pc, UseThisDevice, fmt.Sprintf("Replacing cloud data from %s with this device's data", pc.record.RemoteLabel()))

	id := e.device.Identity(ctx)
	if id.Ephemeral {
		e.failRun(ctx, describeError(ErrEphemeralIdentity, e.remote.DisplayName()))
		return ErrEphemeralIdentity
	}

	snap, err := e.prepare(ctx, id)
	if err == nil {
		err = e.upload(ctx, snap)
	}
	if err != nil {
		e.failRun(ctx, describeError(err, e.remote.DisplayName()))
		return fmt.Errorf("upload failed: %w", err)
	}

	e.endResolution(ctx, fmt.Sprintf("Uploaded %d records to %s, replacing data from %s",
		snap.Header.RecordCount, e.remote.DisplayName(), pc.record.RemoteLabel()))
	return nil
}

func (e *Engine) adoptRemote(ctx context.Context, pc *pendingConflict) error {
	e.beginResolution(pc, UseCloudData, fmt.Sprintf("Downloading cloud data from %s", pc.record.RemoteLabel()))

	body, err := e.remote.GetBody(ctx, e.fileID)
	if err != nil {
		e.failRun(ctx, describeError(err, e.remote.DisplayName()))
		return fmt.Errorf("download failed: %w", err)
	}
	snap, err := snapshot.Decode(body)
	if err != nil {
		e.failRun(ctx, describeError(err, e.remote.DisplayName()))
		return err
	}
	if snap.Header.Checksum != pc.header.Checksum {
		localCount, err := e.local.CurrentRecordCount(ctx)
		if err != nil {
			e.failRun(ctx, fmt.Sprintf("Could not count local records: %v", err))
			return err
		}
		utils.Warnf("Cloud data changed since the conflict was shown; asking again")
		e.runMsg = ""
		e.awaitDecision(ctx, pc.trigger, &snap.Header, localCount)
		return ErrConflictChanged
	}

	if err := e.local.ImportSnapshot(ctx, snap); err != nil {
		e.failRun(ctx, fmt.Sprintf("Could not replace local data: %v", err))
		return err
	}
	utils.Infof("Replaced local data with %d records from %s", snap.Header.RecordCount, labelOf(&snap.Header))

	// Re-stamp the adopted snapshot as ours so the next sync from this
	// device continues without a prompt
	if err := e.claim(ctx, snap.Header.Checksum); err != nil {
		e.failRun(ctx, "Local data now matches the cloud, but marking the cloud copy as synced failed: "+describeError(err, e.remote.DisplayName()))
		return err
	}

	e.endResolution(ctx, fmt.Sprintf("Replaced local data with %d records from %s", snap.Header.RecordCount, labelOf(&snap.Header)))
	return nil
}

// claim uploads the just-imported local data under this device's identity,
// but only while the cloud still holds the snapshot that was imported
func (e *Engine) claim(ctx context.Context, checksum string) error {
	id := e.device.Identity(ctx)
	if id.Ephemeral {
		return ErrEphemeralIdentity
	}

	meta, err := e.remoteMetadata(ctx)
	if err != nil {
		return err
	}
	if meta == nil || meta.Checksum != checksum {
		utils.Warnf("Cloud data changed again while it was being applied; the next sync will ask again")
		return nil
	}

	snap, err := e.prepare(ctx, id)
	if err != nil {
		return err
	}
	return e.upload(ctx, snap)
}

func (e *Engine) record(ctx context.Context, trigger string, outcome Outcome, msg string) {
	if e.history == nil {
		return
	}
	if err := e.history.Record(ctx, trigger, outcome, msg); err != nil {
		utils.Warnf("%v", err)
	}
}

func labelOf(h *snapshot.Header) string {
	if h.ProducedByName != "" {
		return h.ProducedByName
	}
	return h.ProducedBy
}

// describeError turns an attempt failure into a status message
func describeError(err error, remoteName string) string {
	if kind := snapshot.KindOf(err); kind != "" {
		return fmt.Sprintf("Cloud snapshot on %s is unreadable (%s); nothing was changed", remoteName, kind)
	}
	if errors.Is(err, ErrEphemeralIdentity) {
		return "This device has no stored identity; check that the database is writable"
	}
	te, ok := remote.AsTransportError(err)
	if !ok {
		return err.Error()
	}

	var msg string
	switch te.Kind {
	case remote.KindUnauthorized:
		msg = fmt.Sprintf("Authentication with %s failed", remoteName)
	case remote.KindQuotaExceeded:
		msg = fmt.Sprintf("%s is out of storage space", remoteName)
	case remote.KindNotFound:
		msg = fmt.Sprintf("Snapshot not found on %s", remoteName)
	case remote.KindNetwork:
		msg = fmt.Sprintf("%s is unreachable: %s", remoteName, te.Message)
	case remote.KindServer:
		msg = fmt.Sprintf("%s returned a server error (%d)", remoteName, te.StatusCode)
	default:
		msg = fmt.Sprintf("%s: %s", remoteName, te.Message)
	}
	if te.IsRetryable() {
		msg += "; the sync stays queued for the next attempt"
	}
	return msg
}

// UserError turns an error from a sync run into one that tells the user
// what to do about it
func UserError(err error, remoteName string) error {
	if err == nil {
		return nil
	}
	if snapshot.IsDecodeError(err) {
		return utils.WrapWithSuggestion(err,
			"The cloud copy is damaged or from a newer habitsync. Nothing was changed; "+
				"'habitsync sync --resolve this-device' replaces it once a conflict is shown, "+
				"or restore it from your drive's file history")
	}
	if errors.Is(err, ErrEnvironmentBlocked) {
		return utils.ErrSimulatedEnvironment()
	}
	if errors.Is(err, ErrEphemeralIdentity) {
		return utils.WrapWithSuggestion(err, "Check that the database directory is writable, then run 'habitsync sync' again")
	}

	te, ok := remote.AsTransportError(err)
	if !ok {
		return err
	}
	switch te.Kind {
	case remote.KindUnauthorized:
		return utils.ErrAuthenticationFailed(remoteName)
	case remote.KindQuotaExceeded:
		return utils.ErrQuotaExceeded(remoteName)
	case remote.KindNetwork:
		reason := te.Message
		if te.Err != nil {
			reason = te.Err.Error()
		}
		return utils.ErrRemoteOffline(remoteName, reason)
	}
	if te.IsRetryable() {
		return utils.WrapWithSuggestion(err, "The remote had a temporary problem. Your sync stays queued; run 'habitsync sync' again later")
	}
	return err
}
