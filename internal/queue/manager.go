package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"habitsync/internal/database"
	"habitsync/internal/utils"

	"github.com/google/uuid"
)

const intentColumns = `id, kind, state, trigger, enqueued_at, started_at, attempt_count, last_error`

// pull before push, then oldest first
const intentOrder = `CASE kind WHEN 'pull' THEN 0 ELSE 1 END, enqueued_at ASC, id ASC`

// DefaultLease is how long a dequeued intent stays owned by the process that
// dequeued it before another process may take it over
const DefaultLease = 10 * time.Minute

// Manager is the durable sync intent queue. It is the only code that reads
// or writes the sync_intents table.
//
// Several processes may share one database. An in-flight intent is owned by
// the Manager that dequeued it until its lease runs out or the owning
// process is gone; only the owner can complete, fail or release it.
type Manager struct {
	db    *database.Database
	now   func() time.Time
	lease time.Duration
	owner string
	pid   int
	alive func(pid int) bool
}

// Option configures a Manager
type Option func(*Manager)

// WithLease sets how long a dequeued intent is held
func WithLease(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lease = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager opens the queue on db and recovers intents abandoned by a
// process that crashed or was killed mid-attempt.
func NewManager(ctx context.Context, db *database.Database, opts ...Option) (*Manager, error) {
	m := &Manager{
		db:    db,
		now:   time.Now,
		lease: DefaultLease,
		owner: uuid.NewString(),
		pid:   os.Getpid(),
		alive: processAlive,
	}
	for _, opt := range opts {
		opt(m)
	}

	recovered, err := m.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		utils.Infof("Recovered %d interrupted sync intent(s)", recovered)
	}
	return m, nil
}

// Enqueue adds an intent of the given kind. If a pending intent of that kind
// already exists it is refreshed (newer enqueue time and trigger) instead of
// adding a second one. An in-flight intent never absorbs a new enqueue.
func (m *Manager) Enqueue(ctx context.Context, kind Kind, trigger string) (*Intent, error) {
	if !ValidKind(kind) {
		return nil, &QueueError{Op: "Enqueue", Err: fmt.Errorf("unknown intent kind %q", kind)}
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &QueueError{Op: "Enqueue", Err: err}
	}
	defer tx.Rollback()

	now := m.now().UnixMilli()

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_intents
		SET enqueued_at = MAX(enqueued_at, ?), trigger = ?
		WHERE kind = ? AND state = 'pending'
	`, now, nullString(trigger), kind)
	if err != nil {
		return nil, &QueueError{Op: "Enqueue", Err: err}
	}

	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_intents (id, kind, state, trigger, enqueued_at, attempt_count)
			VALUES (?, ?, 'pending', ?, ?, 0)
		`, uuid.NewString(), kind, nullString(trigger), now)
		if err != nil {
			return nil, &QueueError{Op: "Enqueue", Err: err}
		}
	} else {
		utils.Debugf("Coalesced %s intent into the pending one", kind)
	}

	intent, err := scanIntent(tx.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM sync_intents WHERE kind = ? AND state = 'pending'`, kind))
	if err != nil {
		return nil, &QueueError{Op: "Enqueue", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &QueueError{Op: "Enqueue", IntentID: intent.ID, Err: err}
	}
	return intent, nil
}

// DequeueNext marks the next pending intent in flight, counts the attempt
// and returns it. It returns nil when nothing is pending and ErrBusy while
// another intent is already in flight.
func (m *Manager) DequeueNext(ctx context.Context) (*Intent, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &QueueError{Op: "DequeueNext", Err: err}
	}
	defer tx.Rollback()

	if _, err := m.recoverTx(ctx, tx); err != nil {
		return nil, &QueueError{Op: "DequeueNext", Err: err}
	}

	var inFlight int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_intents WHERE state = 'in_flight'`).Scan(&inFlight); err != nil {
		return nil, &QueueError{Op: "DequeueNext", Err: err}
	}
	if inFlight > 0 {
		return nil, ErrBusy
	}

	intent, err := scanIntent(tx.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM sync_intents WHERE state = 'pending' ORDER BY `+intentOrder+` LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &QueueError{Op: "DequeueNext", Err: err}
	}

	started := m.now()
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_intents
		SET state = 'in_flight', started_at = ?, attempt_count = attempt_count + 1,
			owner = ?, owner_pid = ?, lease_until = ?
		WHERE id = ?
	`, started.UnixMilli(), m.owner, m.pid, started.Add(m.lease).UnixMilli(), intent.ID)
	if err != nil {
		return nil, &QueueError{Op: "DequeueNext", IntentID: intent.ID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &QueueError{Op: "DequeueNext", IntentID: intent.ID, Err: err}
	}

	intent.State = StateInFlight
	intent.StartedAt = &started
	intent.AttemptCount++
	return intent, nil
}

// Complete removes an executed intent. It returns ErrLeaseLost when the
// intent was taken over by another process meanwhile; the intent then
// stays queued and runs again.
func (m *Manager) Complete(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM sync_intents
		WHERE id = ? AND state = 'in_flight' AND owner = ?
	`, id, m.owner)
	if err != nil {
		return &QueueError{Op: "Complete", IntentID: id, Err: err}
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_intents WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return &QueueError{Op: "Complete", IntentID: id, Err: err}
	}
	if exists > 0 {
		return &QueueError{Op: "Complete", IntentID: id, Err: ErrLeaseLost}
	}
	return nil
}

// Fail records cause on an in-flight intent and returns it to pending so the
// next sync retries it.
func (m *Manager) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return m.release(ctx, "Fail", id, &msg)
}

// Release returns an in-flight intent to pending without recording an
// error, for attempts paused rather than failed.
func (m *Manager) Release(ctx context.Context, id string) error {
	return m.release(ctx, "Release", id, nil)
}

func (m *Manager) release(ctx context.Context, op, id string, lastErr *string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return &QueueError{Op: op, IntentID: id, Err: err}
	}
	defer tx.Rollback()

	if err := releaseTx(ctx, tx, id, m.owner, lastErr); err != nil {
		return &QueueError{Op: op, IntentID: id, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &QueueError{Op: op, IntentID: id, Err: err}
	}
	return nil
}

// releaseTx moves an in-flight intent back to pending. A non-empty owner
// must match the intent's owner. When a newer pending intent of the same
// kind exists the two are merged: the pending row keeps its enqueue time and
// inherits the attempt count and error.
func releaseTx(ctx context.Context, tx *sql.Tx, id, owner string, lastErr *string) error {
	var kind string
	var attempts int
	var prevErr, heldBy sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT kind, attempt_count, last_error, owner
		FROM sync_intents
		WHERE id = ? AND state = 'in_flight'
	`, id).Scan(&kind, &attempts, &prevErr, &heldBy)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("intent is not in flight")
	}
	if err != nil {
		return err
	}
	if owner != "" && heldBy.String != owner {
		return ErrLeaseLost
	}

	errText := prevErr
	if lastErr != nil {
		errText = nullString(*lastErr)
	}

	var pendingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM sync_intents WHERE kind = ? AND state = 'pending'
	`, kind).Scan(&pendingID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_intents
			SET state = 'pending', started_at = NULL, last_error = ?,
				owner = NULL, owner_pid = NULL, lease_until = NULL
			WHERE id = ?
		`, errText, id)
		return err

	case err != nil:
		return err

	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_intents
			SET attempt_count = MAX(attempt_count, ?), last_error = COALESCE(?, last_error)
			WHERE id = ?
		`, attempts, errText, pendingID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_intents WHERE id = ?`, id)
		return err
	}
}

// Recover returns abandoned in-flight intents to pending so they are
// retried, not dropped. An intent is abandoned when its lease has run out or
// the process that dequeued it no longer exists. Intents held by a live
// process are left alone.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &QueueError{Op: "Recover", Err: err}
	}
	defer tx.Rollback()

	n, err := m.recoverTx(ctx, tx)
	if err != nil {
		return 0, &QueueError{Op: "Recover", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &QueueError{Op: "Recover", Err: err}
	}
	return n, nil
}

func (m *Manager) recoverTx(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, owner_pid, lease_until
		FROM sync_intents
		WHERE state = 'in_flight'
		ORDER BY started_at ASC
	`)
	if err != nil {
		return 0, err
	}

	now := m.now().UnixMilli()
	var abandoned []string
	for rows.Next() {
		var id string
		var pid, leaseUntil sql.NullInt64
		if err := rows.Scan(&id, &pid, &leaseUntil); err != nil {
			rows.Close()
			return 0, err
		}
		switch {
		case !leaseUntil.Valid || leaseUntil.Int64 <= now:
			abandoned = append(abandoned, id)
		case pid.Valid && int(pid.Int64) != m.pid && !m.alive(int(pid.Int64)):
			abandoned = append(abandoned, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	msg := "interrupted before completion"
	for _, id := range abandoned {
		if err := releaseTx(ctx, tx, id, "", &msg); err != nil {
			return 0, fmt.Errorf("intent %s: %w", id, err)
		}
	}
	return len(abandoned), nil
}

// Coalesce folds duplicate pending intents of the same kind into the most
// recently enqueued one and returns how many rows were removed. Enqueue and
// Recover keep the queue coalesced already; this repairs queues written
// without the pending-kind index.
func (m *Manager) Coalesce(ctx context.Context) (int, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &QueueError{Op: "Coalesce", Err: err}
	}
	defer tx.Rollback()

	removed := 0
	for _, kind := range []Kind{KindPull, KindPush} {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, attempt_count, last_error
			FROM sync_intents
			WHERE kind = ? AND state = 'pending'
			ORDER BY enqueued_at DESC, id DESC
		`, kind)
		if err != nil {
			return 0, &QueueError{Op: "Coalesce", Err: err}
		}

		var keep string
		var drop []string
		maxAttempts := 0
		var lastErr sql.NullString
		for rows.Next() {
			var id string
			var attempts int
			var errText sql.NullString
			if err := rows.Scan(&id, &attempts, &errText); err != nil {
				rows.Close()
				return 0, &QueueError{Op: "Coalesce", Err: err}
			}
			if keep == "" {
				keep = id
			} else {
				drop = append(drop, id)
			}
			if attempts > maxAttempts {
				maxAttempts = attempts
			}
			if !lastErr.Valid && errText.Valid {
				lastErr = errText
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, &QueueError{Op: "Coalesce", Err: err}
		}

		if len(drop) == 0 {
			continue
		}
		for _, id := range drop {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sync_intents WHERE id = ?`, id); err != nil {
				return 0, &QueueError{Op: "Coalesce", IntentID: id, Err: err}
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_intents SET attempt_count = ?, last_error = COALESCE(last_error, ?) WHERE id = ?
		`, maxAttempts, lastErr, keep)
		if err != nil {
			return 0, &QueueError{Op: "Coalesce", IntentID: keep, Err: err}
		}
		removed += len(drop)
	}

	if err := tx.Commit(); err != nil {
		return 0, &QueueError{Op: "Coalesce", Err: err}
	}
	return removed, nil
}

// Discard drops every queued intent except those another live process is
// executing, and returns how many were removed
func (m *Manager) Discard(ctx context.Context) (int, error) {
	if _, err := m.Recover(ctx); err != nil {
		return 0, err
	}
	res, err := m.db.ExecContext(ctx, `
		DELETE FROM sync_intents
		WHERE state = 'pending' OR owner = ?
	`, m.owner)
	if err != nil {
		return 0, &QueueError{Op: "Discard", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Pending lists all queued intents in execution order, in-flight included
func (m *Manager) Pending(ctx context.Context) ([]Intent, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+intentColumns+` FROM sync_intents ORDER BY `+intentOrder)
	if err != nil {
		return nil, &QueueError{Op: "Pending", Err: err}
	}
	defer rows.Close()

	var intents []Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, &QueueError{Op: "Pending", Err: err}
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueueError{Op: "Pending", Err: err}
	}
	return intents, nil
}

// Len returns the number of queued intents
func (m *Manager) Len(ctx context.Context) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_intents`).Scan(&n); err != nil {
		return 0, &QueueError{Op: "Len", Err: err}
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*Intent, error) {
	var intent Intent
	var kind, state string
	var trigger, lastErr sql.NullString
	var enqueuedAt int64
	var startedAt sql.NullInt64

	err := row.Scan(
		&intent.ID,
		&kind,
		&state,
		&trigger,
		&enqueuedAt,
		&startedAt,
		&intent.AttemptCount,
		&lastErr,
	)
	if err != nil {
		return nil, err
	}

	intent.Kind = Kind(kind)
	intent.State = State(state)
	intent.EnqueuedAt = time.UnixMilli(enqueuedAt)
	if trigger.Valid {
		intent.Trigger = trigger.String
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		intent.StartedAt = &t
	}
	if lastErr.Valid {
		intent.LastError = lastErr.String
	}
	return &intent, nil
}

// nullString converts string to sql.NullString
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
