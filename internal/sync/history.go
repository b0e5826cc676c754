package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"habitsync/internal/database"
)

// Outcome of a finished sync run
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeConflict  Outcome = "conflict"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeBlocked   Outcome = "blocked"
)

// historyLimit is how many entries Record keeps
const historyLimit = 200

// HistoryEntry is one row of sync_history
type HistoryEntry struct {
	ID         int64     `json:"id" yaml:"id"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Trigger    string    `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Outcome    Outcome   `json:"outcome" yaml:"outcome"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
}

// History persists the outcomes of sync runs
type History struct {
	db  *database.Database
	now func() time.Time
}

// NewHistory creates a history on db
func NewHistory(db *database.Database) *History {
	return &History{db: db, now: time.Now}
}

// Record appends an entry and drops the oldest beyond the retention limit
func (h *History) Record(ctx context.Context, trigger string, outcome Outcome, message string) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO sync_history (finished_at, trigger, outcome, message)
		VALUES (?, ?, ?, ?)
	`, h.now().UnixMilli(), trigger, string(outcome), message)
	if err != nil {
		return fmt.Errorf("failed to record sync history: %w", err)
	}

	_, err = h.db.ExecContext(ctx, `
		DELETE FROM sync_history
		WHERE id NOT IN (SELECT id FROM sync_history ORDER BY finished_at DESC, id DESC LIMIT ?)
	`, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to prune sync history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (h *History) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, finished_at, trigger, outcome, message
		FROM sync_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// LastSuccess returns the most recent successful run, or nil
func (h *History) LastSuccess(ctx context.Context) (*HistoryEntry, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, finished_at, trigger, outcome, message
		FROM sync_history
		WHERE outcome = ?
		ORDER BY finished_at DESC, id DESC
		LIMIT 1
	`, string(OutcomeSuccess))

	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

type historyScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row historyScanner) (*HistoryEntry, error) {
	var e HistoryEntry
	var finishedAt int64
	var trigger, message sql.NullString
	var outcome string

	if err := row.Scan(&e.ID, &finishedAt, &trigger, &outcome, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync history: %w", err)
	}

	e.FinishedAt = time.UnixMilli(finishedAt)
	e.Trigger = trigger.String
	e.Outcome = Outcome(outcome)
	e.Message = message.String
	return &e, nil
}
