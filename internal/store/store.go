package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"habitsync/internal/database"
	"habitsync/internal/snapshot"
)

// StoreError represents errors from local store operations
type StoreError struct {
	Op  string // Operation that failed
	ID  string // Optional: entity involved
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s failed for %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store is the local habit dataset in SQLite
type Store struct {
	db  *database.Database
	now func() time.Time
}

// New creates a store on an opened database
func New(db *database.Database) *Store {
	return &Store{db: db, now: time.Now}
}

// ExportSnapshot reads every domain entity in one transaction. Entities are
// ordered by ID and settings by key. The header is left for the caller to
// stamp and seal.
func (s *Store) ExportSnapshot(ctx context.Context) (snapshot.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.Snapshot{}, &StoreError{Op: "ExportSnapshot", Err: err}
	}
	defer tx.Rollback()

	var snap snapshot.Snapshot
	if snap.Templates, err = queryTemplates(ctx, tx); err != nil {
		return snapshot.Snapshot{}, &StoreError{Op: "ExportSnapshot", Err: err}
	}
	if snap.Instances, err = queryInstances(ctx, tx); err != nil {
		return snapshot.Snapshot{}, &StoreError{Op: "ExportSnapshot", Err: err}
	}
	if snap.Blueprints, err = queryBlueprints(ctx, tx); err != nil {
		return snapshot.Snapshot{}, &StoreError{Op: "ExportSnapshot", Err: err}
	}
	if snap.Occurrences, err = queryOccurrences(ctx, tx); err != nil {
		return snapshot.Snapshot{}, &StoreError{Op: "ExportSnapshot", Err: err}
	}
	if snap.Settings, err = querySettings(ctx, tx); err != nil {
		return snapshot.Snapshot{}, &StoreError{Op: "ExportSnapshot", Err: err}
	}

	return snap, tx.Commit()
}

// ImportSnapshot replaces the whole local dataset with the snapshot's
// entities. Readers see either the old dataset or the new one.
func (s *Store) ImportSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "ImportSnapshot", Err: err}
	}
	defer tx.Rollback()

	// Children first so foreign keys never dangle mid-transaction
	for _, table := range []string{"task_occurrences", "task_blueprints", "habit_instances", "habit_templates", "settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &StoreError{Op: "ImportSnapshot", Err: fmt.Errorf("clear %s: %w", table, err)}
		}
	}

	for _, t := range snap.Templates {
		if err := insertTemplate(ctx, tx, t); err != nil {
			return &StoreError{Op: "ImportSnapshot", ID: t.ID, Err: err}
		}
	}
	for _, in := range snap.Instances {
		if err := insertInstance(ctx, tx, in); err != nil {
			return &StoreError{Op: "ImportSnapshot", ID: in.ID, Err: err}
		}
	}
	for _, b := range snap.Blueprints {
		if err := insertBlueprint(ctx, tx, b); err != nil {
			return &StoreError{Op: "ImportSnapshot", ID: b.ID, Err: err}
		}
	}
	for _, o := range snap.Occurrences {
		if err := insertOccurrence(ctx, tx, o); err != nil {
			return &StoreError{Op: "ImportSnapshot", ID: o.ID, Err: err}
		}
	}
	for _, st := range snap.Settings {
		if err := upsertSetting(ctx, tx, st); err != nil {
			return &StoreError{Op: "ImportSnapshot", ID: st.Key, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "ImportSnapshot", Err: err}
	}
	return nil
}

// CurrentRecordCount returns the number of records a snapshot export would hold
func (s *Store) CurrentRecordCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM habit_templates) +
			(SELECT COUNT(*) FROM habit_instances) +
			(SELECT COUNT(*) FROM task_blueprints) +
			(SELECT COUNT(*) FROM task_occurrences) +
			(SELECT COUNT(*) FROM settings)
	`).Scan(&n)
	if err != nil {
		return 0, &StoreError{Op: "CurrentRecordCount", Err: err}
	}
	return n, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func queryTemplates(ctx context.Context, q querier) ([]snapshot.Template, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, description, color, created_at, modified_at
		FROM habit_templates
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []snapshot.Template
	for rows.Next() {
		var t snapshot.Template
		var description, color sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &description, &color, &t.CreatedAt, &t.ModifiedAt); err != nil {
			return nil, err
		}
		t.Description = description.String
		t.Color = color.String
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func queryInstances(ctx context.Context, q querier) ([]snapshot.Instance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, template_id, started_at, ended_at, target_per_period, period, modified_at
		FROM habit_instances
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []snapshot.Instance
	for rows.Next() {
		var in snapshot.Instance
		var endedAt sql.NullInt64
		if err := rows.Scan(&in.ID, &in.TemplateID, &in.StartedAt, &endedAt, &in.TargetPerPeriod, &in.Period, &in.ModifiedAt); err != nil {
			return nil, err
		}
		in.EndedAt = nullTimestamp(endedAt)
		instances = append(instances, in)
	}
	return instances, rows.Err()
}

func queryBlueprints(ctx context.Context, q querier) ([]snapshot.Blueprint, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, instance_id, title, schedule, sort_order, modified_at
		FROM task_blueprints
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blueprints []snapshot.Blueprint
	for rows.Next() {
		var b snapshot.Blueprint
		var schedule sql.NullString
		if err := rows.Scan(&b.ID, &b.InstanceID, &b.Title, &schedule, &b.SortOrder, &b.ModifiedAt); err != nil {
			return nil, err
		}
		b.Schedule = schedule.String
		blueprints = append(blueprints, b)
	}
	return blueprints, rows.Err()
}

func queryOccurrences(ctx context.Context, q querier) ([]snapshot.Occurrence, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, blueprint_id, due_at, completed_at, note, modified_at
		FROM task_occurrences
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occurrences []snapshot.Occurrence
	for rows.Next() {
		var o snapshot.Occurrence
		var completedAt sql.NullInt64
		var note sql.NullString
		if err := rows.Scan(&o.ID, &o.BlueprintID, &o.DueAt, &completedAt, &note, &o.ModifiedAt); err != nil {
			return nil, err
		}
		o.CompletedAt = nullTimestamp(completedAt)
		o.Note = note.String
		occurrences = append(occurrences, o)
	}
	return occurrences, rows.Err()
}

func querySettings(ctx context.Context, q querier) ([]snapshot.Setting, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []snapshot.Setting
	for rows.Next() {
		var st snapshot.Setting
		if err := rows.Scan(&st.Key, &st.Value); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// Empty strings are stored as-is rather than NULL: a snapshot round trip
// through the store must reproduce the exact values it was given.

func insertTemplate(ctx context.Context, e execer, t snapshot.Template) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO habit_templates (id, name, description, color, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.Description, t.Color, int64(t.CreatedAt), int64(t.ModifiedAt))
	return err
}

func insertInstance(ctx context.Context, e execer, in snapshot.Instance) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO habit_instances (id, template_id, started_at, ended_at, target_per_period, period, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, in.ID, in.TemplateID, int64(in.StartedAt), timestampToNullInt64(in.EndedAt), in.TargetPerPeriod, in.Period, int64(in.ModifiedAt))
	return err
}

func insertBlueprint(ctx context.Context, e execer, b snapshot.Blueprint) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO task_blueprints (id, instance_id, title, schedule, sort_order, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.InstanceID, b.Title, b.Schedule, b.SortOrder, int64(b.ModifiedAt))
	return err
}

func insertOccurrence(ctx context.Context, e execer, o snapshot.Occurrence) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO task_occurrences (id, blueprint_id, due_at, completed_at, note, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.BlueprintID, int64(o.DueAt), timestampToNullInt64(o.CompletedAt), o.Note, int64(o.ModifiedAt))
	return err
}

func upsertSetting(ctx context.Context, e execer, st snapshot.Setting) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, st.Key, st.Value)
	return err
}

// nullTimestamp converts sql.NullInt64 to an optional Timestamp
func nullTimestamp(v sql.NullInt64) *snapshot.Timestamp {
	if !v.Valid {
		return nil
	}
	ts := snapshot.Timestamp(v.Int64)
	return &ts
}

// timestampToNullInt64 converts an optional Timestamp to sql.NullInt64
func timestampToNullInt64(ts *snapshot.Timestamp) sql.NullInt64 {
	if ts == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: int64(*ts), Valid: true}
}
