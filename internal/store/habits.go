package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"habitsync/internal/snapshot"
	"habitsync/internal/utils"

	"github.com/google/uuid"
)

// NewHabit describes a habit created from the CLI: a template, an instance
// tracking it and one blueprint task
type NewHabit struct {
	Name        string
	Description string
	Color       string
	Target      int
	Period      string
	StartedAt   time.Time
}

// Habit is a template together with its active instance and progress
type Habit struct {
	Template      snapshot.Template
	Instance      *snapshot.Instance
	BlueprintID   string
	Completions   int
	LastCompleted *time.Time
}

// ErrNoActiveInstance is returned when logging against a habit that has ended
var ErrNoActiveInstance = errors.New("habit has no active instance")

// AddHabit creates a template, an instance and a default blueprint in one
// transaction
func (s *Store) AddHabit(ctx context.Context, h NewHabit) (*Habit, error) {
	if strings.TrimSpace(h.Name) == "" {
		return nil, &StoreError{Op: "AddHabit", Err: fmt.Errorf("habit name is required")}
	}
	if h.Target == 0 {
		h.Target = 1
	}
	if h.Period == "" {
		h.Period = "daily"
	}
	if err := utils.ValidateTarget(h.Target); err != nil {
		return nil, &StoreError{Op: "AddHabit", Err: err}
	}
	if err := utils.ValidatePeriod(h.Period); err != nil {
		return nil, &StoreError{Op: "AddHabit", Err: err}
	}
	if err := validText(h.Name, h.Description, h.Color); err != nil {
		return nil, &StoreError{Op: "AddHabit", Err: err}
	}

	now := snapshot.FromTime(s.now())
	started := now
	if !h.StartedAt.IsZero() {
		started = snapshot.FromTime(h.StartedAt)
	}

	tmpl := snapshot.Template{
		ID:          uuid.NewString(),
		Name:        h.Name,
		Description: h.Description,
		Color:       h.Color,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	inst := snapshot.Instance{
		ID:              uuid.NewString(),
		TemplateID:      tmpl.ID,
		StartedAt:       started,
		TargetPerPeriod: h.Target,
		Period:          strings.ToLower(h.Period),
		ModifiedAt:      now,
	}
	bp := snapshot.Blueprint{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		Title:      h.Name,
		Schedule:   inst.Period,
		ModifiedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StoreError{Op: "AddHabit", Err: err}
	}
	defer tx.Rollback()

	if err := insertTemplate(ctx, tx, tmpl); err != nil {
		return nil, &StoreError{Op: "AddHabit", ID: tmpl.ID, Err: err}
	}
	if err := insertInstance(ctx, tx, inst); err != nil {
		return nil, &StoreError{Op: "AddHabit", ID: inst.ID, Err: err}
	}
	if err := insertBlueprint(ctx, tx, bp); err != nil {
		return nil, &StoreError{Op: "AddHabit", ID: bp.ID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StoreError{Op: "AddHabit", Err: err}
	}

	return &Habit{Template: tmpl, Instance: &inst, BlueprintID: bp.ID}, nil
}

// ListHabits returns every template with its latest instance and completion
// stats, sorted by name
func (s *Store) ListHabits(ctx context.Context) ([]Habit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			t.id, t.name, t.description, t.color, t.created_at, t.modified_at,
			i.id, i.started_at, i.ended_at, i.target_per_period, i.period, i.modified_at,
			(SELECT b.id FROM task_blueprints b WHERE b.instance_id = i.id ORDER BY b.sort_order, b.id LIMIT 1),
			(SELECT COUNT(*) FROM task_occurrences o JOIN task_blueprints b ON o.blueprint_id = b.id
				WHERE b.instance_id = i.id AND o.completed_at IS NOT NULL),
			(SELECT MAX(o.completed_at) FROM task_occurrences o JOIN task_blueprints b ON o.blueprint_id = b.id
				WHERE b.instance_id = i.id)
		FROM habit_templates t
		LEFT JOIN habit_instances i ON i.id = (
			SELECT id FROM habit_instances WHERE template_id = t.id ORDER BY started_at DESC, id DESC LIMIT 1
		)
		ORDER BY t.name COLLATE NOCASE ASC, t.id ASC
	`)
	if err != nil {
		return nil, &StoreError{Op: "ListHabits", Err: err}
	}
	defer rows.Close()

	var habits []Habit
	for rows.Next() {
		var h Habit
		var description, color, instID, period, blueprintID sql.NullString
		var startedAt, endedAt, target, instModified, lastCompleted sql.NullInt64

		err := rows.Scan(
			&h.Template.ID, &h.Template.Name, &description, &color, &h.Template.CreatedAt, &h.Template.ModifiedAt,
			&instID, &startedAt, &endedAt, &target, &period, &instModified,
			&blueprintID, &h.Completions, &lastCompleted,
		)
		if err != nil {
			return nil, &StoreError{Op: "ListHabits", Err: err}
		}

		h.Template.Description = description.String
		h.Template.Color = color.String
		h.BlueprintID = blueprintID.String
		if instID.Valid {
			h.Instance = &snapshot.Instance{
				ID:              instID.String,
				TemplateID:      h.Template.ID,
				StartedAt:       snapshot.Timestamp(startedAt.Int64),
				EndedAt:         nullTimestamp(endedAt),
				TargetPerPeriod: int(target.Int64),
				Period:          period.String,
				ModifiedAt:      snapshot.Timestamp(instModified.Int64),
			}
		}
		if lastCompleted.Valid {
			t := snapshot.Timestamp(lastCompleted.Int64).Time()
			h.LastCompleted = &t
		}

		habits = append(habits, h)
	}

	return habits, rows.Err()
}

// FindHabit looks a habit up by case-insensitive name. It returns nil when
// there is no match.
func (s *Store) FindHabit(ctx context.Context, name string) (*Habit, error) {
	habits, err := s.ListHabits(ctx)
	if err != nil {
		return nil, err
	}
	for i := range habits {
		if strings.EqualFold(habits[i].Template.Name, name) {
			return &habits[i], nil
		}
	}
	return nil, nil
}

// LogCompletion records a completed occurrence of the habit's blueprint due
// on the given day
func (s *Store) LogCompletion(ctx context.Context, h *Habit, due time.Time, note string) (*snapshot.Occurrence, error) {
	if h.Instance == nil || h.Instance.EndedAt != nil || h.BlueprintID == "" {
		return nil, &StoreError{Op: "LogCompletion", ID: h.Template.ID, Err: ErrNoActiveInstance}
	}

	if err := validText(note); err != nil {
		return nil, &StoreError{Op: "LogCompletion", ID: h.Template.ID, Err: err}
	}

	now := snapshot.FromTime(s.now())
	occ := snapshot.Occurrence{
		ID:          uuid.NewString(),
		BlueprintID: h.BlueprintID,
		DueAt:       snapshot.FromTime(due),
		CompletedAt: now.Ptr(),
		Note:        note,
		ModifiedAt:  now,
	}

	if err := insertOccurrence(ctx, s.db, occ); err != nil {
		return nil, &StoreError{Op: "LogCompletion", ID: h.Template.ID, Err: err}
	}
	return &occ, nil
}

// EndHabit closes the habit's active instance
func (s *Store) EndHabit(ctx context.Context, h *Habit) error {
	if h.Instance == nil || h.Instance.EndedAt != nil {
		return &StoreError{Op: "EndHabit", ID: h.Template.ID, Err: ErrNoActiveInstance}
	}
	now := snapshot.FromTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		UPDATE habit_instances SET ended_at = ?, modified_at = ? WHERE id = ?
	`, int64(now), int64(now), h.Instance.ID)
	if err != nil {
		return &StoreError{Op: "EndHabit", ID: h.Template.ID, Err: err}
	}
	return nil
}

// SetSetting stores a key/value preference
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return &StoreError{Op: "SetSetting", Err: fmt.Errorf("setting key is required")}
	}
	if err := validText(key, value); err != nil {
		return &StoreError{Op: "SetSetting", ID: key, Err: err}
	}
	if err := upsertSetting(ctx, s.db, snapshot.Setting{Key: key, Value: value}); err != nil {
		return &StoreError{Op: "SetSetting", ID: key, Err: err}
	}
	return nil
}

// GetSetting returns a setting and whether it exists
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StoreError{Op: "GetSetting", ID: key, Err: err}
	}
	return value, true, nil
}

// validText rejects text a snapshot could not carry
func validText(fields ...string) error {
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return fmt.Errorf("%q: %w", f, snapshot.ErrInvalidText)
		}
	}
	return nil
}
