package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps sql.DB with helper methods for schema management
type Database struct {
	*sql.DB
	path string
}

// Open initializes the SQLite database with proper schema.
// An empty path resolves to the XDG-compliant default location.
func Open(customPath string) (*Database, error) {
	dbPath, err := DefaultPath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}

	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database := &Database{
		DB:   db,
		path: dbPath,
	}

	if err := database.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// dsn builds a modernc.org/sqlite connection string carrying the pragmas and
// an immediate transaction lock so concurrent writers queue on busy_timeout
// instead of failing on lock upgrade.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// DefaultPath returns the path to the SQLite database file
// Priority: customPath > $XDG_DATA_HOME/habitsync/habitsync.db > ~/.local/share/habitsync/habitsync.db
func DefaultPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}

	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "habitsync", "habitsync.db"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".local", "share", "habitsync", "habitsync.db"), nil
}

// initializeSchema creates all tables and indexes
func (db *Database) initializeSchema() error {
	for _, schema := range AllTableSchemas() {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := db.migrate(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	for _, index := range AllIndexes() {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.recordSchemaVersion(); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// migrate adds what older schema versions lack
func (db *Database) migrate() error {
	version, err := db.GetSchemaVersion()
	if err != nil {
		return err
	}
	if version == 0 || version >= SchemaVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		for _, c := range m.columns {
			if err := db.addColumn(c); err != nil {
				return fmt.Errorf("migration to version %d: %w", m.version, err)
			}
		}
	}
	return nil
}

// addColumn adds c unless the table already has it
func (db *Database) addColumn(c column) error {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", c.table, c.name).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.name, c.decl))
	return err
}

// recordSchemaVersion records the current schema version in the database
func (db *Database) recordSchemaVersion() error {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", SchemaVersion).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if count > 0 {
		return nil // Version already recorded
	}

	_, err = db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}

	return nil
}

// GetSchemaVersion returns the current schema version from the database,
// or 0 for a database that has none recorded yet
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// GetStats returns basic database statistics
func (db *Database) GetStats() (DatabaseStats, error) {
	stats := DatabaseStats{}

	counts := []struct {
		table string
		dest  *int
	}{
		{"habit_templates", &stats.Templates},
		{"habit_instances", &stats.Instances},
		{"task_blueprints", &stats.Blueprints},
		{"task_occurrences", &stats.Occurrences},
		{"settings", &stats.Settings},
		{"sync_intents", &stats.PendingIntents},
	}
	for _, c := range counts {
		if err := db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dest); err != nil {
			return stats, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	fileInfo, err := os.Stat(db.path)
	if err != nil {
		return stats, fmt.Errorf("failed to stat database file: %w", err)
	}
	stats.DatabaseSize = fileInfo.Size()

	return stats, nil
}

// DatabaseStats holds statistics about the database
type DatabaseStats struct {
	Templates      int
	Instances      int
	Blueprints     int
	Occurrences    int
	Settings       int
	PendingIntents int
	DatabaseSize   int64 // in bytes
}

// Records returns the number of domain records that a snapshot would carry
func (s DatabaseStats) Records() int {
	return s.Templates + s.Instances + s.Blueprints + s.Occurrences + s.Settings
}

// String returns a human-readable representation of database statistics
func (s DatabaseStats) String() string {
	sizeMB := float64(s.DatabaseSize) / (1024 * 1024)
	return fmt.Sprintf(
		"Records: %d | Habits: %d | Occurrences: %d | Pending intents: %d | Size: %.2f MB",
		s.Records(), s.Templates, s.Occurrences, s.PendingIntents, sizeMB,
	)
}
