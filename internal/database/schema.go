package database

// Schema version for migration management
const SchemaVersion = 2

// SQL statements for database schema creation

// TemplatesTableSQL creates the habit templates table
const TemplatesTableSQL = `
CREATE TABLE IF NOT EXISTS habit_templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    color TEXT,
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL
);
`

// InstancesTableSQL creates the habit instances table. An instance is a
// running commitment to a template (e.g. "Read 20 pages" started on a date).
const InstancesTableSQL = `
CREATE TABLE IF NOT EXISTS habit_instances (
    id TEXT PRIMARY KEY,
    template_id TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    target_per_period INTEGER DEFAULT 1,
    period TEXT NOT NULL DEFAULT 'daily',
    modified_at INTEGER NOT NULL,

    FOREIGN KEY(template_id) REFERENCES habit_templates(id) ON DELETE CASCADE
);
`

// BlueprintsTableSQL creates the task blueprints table
const BlueprintsTableSQL = `
CREATE TABLE IF NOT EXISTS task_blueprints (
    id TEXT PRIMARY KEY,
    instance_id TEXT NOT NULL,
    title TEXT NOT NULL,
    schedule TEXT,
    sort_order INTEGER DEFAULT 0,
    modified_at INTEGER NOT NULL,

    FOREIGN KEY(instance_id) REFERENCES habit_instances(id) ON DELETE CASCADE
);
`

// OccurrencesTableSQL creates the task occurrences table
const OccurrencesTableSQL = `
CREATE TABLE IF NOT EXISTS task_occurrences (
    id TEXT PRIMARY KEY,
    blueprint_id TEXT NOT NULL,
    due_at INTEGER NOT NULL,
    completed_at INTEGER,
    note TEXT,
    modified_at INTEGER NOT NULL,

    FOREIGN KEY(blueprint_id) REFERENCES task_blueprints(id) ON DELETE CASCADE
);
`

// SettingsTableSQL creates the key/value settings table
const SettingsTableSQL = `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// DeviceIdentityTableSQL holds the single row describing this installation
const DeviceIdentityTableSQL = `
CREATE TABLE IF NOT EXISTS device_identity (
    slot INTEGER PRIMARY KEY CHECK(slot = 1),
    device_id TEXT NOT NULL,
    name TEXT NOT NULL,
    simulated INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// SyncIntentsTableSQL creates the durable sync intent queue
const SyncIntentsTableSQL = `
CREATE TABLE IF NOT EXISTS sync_intents (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK(kind IN ('pull', 'push')),
    state TEXT NOT NULL DEFAULT 'pending' CHECK(state IN ('pending', 'in_flight')),
    trigger TEXT,
    enqueued_at INTEGER NOT NULL,
    started_at INTEGER,
    attempt_count INTEGER DEFAULT 0,
    last_error TEXT,
    owner TEXT,
    owner_pid INTEGER,
    lease_until INTEGER
);
`

// SyncHistoryTableSQL records terminal outcomes of sync runs
const SyncHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    finished_at INTEGER NOT NULL,
    trigger TEXT,
    outcome TEXT NOT NULL,
    message TEXT
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// Index creation statements

// DomainIndexesSQL creates indexes on the habit tables for common queries
const DomainIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_instances_template_id ON habit_instances(template_id);
CREATE INDEX IF NOT EXISTS idx_blueprints_instance_id ON task_blueprints(instance_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_blueprint_id ON task_occurrences(blueprint_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_due_at ON task_occurrences(due_at);
`

// SyncIntentsIndexesSQL enforces at most one pending intent per kind
const SyncIntentsIndexesSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_intents_pending_kind ON sync_intents(kind) WHERE state = 'pending';
CREATE INDEX IF NOT EXISTS idx_sync_intents_enqueued_at ON sync_intents(enqueued_at);
`

// SyncHistoryIndexesSQL creates indexes on sync_history
const SyncHistoryIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sync_history_finished_at ON sync_history(finished_at);
`

// migration brings a database recorded at an older version up to date
type migration struct {
	version int
	columns []column
}

type column struct {
	table, name, decl string
}

// migrations are applied in order to databases older than their version.
// Fresh databases already get the full layout from the CREATE statements.
var migrations = []migration{
	{
		version: 2,
		columns: []column{
			{"sync_intents", "owner", "TEXT"},
			{"sync_intents", "owner_pid", "INTEGER"},
			{"sync_intents", "lease_until", "INTEGER"},
		},
	},
}

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		TemplatesTableSQL,
		InstancesTableSQL,
		BlueprintsTableSQL,
		OccurrencesTableSQL,
		SettingsTableSQL,
		DeviceIdentityTableSQL,
		SyncIntentsTableSQL,
		SyncHistoryTableSQL,
	}
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		DomainIndexesSQL,
		SyncIntentsIndexesSQL,
		SyncHistoryIndexesSQL,
	}
}

// pragmas are applied to every pooled connection through the DSN so that
// foreign keys and the busy timeout hold regardless of which connection
// database/sql hands out.
var pragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",   // Write-Ahead Logging for better concurrency
	"synchronous(NORMAL)", // Balance between safety and performance
	"busy_timeout(5000)",
}
