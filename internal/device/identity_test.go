package device

import (
	"context"
	"path/filepath"
	"testing"

	"habitsync/internal/database"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envWith(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestIdentityIsStableAcrossProviders(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := NewProvider(db, WithName("phone")).Identity(ctx)
	if first.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if first.Ephemeral {
		t.Error("persisted identity should not be ephemeral")
	}

	// A new provider simulates a process restart
	second := NewProvider(db, WithName("phone v2")).Identity(ctx)
	if second.ID != first.ID {
		t.Errorf("ID changed across restarts: %s -> %s", first.ID, second.ID)
	}
	if second.Name != "phone v2" {
		t.Errorf("display name not refreshed: %q", second.Name)
	}

	var stored string
	if err := db.QueryRow("SELECT name FROM device_identity WHERE slot = 1").Scan(&stored); err != nil {
		t.Fatalf("read stored name: %v", err)
	}
	if stored != "phone v2" {
		t.Errorf("stored name = %q, want %q", stored, "phone v2")
	}
}

func TestIdentityIsIdempotent(t *testing.T) {
	p := NewProvider(openTestDB(t))
	ctx := context.Background()

	a := p.Identity(ctx)
	b := p.Identity(ctx)
	if a != b {
		t.Errorf("repeated Identity calls differ: %+v vs %+v", a, b)
	}
	if a.Name != DefaultName() {
		t.Errorf("Name = %q, want default %q", a.Name, DefaultName())
	}
}

func TestIdentityFallsBackWithoutStorage(t *testing.T) {
	p := NewProvider(nil)
	ctx := context.Background()

	rec := p.Identity(ctx)
	if !rec.Ephemeral {
		t.Error("expected an ephemeral identity without storage")
	}
	if rec.ID == "" {
		t.Error("ephemeral identity still needs an ID")
	}
	if again := p.Identity(ctx); again.ID != rec.ID {
		t.Error("ephemeral identity must be stable within a process")
	}
}

func TestIdentityFallsBackOnClosedDatabase(t *testing.T) {
	db := openTestDB(t)
	db.Close()

	rec := NewProvider(db).Identity(context.Background())
	if !rec.Ephemeral {
		t.Error("expected an ephemeral identity when the database is closed")
	}
}

func TestIsSimulatedEnvironment(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		configured bool
		byDefault  bool
		want       bool
	}{
		{"real device", nil, false, false, false},
		{"env true", map[string]string{SimulatedEnvVar: "1"}, false, false, true},
		{"env false", map[string]string{SimulatedEnvVar: "false"}, false, false, false},
		{"env garbage", map[string]string{SimulatedEnvVar: "maybe"}, false, false, true},
		{"env empty is unset", map[string]string{SimulatedEnvVar: ""}, false, false, false},
		{"config wins over env", map[string]string{SimulatedEnvVar: "0"}, true, false, true},
		{"simulated by default", nil, false, true, true},
		{"default overridden by env", map[string]string{SimulatedEnvVar: "0"}, false, true, false},
		{"env true over real default", map[string]string{SimulatedEnvVar: "true"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(nil, WithEnvLookup(envWith(tt.env)), WithSimulated(tt.configured), WithSimulatedByDefault(tt.byDefault))

			if got := p.IsSimulatedEnvironment(); got != tt.want {
				t.Errorf("IsSimulatedEnvironment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentityCarriesSimulatedFlag(t *testing.T) {
	p := NewProvider(openTestDB(t), WithEnvLookup(envWith(map[string]string{SimulatedEnvVar: "true"})))
	if rec := p.Identity(context.Background()); !rec.Simulated {
		t.Error("record should be flagged simulated")
	}
}
