package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"habitsync/internal/config"
	"habitsync/internal/device"
	"habitsync/internal/remote"
	"habitsync/internal/snapshot"
	"habitsync/internal/sync"
)

// setupConfig writes a config with a folder remote and points --config at it
func setupConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cloud := filepath.Join(dir, "cloud")

	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(dir, "habits.db")
	cfg.Sync.Enabled = true
	cfg.Sync.AutoSync = false
	cfg.Remote = &remote.Config{Type: "folder", Name: "shared", Path: cloud, FileID: "habits.json"}

	path := filepath.Join(dir, "config.yaml")
	if err := config.Save(&cfg, path); err != nil {
		t.Fatal(err)
	}
	t.Setenv(device.SimulatedEnvVar, "false")
	return path, cloud
}

func runCmd(t *testing.T, configFile string, args ...string) error {
	t.Helper()
	configPath = ""
	verbose = false
	root := newRootCmd()
	root.SetArgs(append([]string{"--config", configFile}, args...))
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"sync", "status"},
		{"sync", "queue", "clear"},
		{"sync", "history"},
		{"sync", "watch"},
		{"device"},
		{"credentials", "set"},
		{"habit", "add"},
		{"habit", "log"},
		{"snapshot", "import"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}

	bg, _, err := root.Find([]string{sync.BackgroundCommand})
	if err != nil || !bg.Hidden {
		t.Error("background sync command must exist and be hidden")
	}
}

func TestHabitAndSyncFlow(t *testing.T) {
	cfgPath, cloud := setupConfig(t)

	if err := runCmd(t, cfgPath, "habit", "add", "Read", "--target", "3", "--period", "weekly"); err != nil {
		t.Fatalf("habit add failed: %v", err)
	}
	if err := runCmd(t, cfgPath, "habit", "add", "read"); err == nil {
		t.Error("duplicate habit name accepted")
	}
	if err := runCmd(t, cfgPath, "habit", "log", "read", "--note", "chapter 2"); err != nil {
		t.Fatalf("habit log failed: %v", err)
	}
	if err := runCmd(t, cfgPath, "habit", "log", "Run"); err == nil {
		t.Error("logging an unknown habit should fail")
	}

	if err := runCmd(t, cfgPath, "sync", "--no-input"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cloud, "habits.json"))
	if err != nil {
		t.Fatalf("snapshot not uploaded: %v", err)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("uploaded snapshot invalid: %v", err)
	}
	if snap.Header.RecordCount != 4 {
		t.Errorf("uploaded %d records, want 4", snap.Header.RecordCount)
	}
}

func TestSyncResolvesConflictFromFlag(t *testing.T) {
	cfgPath, cloud := setupConfig(t)

	// Another device's snapshot is already in the cloud
	other := snapshot.Snapshot{
		Header:   snapshot.Header{ProducedBy: "other-device", ProducedByName: "phone", ProducedAt: snapshot.Now()},
		Settings: []snapshot.Setting{{Key: "theme", Value: "dark"}},
	}
	if err := other.Seal(); err != nil {
		t.Fatal(err)
	}
	body, err := snapshot.Encode(other)
	if err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(cloud, 0755)
	if err := os.WriteFile(filepath.Join(cloud, "habits.json"), body, 0644); err != nil {
		t.Fatal(err)
	}

	if err := runCmd(t, cfgPath, "habit", "add", "Stretch"); err != nil {
		t.Fatal(err)
	}

	// Without a decision the cloud copy is left alone
	if err := runCmd(t, cfgPath, "sync", "--no-input"); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(cloud, "habits.json"))
	if !bytes.Equal(after, body) {
		t.Fatal("cloud copy changed without a decision")
	}

	if err := runCmd(t, cfgPath, "sync", "--resolve", "this-device"); err != nil {
		t.Fatalf("sync --resolve failed: %v", err)
	}
	after, _ = os.ReadFile(filepath.Join(cloud, "habits.json"))
	snap, err := snapshot.Decode(after)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Header.ProducedBy == "other-device" || snap.Header.RecordCount != 3 {
		t.Errorf("cloud not overwritten by this device: %+v", snap.Header)
	}
}

func TestSyncRejectsBadResolution(t *testing.T) {
	cfgPath, _ := setupConfig(t)
	err := runCmd(t, cfgPath, "sync", "--resolve", "maybe")
	if err == nil || !strings.Contains(err.Error(), "maybe") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestSnapshotExportImport(t *testing.T) {
	cfgPath, _ := setupConfig(t)
	if err := runCmd(t, cfgPath, "habit", "add", "Read"); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "export.json")
	if err := runCmd(t, cfgPath, "snapshot", "export", out); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := snapshot.Decode(data); err != nil {
		t.Fatalf("exported snapshot invalid: %v", err)
	}

	damaged := filepath.Join(t.TempDir(), "damaged.json")
	os.WriteFile(damaged, bytes.Replace(data, []byte(`"Read"`), []byte(`"Rest"`), 1), 0644)
	if err := runCmd(t, cfgPath, "snapshot", "import", "--force", damaged); err == nil {
		t.Error("damaged snapshot was imported")
	}

	if err := runCmd(t, cfgPath, "snapshot", "import", "--force", out); err != nil {
		t.Fatalf("import failed: %v", err)
	}
}
