package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"habitsync/internal/config"
	"habitsync/internal/device"
	"habitsync/internal/remote"
	"habitsync/internal/store"
	"habitsync/internal/sync"
	"habitsync/internal/utils"

	"github.com/zalando/go-keyring"
)

func testConfig(t *testing.T, withRemote bool) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.Path = filepath.Join(t.TempDir(), "habits.db")
	cfg.Sync.AutoSync = false
	if withRemote {
		cfg.Sync.Enabled = true
		cfg.Remote = &remote.Config{
			Type:   "folder",
			Name:   "shared",
			Path:   filepath.Join(t.TempDir(), "cloud"),
			FileID: "habits.json",
		}
	}
	return &cfg
}

func TestNewAppWithoutRemote(t *testing.T) {
	a, err := NewApp(context.Background(), testConfig(t, false))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer a.Shutdown()

	_, err = a.Engine()
	var suggestion *utils.ErrorWithSuggestion
	if !errors.As(err, &suggestion) {
		t.Errorf("expected a suggestion error, got %v", err)
	}
	if _, err := a.StartAutoSync(); err == nil {
		t.Error("StartAutoSync should fail without a remote")
	}

	// No remote: local writes never try to sync
	a.NotifyDataChanged()
}

func TestAppSyncsToFolder(t *testing.T) {
	t.Setenv(device.SimulatedEnvVar, "false")
	ctx := context.Background()

	a, err := NewApp(ctx, testConfig(t, true))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer a.Shutdown()

	if _, err := a.Store().AddHabit(ctx, store.NewHabit{Name: "Read", Target: 3, Period: "weekly"}); err != nil {
		t.Fatal(err)
	}

	engine, err := a.Engine()
	if err != nil {
		t.Fatal(err)
	}
	if err := sync.RunOnce(ctx, engine, sync.TriggerManual); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	report, err := a.StatusReport(ctx)
	if err != nil {
		t.Fatalf("StatusReport failed: %v", err)
	}
	if report.Status.State != sync.StateSuccess {
		t.Errorf("state = %s, want success", report.Status)
	}
	if report.Remote != "shared" {
		t.Errorf("remote = %q", report.Remote)
	}
	if report.LastSuccess == nil {
		t.Error("LastSuccess not recorded")
	}
	if report.Records != 3 || len(report.Pending) != 0 {
		t.Errorf("records = %d, pending = %d", report.Records, len(report.Pending))
	}
	if report.Device.ID == "" || report.DBSize == 0 {
		t.Errorf("incomplete report: %+v", report)
	}
}

func TestStatusReportSimulated(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Device.Simulated = true

	a, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	report, err := a.StatusReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Status.State != sync.StateSimulatorBlocked {
		t.Errorf("state = %s, want simulator_blocked", report.Status)
	}
}

func TestStartAutoSyncIsIdempotent(t *testing.T) {
	t.Setenv(device.SimulatedEnvVar, "false")
	cfg := testConfig(t, true)
	cfg.Sync.SyncOnStart = false
	cfg.Sync.Interval = 0

	a, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	first, err := a.StartAutoSync()
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.StartAutoSync()
	if err != nil || first != second {
		t.Error("StartAutoSync created a second coordinator")
	}
}

func TestNewRemoteCredentials(t *testing.T) {
	keyring.MockInit()

	cfg := remote.Config{
		Type:     "webdav",
		Name:     "nextcloud",
		URL:      "https://cloud.example.com/dav/habitsync/",
		Username: "alice",
		FileID:   "habits.json",
	}

	if _, err := NewRemote(cfg); err == nil {
		t.Fatal("expected missing credentials error")
	}

	t.Setenv("HABITSYNC_NEXTCLOUD_PASSWORD", "secret")
	rs, err := NewRemote(cfg)
	if err != nil {
		t.Fatalf("NewRemote failed: %v", err)
	}
	if rs.DisplayName() != "nextcloud" {
		t.Errorf("DisplayName = %q", rs.DisplayName())
	}
}

func TestNewRemoteUnknownType(t *testing.T) {
	if _, err := NewRemote(remote.Config{Type: "ftp", FileID: "habits.json"}); err == nil {
		t.Error("expected unknown type error")
	}
}
