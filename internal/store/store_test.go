package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"habitsync/internal/database"
	"habitsync/internal/snapshot"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func seedHabits(t *testing.T, s *Store, names ...string) []*Habit {
	t.Helper()
	ctx := context.Background()
	var habits []*Habit
	for _, name := range names {
		h, err := s.AddHabit(ctx, NewHabit{Name: name, Target: 1, Period: "daily"})
		if err != nil {
			t.Fatalf("AddHabit(%s) failed: %v", name, err)
		}
		habits = append(habits, h)
	}
	return habits
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	habits := seedHabits(t, src, "Read", "Run")
	if _, err := src.LogCompletion(ctx, habits[0], time.Now(), "chapter 3"); err != nil {
		t.Fatal(err)
	}
	if err := src.EndHabit(ctx, habits[1]); err != nil {
		t.Fatal(err)
	}
	if err := src.SetSetting(ctx, "theme", "dark"); err != nil {
		t.Fatal(err)
	}

	exported, err := src.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot failed: %v", err)
	}
	exported.Header.ProducedBy = "device-a"
	if err := exported.Seal(); err != nil {
		t.Fatal(err)
	}

	data, err := snapshot.Encode(exported)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	dst := newTestStore(t)
	if err := dst.ImportSnapshot(ctx, decoded); err != nil {
		t.Fatalf("ImportSnapshot failed: %v", err)
	}

	reexported, err := dst.ExportSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	reexported.Header = exported.Header
	if !reflect.DeepEqual(reexported, exported) {
		t.Errorf("store round trip mismatch\n got: %+v\nwant: %+v", reexported, exported)
	}

	count, err := dst.CurrentRecordCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 2 templates, 2 instances, 2 blueprints, 1 occurrence, 1 setting
	if count != 8 || count != exported.Header.RecordCount {
		t.Errorf("CurrentRecordCount = %d, header says %d, want 8", count, exported.Header.RecordCount)
	}
}

func TestImportReplacesLocalOnlyRecords(t *testing.T) {
	ctx := context.Background()

	remote := newTestStore(t)
	seedHabits(t, remote, "Meditate")
	remoteSnap, err := remote.ExportSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	local := newTestStore(t)
	seedHabits(t, local, "Local only A", "Local only B")
	if err := local.SetSetting(ctx, "local", "yes"); err != nil {
		t.Fatal(err)
	}

	if err := local.ImportSnapshot(ctx, remoteSnap); err != nil {
		t.Fatalf("ImportSnapshot failed: %v", err)
	}

	after, err := local.ExportSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after, remoteSnap) {
		t.Errorf("local store does not match imported snapshot\n got: %+v\nwant: %+v", after, remoteSnap)
	}
	if _, ok, _ := local.GetSetting(ctx, "local"); ok {
		t.Error("local-only setting survived a replace-all import")
	}
}

func TestImportIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedHabits(t, s, "Keep me")

	before, err := s.ExportSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	bad := snapshot.Snapshot{
		Templates: []snapshot.Template{{ID: "t1", Name: "New"}},
		// References a template that does not exist
		Instances: []snapshot.Instance{{ID: "i1", TemplateID: "missing", Period: "daily"}},
	}
	err = s.ImportSnapshot(ctx, bad)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}

	after, err := s.ExportSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after, before) {
		t.Error("failed import left a partial dataset behind")
	}
}

func TestExportEmptyStore(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.ExportSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ExportSnapshot failed: %v", err)
	}
	if snap.Count() != 0 {
		t.Errorf("expected no records, got %d", snap.Count())
	}
}

func TestExportOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, kv := range [][2]string{{"zeta", "1"}, {"alpha", "2"}, {"mid", "3"}} {
		if err := s.SetSetting(ctx, kv[0], kv[1]); err != nil {
			t.Fatal(err)
		}
	}
	seedHabits(t, s, "b", "a", "c")

	snap, err := s.ExportSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(snap.Settings); i++ {
		if snap.Settings[i-1].Key > snap.Settings[i].Key {
			t.Errorf("settings not sorted by key: %v", snap.Settings)
		}
	}
	for i := 1; i < len(snap.Templates); i++ {
		if snap.Templates[i-1].ID > snap.Templates[i].ID {
			t.Errorf("templates not sorted by ID")
		}
	}
}
