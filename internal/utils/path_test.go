package utils

import (
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("HABITSYNC_DRIVE", "/mnt/drive")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"home", "~", home},
		{"database under home", "~/.local/share/habitsync/habits.db", filepath.Join(home, ".local/share/habitsync/habits.db")},
		{"folder remote from env", "$HABITSYNC_DRIVE/habitsync", "/mnt/drive/habitsync"},
		{"braced env", "${HABITSYNC_DRIVE}/habits.json", "/mnt/drive/habits.json"},
		{"other user left alone", "~alice/habits.db", "~alice/habits.db"},
		{"tilde inside path", "/srv/~/habits.db", "/srv/~/habits.db"},
		{"relative", "habits.db", "habits.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPath(tt.in)
			if err != nil {
				t.Fatalf("ExpandPath(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	base := filepath.Join(t.TempDir(), "config", "habitsync")

	tests := []struct {
		name string
		path string
		base string
		want string
	}{
		{"relative database next to config", "habits.db", base, filepath.Join(base, "habits.db")},
		{"relative subdir", "data/habits.db", base, filepath.Join(base, "data", "habits.db")},
		{"absolute kept", "/var/lib/habitsync/habits.db", base, "/var/lib/habitsync/habits.db"},
		{"home kept", "~/habits.db", base, filepath.Join(home, "habits.db")},
		{"no base", "habits.db", "", "habits.db"},
		{"empty path", "", base, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.path, tt.base)
			if err != nil {
				t.Fatalf("ResolvePath: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q, %q) = %q, want %q", tt.path, tt.base, got, tt.want)
			}
		})
	}
}
