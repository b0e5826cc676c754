package snapshot

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleSnapshot(t *testing.T) Snapshot {
	t.Helper()

	done := Timestamp(1735776000123)
	s := Snapshot{
		Header: Header{
			ProducedBy:     "device-a",
			ProducedByName: "laptop (linux/amd64)",
			ProducedAt:     Timestamp(1735689600000),
		},
		Templates: []Template{
			{ID: "t1", Name: "Read", Description: "Read <20> pages & notes", Color: "#00ff00", CreatedAt: 1, ModifiedAt: 2},
		},
		Instances: []Instance{
			{ID: "i1", TemplateID: "t1", StartedAt: 1735689600000, TargetPerPeriod: 1, Period: "daily", ModifiedAt: 3},
			{ID: "i2", TemplateID: "t1", StartedAt: 1735689600000, EndedAt: done.Ptr(), TargetPerPeriod: 3, Period: "weekly", ModifiedAt: 4},
		},
		Blueprints: []Blueprint{
			{ID: "b1", InstanceID: "i1", Title: "Morning chapter", Schedule: "daily", SortOrder: 0, ModifiedAt: 5},
		},
		Occurrences: []Occurrence{
			{ID: "o1", BlueprintID: "b1", DueAt: 1735776000000, CompletedAt: done.Ptr(), Note: "ünïcode ✓", ModifiedAt: 6},
			{ID: "o2", BlueprintID: "b1", DueAt: 1735862400000, ModifiedAt: 7},
		},
		Settings: []Setting{
			{Key: "theme", Value: "dark"},
			{Key: "week_start", Value: "monday"},
		},
	}
	if err := s.Seal(); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	return s
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"full snapshot", func(*Snapshot) {}},
		{"empty snapshot with nil slices", func(s *Snapshot) {
			*s = Snapshot{Header: Header{ProducedBy: "device-a", ProducedAt: 42}}
		}},
		{"empty snapshot with empty slices", func(s *Snapshot) {
			*s = Snapshot{
				Header:      Header{ProducedBy: "device-a", ProducedAt: 42},
				Templates:   []Template{},
				Instances:   []Instance{},
				Blueprints:  []Blueprint{},
				Occurrences: []Occurrence{},
				Settings:    []Setting{},
			}
		}},
		{"replacement and control characters", func(s *Snapshot) {
			s.Templates[0].Name = "Read\ufffdpages"
			s.Occurrences[0].Note = "tab\tnul\x00bell\a <html>"
		}},
		{"negative and large timestamps", func(s *Snapshot) {
			s.Header.ProducedAt = Timestamp(-1)
			s.Occurrences[1].DueAt = Timestamp(1<<53 - 1)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSnapshot(t)
			tt.mutate(&s)
			if err := s.Seal(); err != nil {
				t.Fatalf("Seal failed: %v", err)
			}

			data, err := Encode(s)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if !reflect.DeepEqual(got, s) {
				t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, s)
			}
		})
	}
}

func TestEncodeIsByteStable(t *testing.T) {
	s := sampleSnapshot(t)

	first, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	second, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("encoding is not stable:\n%s\n---\n%s", first, second)
	}
}

func TestEncodeRejectsUnsealed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"no producer", func(s *Snapshot) { s.Header.ProducedBy = "" }},
		{"wrong count", func(s *Snapshot) { s.Header.RecordCount++ }},
		{"stale checksum", func(s *Snapshot) { s.Settings[0].Value = "light" }},
		{"wrong schema", func(s *Snapshot) { s.Header.SchemaVersion = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSnapshot(t)
			tt.mutate(&s)
			if _, err := Encode(s); err == nil {
				t.Error("expected Encode to fail")
			}
		})
	}
}

func TestInvalidUTF8IsRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"template name", func(s *Snapshot) { s.Templates[0].Name = "Read\xffpages" }},
		{"occurrence note", func(s *Snapshot) { s.Occurrences[0].Note = "\xc3" }},
		{"setting value", func(s *Snapshot) { s.Settings[1].Value = "mon\xfe" }},
		{"producer name", func(s *Snapshot) { s.Header.ProducedByName = "\x80laptop" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSnapshot(t)
			tt.mutate(&s)

			if err := s.Seal(); !errors.Is(err, ErrInvalidText) {
				t.Errorf("Seal: expected ErrInvalidText, got %v", err)
			}
			if _, err := Encode(s); !errors.Is(err, ErrInvalidText) {
				t.Errorf("Encode: expected ErrInvalidText, got %v", err)
			}
		})
	}
}

func TestSealCountsEveryRecord(t *testing.T) {
	s := sampleSnapshot(t)
	// 1 template + 2 instances + 1 blueprint + 2 occurrences + 2 settings
	if s.Header.RecordCount != 8 {
		t.Errorf("RecordCount = %d, want 8", s.Header.RecordCount)
	}
	if !strings.HasPrefix(s.Header.Checksum, "sha256:") {
		t.Errorf("unexpected checksum format %q", s.Header.Checksum)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(sampleSnapshot(t))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want DecodeErrorKind
	}{
		{"empty input", []byte(""), Malformed},
		{"not json", []byte("hello"), Malformed},
		{"truncated", valid[:len(valid)/2], Malformed},
		{"no header", []byte(`{"templates":[]}`), Malformed},
		{"null header", []byte(`{"header":null}`), Malformed},
		{"no producer", []byte(`{"header":{"schemaVersion":1,"recordCount":0}}`), Malformed},
		{"wrong field type", bytes.Replace(valid, []byte(`"sortOrder": 0`), []byte(`"sortOrder": "zero"`), 1), Malformed},
		{"future schema", bytes.Replace(valid, []byte(`"schemaVersion": 1`), []byte(`"schemaVersion": 2`), 1), UnsupportedSchema},
		{"zero schema", bytes.Replace(valid, []byte(`"schemaVersion": 1`), []byte(`"schemaVersion": 0`), 1), UnsupportedSchema},
		{"count mismatch", bytes.Replace(valid, []byte(`"recordCount": 8`), []byte(`"recordCount": 9`), 1), CountMismatch},
		{"tampered body", bytes.Replace(valid, []byte(`"dark"`), []byte(`"light"`), 1), ChecksumMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if !IsDecodeError(err) {
				t.Fatalf("expected *DecodeError, got %T: %v", err, err)
			}
			if KindOf(err) != tt.want {
				t.Errorf("kind = %s, want %s (%v)", KindOf(err), tt.want, err)
			}
			if !reflect.DeepEqual(got, Snapshot{}) {
				t.Error("failed decode must not return partial data")
			}
		})
	}
}

func TestDecodeMetadata(t *testing.T) {
	s := sampleSnapshot(t)

	body, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	sidecar, err := EncodeMetadata(s.Header)
	if err != nil {
		t.Fatalf("EncodeMetadata failed: %v", err)
	}

	for name, data := range map[string][]byte{"body": body, "sidecar": sidecar} {
		t.Run(name, func(t *testing.T) {
			h, err := DecodeMetadata(data)
			if err != nil {
				t.Fatalf("DecodeMetadata failed: %v", err)
			}
			if *h != s.Header {
				t.Errorf("header = %+v, want %+v", *h, s.Header)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	local := time.Date(2025, 1, 1, 5, 0, 0, 123456789, loc)

	ts := FromTime(local)
	if int64(ts) != 1735689600123 {
		t.Errorf("FromTime = %d, want 1735689600123", ts)
	}

	back := ts.Time()
	if back.Location() != time.UTC {
		t.Errorf("Time() should be UTC, got %v", back.Location())
	}
	if !back.Equal(local.Truncate(time.Millisecond)) {
		t.Errorf("Time() = %v, want %v", back, local.Truncate(time.Millisecond))
	}
}
