package snapshot

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrInvalidText is returned by Seal and Encode for a string field that is
// not valid UTF-8. JSON cannot carry such a string unchanged, so the
// checksum would not survive a round trip.
var ErrInvalidText = errors.New("text is not valid UTF-8")

// SchemaVersion is the snapshot format version written by this build.
// Decode accepts versions 1..SchemaVersion.
const SchemaVersion = 1

// Timestamp is a point in time as milliseconds since the Unix epoch (UTC).
// Snapshots never carry zone or locale information.
type Timestamp int64

// FromTime converts t to a Timestamp, truncating to milliseconds
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Now returns the current time as a Timestamp
func Now() Timestamp {
	return FromTime(time.Now())
}

// Time converts the timestamp back to a UTC time.Time
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// Ptr returns a pointer to ts, for optional fields
func (ts Timestamp) Ptr() *Timestamp {
	return &ts
}

// Header describes a snapshot without its body. Remote stores expose it as
// the snapshot's metadata.
type Header struct {
	ProducedBy     string    `json:"producedBy"`
	ProducedByName string    `json:"producedByName,omitempty"`
	ProducedAt     Timestamp `json:"producedAt"`
	RecordCount    int       `json:"recordCount"`
	SchemaVersion  int       `json:"schemaVersion"`
	Checksum       string    `json:"checksum"`
}

// Template is a reusable habit definition
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	CreatedAt   Timestamp `json:"createdAt"`
	ModifiedAt  Timestamp `json:"modifiedAt"`
}

// Instance is a running commitment to a template
type Instance struct {
	ID              string     `json:"id"`
	TemplateID      string     `json:"templateId"`
	StartedAt       Timestamp  `json:"startedAt"`
	EndedAt         *Timestamp `json:"endedAt"`
	TargetPerPeriod int        `json:"targetPerPeriod"`
	Period          string     `json:"period"`
	ModifiedAt      Timestamp  `json:"modifiedAt"`
}

// Blueprint is a recurring task belonging to an instance
type Blueprint struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Title      string    `json:"title"`
	Schedule   string    `json:"schedule"`
	SortOrder  int       `json:"sortOrder"`
	ModifiedAt Timestamp `json:"modifiedAt"`
}

// Occurrence is one dated materialization of a blueprint
type Occurrence struct {
	ID          string     `json:"id"`
	BlueprintID string     `json:"blueprintId"`
	DueAt       Timestamp  `json:"dueAt"`
	CompletedAt *Timestamp `json:"completedAt"`
	Note        string     `json:"note"`
	ModifiedAt  Timestamp  `json:"modifiedAt"`
}

// Setting is a single key/value preference
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Snapshot is a full point-in-time export of the local dataset.
// Field order is the wire order.
type Snapshot struct {
	Header      Header       `json:"header"`
	Templates   []Template   `json:"templates"`
	Instances   []Instance   `json:"instances"`
	Blueprints  []Blueprint  `json:"blueprints"`
	Occurrences []Occurrence `json:"occurrences"`
	Settings    []Setting    `json:"settings"`
}

// Count returns the number of entity records in the body
func (s *Snapshot) Count() int {
	return len(s.Templates) + len(s.Instances) + len(s.Blueprints) + len(s.Occurrences) + len(s.Settings)
}

// Seal fills the derived header fields (record count, schema version and
// checksum) so the snapshot is valid for Encode.
func (s *Snapshot) Seal() error {
	if err := s.validText(); err != nil {
		return err
	}
	sum, err := checksum(s)
	if err != nil {
		return err
	}
	s.Header.RecordCount = s.Count()
	s.Header.SchemaVersion = SchemaVersion
	s.Header.Checksum = sum
	return nil
}

// ProducedAtTime returns the header's production time
func (h *Header) ProducedAtTime() time.Time {
	return h.ProducedAt.Time()
}

// validText checks every string in the snapshot
func (s *Snapshot) validText() error {
	check := func(kind, id string, fields ...string) error {
		for _, f := range fields {
			if !utf8.ValidString(f) {
				return fmt.Errorf("%s %q: %w", kind, id, ErrInvalidText)
			}
		}
		return nil
	}

	if err := check("header", "", s.Header.ProducedBy, s.Header.ProducedByName); err != nil {
		return err
	}
	for _, t := range s.Templates {
		if err := check("template", t.ID, t.ID, t.Name, t.Description, t.Color); err != nil {
			return err
		}
	}
	for _, i := range s.Instances {
		if err := check("instance", i.ID, i.ID, i.TemplateID, i.Period); err != nil {
			return err
		}
	}
	for _, b := range s.Blueprints {
		if err := check("blueprint", b.ID, b.ID, b.InstanceID, b.Title, b.Schedule); err != nil {
			return err
		}
	}
	for _, o := range s.Occurrences {
		if err := check("occurrence", o.ID, o.ID, o.BlueprintID, o.Note); err != nil {
			return err
		}
	}
	for _, st := range s.Settings {
		if err := check("setting", st.Key, st.Key, st.Value); err != nil {
			return err
		}
	}
	return nil
}
