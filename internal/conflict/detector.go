package conflict

import (
	"fmt"
	"time"

	"habitsync/internal/snapshot"
)

// Verdict is the outcome of comparing local identity with remote metadata
type Verdict int

const (
	// None: no remote snapshot, or this device wrote it
	None Verdict = iota
	// DifferentDeviceNoData: another device wrote an empty snapshot
	DifferentDeviceNoData
	// Divergent: another device wrote at least one record; a human decides
	Divergent
)

func (v Verdict) String() string {
	switch v {
	case None:
		return "none"
	case DifferentDeviceNoData:
		return "different_device_no_data"
	case Divergent:
		return "divergent"
	default:
		return "unknown"
	}
}

// Evaluate decides whether writing over the remote snapshot needs human
// arbitration. Any snapshot from another device holding data is divergent,
// whatever its content or record count.
func Evaluate(localDeviceID string, remote *snapshot.Header) Verdict {
	if remote == nil || remote.ProducedBy == localDeviceID {
		return None
	}
	if remote.RecordCount == 0 {
		return DifferentDeviceNoData
	}
	return Divergent
}

// Severity grades how alarming a conflict prompt should be. It never changes
// whether a conflict exists.
type Severity int

const (
	Low Severity = iota
	Elevated
	High
)

func (s Severity) String() string {
	switch s {
	case Low:
		return "low"
	case Elevated:
		return "elevated"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name
func (s Severity) MarshalText() ([]byte, error) {
	switch s {
	case Low, Elevated, High:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("invalid severity %d", int(s))
}

// UnmarshalText parses a severity name
func (s *Severity) UnmarshalText(text []byte) error {
	for _, v := range []Severity{Low, Elevated, High} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Assess compares local and remote record counts coarsely.
// High: one side is empty or the counts differ by half or more of the larger.
// Elevated: the counts differ. Low: equal counts.
func Assess(localCount, remoteCount int) Severity {
	if localCount == remoteCount {
		return Low
	}
	if localCount == 0 || remoteCount == 0 {
		return High
	}

	larger, diff := localCount, localCount-remoteCount
	if remoteCount > larger {
		larger = remoteCount
	}
	if diff < 0 {
		diff = -diff
	}
	if diff*2 >= larger {
		return High
	}
	return Elevated
}

// Record is the transient description of a divergence, handed to whoever
// resolves it
type Record struct {
	RemoteDeviceID    string    `json:"remote_device_id" yaml:"remote_device_id"`
	RemoteDeviceName  string    `json:"remote_device_name,omitempty" yaml:"remote_device_name,omitempty"`
	RemoteSyncedAt    time.Time `json:"remote_synced_at" yaml:"remote_synced_at"`
	LocalRecordCount  int       `json:"local_record_count" yaml:"local_record_count"`
	RemoteRecordCount int       `json:"remote_record_count" yaml:"remote_record_count"`
	Severity          Severity  `json:"severity" yaml:"severity"`
}

// NewRecord builds a conflict record from the remote header and local count
func NewRecord(remote *snapshot.Header, localCount int) Record {
	return Record{
		RemoteDeviceID:    remote.ProducedBy,
		RemoteDeviceName:  remote.ProducedByName,
		RemoteSyncedAt:    remote.ProducedAtTime(),
		LocalRecordCount:  localCount,
		RemoteRecordCount: remote.RecordCount,
		Severity:          Assess(localCount, remote.RecordCount),
	}
}

// RemoteLabel returns the best human description of the remote device
func (r Record) RemoteLabel() string {
	if r.RemoteDeviceName != "" {
		return r.RemoteDeviceName
	}
	return r.RemoteDeviceID
}
