package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

const checksumPrefix = "sha256:"

// payload is the part of a snapshot covered by the checksum
type payload struct {
	Templates   []Template   `json:"templates"`
	Instances   []Instance   `json:"instances"`
	Blueprints  []Blueprint  `json:"blueprints"`
	Occurrences []Occurrence `json:"occurrences"`
	Settings    []Setting    `json:"settings"`
}

func checksum(s *Snapshot) (string, error) {
	data, err := json.Marshal(payload{
		Templates:   s.Templates,
		Instances:   s.Instances,
		Blueprints:  s.Blueprints,
		Occurrences: s.Occurrences,
		Settings:    s.Settings,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:]), nil
}

// Encode renders a sealed snapshot as canonical JSON. The output is
// byte-identical for equal snapshots. Encode refuses snapshots whose header
// does not describe the body; call Seal first.
func Encode(s Snapshot) ([]byte, error) {
	if s.Header.ProducedBy == "" {
		return nil, fmt.Errorf("snapshot has no producer")
	}
	if s.Header.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d, this build writes %d", s.Header.SchemaVersion, SchemaVersion)
	}
	if n := s.Count(); s.Header.RecordCount != n {
		return nil, fmt.Errorf("snapshot header counts %d records, body has %d", s.Header.RecordCount, n)
	}
	if err := s.validText(); err != nil {
		return nil, err
	}
	sum, err := checksum(&s)
	if err != nil {
		return nil, err
	}
	if s.Header.Checksum != sum {
		return nil, fmt.Errorf("snapshot checksum is stale (not sealed)")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses and verifies a snapshot. On any error the returned snapshot
// is the zero value.
func Decode(data []byte) (Snapshot, error) {
	if _, err := DecodeMetadata(data); err != nil {
		return Snapshot{}, err
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, &DecodeError{Kind: Malformed, Err: err}
	}

	if n := s.Count(); s.Header.RecordCount != n {
		return Snapshot{}, decodeErr(CountMismatch, "header counts %d records, body has %d", s.Header.RecordCount, n)
	}

	sum, err := checksum(&s)
	if err != nil {
		return Snapshot{}, &DecodeError{Kind: Malformed, Err: err}
	}
	if s.Header.Checksum != sum {
		return Snapshot{}, decodeErr(ChecksumMismatch, "header checksum %q, body hashes to %q", s.Header.Checksum, sum)
	}

	return s, nil
}

// DecodeMetadata extracts and validates only the header of an encoded
// snapshot (or of a metadata sidecar, which has the same shape without a
// body). The body is not parsed.
func DecodeMetadata(data []byte) (*Header, error) {
	if !gjson.ValidBytes(data) {
		return nil, decodeErr(Malformed, "invalid JSON")
	}

	raw := gjson.GetBytes(data, "header")
	if !raw.Exists() || !raw.IsObject() {
		return nil, decodeErr(Malformed, "missing header object")
	}

	var h Header
	if err := json.Unmarshal([]byte(raw.Raw), &h); err != nil {
		return nil, &DecodeError{Kind: Malformed, Err: err}
	}

	if h.SchemaVersion < 1 || h.SchemaVersion > SchemaVersion {
		return nil, decodeErr(UnsupportedSchema, "schema version %d (supported: 1-%d)", h.SchemaVersion, SchemaVersion)
	}
	if h.ProducedBy == "" {
		return nil, decodeErr(Malformed, "header has no producer")
	}
	if h.RecordCount < 0 {
		return nil, decodeErr(Malformed, "negative record count %d", h.RecordCount)
	}

	return &h, nil
}

// EncodeMetadata renders a header in the sidecar form accepted by
// DecodeMetadata
func EncodeMetadata(h Header) ([]byte, error) {
	data, err := json.MarshalIndent(struct {
		Header Header `json:"header"`
	}{h}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot header: %w", err)
	}
	return append(data, '\n'), nil
}
