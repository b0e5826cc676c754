package remote

import (
	"context"
	"sync"

	"habitsync/internal/snapshot"
)

func init() {
	RegisterType("memory", func(cfg Config) (Store, error) {
		return NewMemory(cfg.DisplayName()), nil
	})
}

// Memory is an in-process remote store. It backs the "memory" remote type
// used for dry runs and lets tests inject transport failures.
type Memory struct {
	name string

	mu     sync.Mutex
	files  map[string][]byte
	errs   map[string]error
	calls  map[string]int
	writes int
}

// NewMemory creates an empty in-memory remote
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{
		name:  name,
		files: make(map[string][]byte),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

// DisplayName identifies the remote in messages
func (m *Memory) DisplayName() string {
	return m.name
}

// GetMetadata decodes the header of the stored body
func (m *Memory) GetMetadata(ctx context.Context, fileID string) (*snapshot.Header, error) {
	body, err := m.fetch("GetMetadata", fileID)
	if err != nil {
		return nil, err
	}
	return snapshot.DecodeMetadata(body)
}

// GetBody returns a copy of the stored body
func (m *Memory) GetBody(ctx context.Context, fileID string) ([]byte, error) {
	return m.fetch("GetBody", fileID)
}

// PutBody replaces the stored body
func (m *Memory) PutBody(ctx context.Context, fileID string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls["PutBody"]++
	if err := m.errs["PutBody"]; err != nil {
		return err
	}
	if _, err := HeaderFromBody(body); err != nil {
		return NewTransportError("PutBody", KindProtocol, err.Error()).WithError(err)
	}
	m.files[fileID] = append([]byte(nil), body...)
	m.writes++
	return nil
}

func (m *Memory) fetch(op, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[op]++
	if err := m.errs[op]; err != nil {
		return nil, err
	}
	body, ok := m.files[fileID]
	if !ok {
		return nil, NotFound(op, fileID)
	}
	return append([]byte(nil), body...), nil
}

// Seed stores body without validation, as another writer would
func (m *Memory) Seed(fileID string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = append([]byte(nil), body...)
}

// Contents returns the stored body and whether it exists
func (m *Memory) Contents(fileID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.files[fileID]
	return append([]byte(nil), body...), ok
}

// FailWith makes every call of op ("GetMetadata", "GetBody", "PutBody")
// return err until cleared with a nil err
func (m *Memory) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// Calls returns how many times op was invoked
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of remote operations attempted
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// Writes returns how many bodies were successfully stored
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
