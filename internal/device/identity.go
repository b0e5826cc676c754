package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"habitsync/internal/database"
	"habitsync/internal/utils"

	"github.com/google/uuid"
)

// SimulatedEnvVar marks the process as a simulated environment when truthy.
// An explicit false value overrides WithSimulatedByDefault.
const SimulatedEnvVar = "HABITSYNC_SIMULATED"

// Record identifies this installation to other devices
type Record struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Simulated bool      `json:"simulated" yaml:"simulated"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Ephemeral bool      `json:"ephemeral,omitempty" yaml:"ephemeral,omitempty"`
}

// Provider loads, creates and caches the device record
type Provider struct {
	db              *database.Database
	name            string
	configSimulated bool
	lookupEnv       func(string) (string, bool)
	unsetSimulated  bool

	mu     sync.Mutex
	record *Record
}

// Option configures a Provider
type Option func(*Provider)

// WithName overrides the generated display name
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithSimulated forces the simulated flag (from configuration)
func WithSimulated(simulated bool) Option {
	return func(p *Provider) { p.configSimulated = simulated }
}

// WithEnvLookup replaces os.LookupEnv
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(p *Provider) { p.lookupEnv = lookup }
}

// WithSimulatedByDefault sets the answer used when SimulatedEnvVar is unset.
// Harnesses that embed the provider use it to stay off real remotes.
func WithSimulatedByDefault(simulated bool) Option {
	return func(p *Provider) { p.unsetSimulated = simulated }
}

// NewProvider creates a provider persisting to db. A nil db yields an
// ephemeral identity.
func NewProvider(db *database.Database, opts ...Option) *Provider {
	p := &Provider{
		db:        db,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultName builds a display name from the hostname and platform
func DefaultName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s (%s/%s)", host, runtime.GOOS, runtime.GOARCH)
}

// IsSimulatedEnvironment reports whether sync must be refused on this
// process. It performs no I/O.
func (p *Provider) IsSimulatedEnvironment() bool {
	if p.configSimulated {
		return true
	}
	if v, ok := p.lookupEnv(SimulatedEnvVar); ok && v != "" {
		simulated, err := strconv.ParseBool(v)
		if err != nil {
			// Unparseable values err on the side of not syncing
			return true
		}
		return simulated
	}
	return p.unsetSimulated
}

// Identity returns the device record, creating and persisting it on first
// use. The display name is refreshed once per process. If the database is
// unusable an in-memory record is returned and a warning logged.
func (p *Provider) Identity(ctx context.Context) Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.record != nil {
		return *p.record
	}

	name := p.name
	if name == "" {
		name = DefaultName()
	}
	simulated := p.IsSimulatedEnvironment()

	rec, err := p.loadOrCreate(ctx, name, simulated)
	if err != nil {
		utils.Warnf("Device identity not persisted, using a temporary one: %v", err)
		rec = &Record{
			ID:        uuid.NewString(),
			Name:      name,
			Simulated: simulated,
			CreatedAt: time.Now(),
			Ephemeral: true,
		}
	}

	p.record = rec
	return *rec
}

func (p *Provider) loadOrCreate(ctx context.Context, name string, simulated bool) (*Record, error) {
	if p.db == nil {
		return nil, errors.New("no database")
	}

	now := time.Now()
	rec := &Record{Name: name, Simulated: simulated}

	var createdAt int64
	err := p.db.QueryRowContext(ctx, `
		SELECT device_id, created_at
		FROM device_identity
		WHERE slot = 1
	`).Scan(&rec.ID, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		_, err = p.db.ExecContext(ctx, `
			INSERT INTO device_identity (slot, device_id, name, simulated, created_at, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)
		`, rec.ID, name, simulated, now.Unix(), now.Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to store device identity: %w", err)
		}
		utils.Debugf("Created device identity %s (%s)", rec.ID, name)

	case err != nil:
		return nil, fmt.Errorf("failed to read device identity: %w", err)

	default:
		rec.CreatedAt = time.Unix(createdAt, 0)
		_, err = p.db.ExecContext(ctx, `
			UPDATE device_identity
			SET name = ?, simulated = ?, updated_at = ?
			WHERE slot = 1
		`, name, simulated, now.Unix())
		if err != nil {
			return nil, fmt.Errorf("failed to refresh device name: %w", err)
		}
	}

	return rec, nil
}
