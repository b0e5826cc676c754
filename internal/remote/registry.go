package remote

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a remote store from its configuration
type Constructor func(cfg Config) (Store, error)

// Registry holds registered remote constructors by config type
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

var globalRegistry = &Registry{
	constructors: make(map[string]Constructor),
}

// RegisterType registers a remote constructor for a config type
func RegisterType(remoteType string, constructor Constructor) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.constructors[remoteType] = constructor
}

// GetTypeConstructor returns the constructor for a remote type
func GetTypeConstructor(remoteType string) (Constructor, error) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	constructor, ok := globalRegistry.constructors[remoteType]
	if !ok {
		return nil, fmt.Errorf("unsupported remote type: %s", remoteType)
	}
	return constructor, nil
}

// RegisteredTypes lists registered remote types in sorted order
func RegisteredTypes() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	types := make([]string, 0, len(globalRegistry.constructors))
	for t := range globalRegistry.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the remote store described by cfg
func New(cfg Config) (Store, error) {
	if err := ValidateFileID(cfg.FileID); err != nil {
		return nil, err
	}
	constructor, err := GetTypeConstructor(cfg.Type)
	if err != nil {
		return nil, err
	}
	return constructor(cfg)
}
