package queue

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the direction of a sync intent
type Kind string

const (
	KindPull Kind = "pull"
	KindPush Kind = "push"
)

// State of an intent row
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
)

// Intent is a queued request to pull or push the snapshot
type Intent struct {
	ID           string     `json:"id" yaml:"id"`
	Kind         Kind       `json:"kind" yaml:"kind"`
	State        State      `json:"state" yaml:"state"`
	Trigger      string     `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at" yaml:"enqueued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	AttemptCount int        `json:"attempt_count" yaml:"attempt_count"`
	LastError    string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

var (
	// ErrBusy is returned by DequeueNext while another intent is in flight
	ErrBusy = errors.New("another sync intent is in flight")
	// ErrLeaseLost is returned when an in-flight intent was taken over by
	// another process before its owner finished it
	ErrLeaseLost = errors.New("sync intent was taken over by another process")
)

// QueueError represents a failed queue operation
type QueueError struct {
	Op       string // Operation that failed
	IntentID string // Optional: intent involved
	Err      error  // Underlying error
}

func (e *QueueError) Error() string {
	if e.IntentID != "" {
		return fmt.Sprintf("sync queue %s failed for intent %s: %v", e.Op, e.IntentID, e.Err)
	}
	return fmt.Sprintf("sync queue %s failed: %v", e.Op, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// ValidKind reports whether k is a known kind
func ValidKind(k Kind) bool {
	return k == KindPull || k == KindPush
}
