package history

import (
	"context"
	"errors"
	"time"
)

// Outcome values.
const (
	OutcomeAccepted = "accepted"
	OutcomeFailed   = "failed"
)

// Source values identify which surface issued the write.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
	SourceCLI  = "cli"
)

// ErrInvalidEntry is returned when an entry lacks a required field.
var ErrInvalidEntry = errors.New("history: invalid entry")

// Entry records one parameter write attempted against a device.
type Entry struct {
	// ID is a UUID assigned on Record when empty.
	ID string `json:"id"`

	Address   string `json:"address"`
	Parameter string `json:"parameter"`

	// Requested is the value sent, in wire form.
	Requested string `json:"requested"`

	// Accepted is the value the device echoed. Empty on failure.
	Accepted string `json:"accepted,omitempty"`

	// Outcome is OutcomeAccepted or OutcomeFailed.
	Outcome string `json:"outcome"`

	// Error describes the failure. Empty on success.
	Error string `json:"error,omitempty"`

	// Source is SourceAPI, SourceMQTT or SourceCLI.
	Source string `json:"source"`

	// CreatedAt is set to the current UTC time on Record when zero.
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves parameter write history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one entry.
	Record(ctx context.Context, e Entry) error

	// List returns the newest entries for address, newest first.
	// limit <= 0 means the default (50); values above 200 are clamped.
	List(ctx context.Context, address string, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
