package session

import (
	"context"
	"time"
)

// Store is the ephemeral key-value store that holds all cross-invocation
// lesson state: history, session record, activity timestamp, the processing
// lock and dedup markers.
type Store interface {
	// Get returns the value stored at key.
	// found is false when the key does not exist or has expired (not an error).
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value at key. A ttl of zero means the key does not expire.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value at key only if the key does not exist.
	// Returns true when the value was written.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeleteIfValue removes key only while it still holds value.
	// Returns true when the key was removed.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)

	// Keys lists the keys that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close closes the store and releases any resources.
	Close() error
}
