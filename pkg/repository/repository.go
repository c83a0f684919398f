package repository

import "context"

// KeyValue is a durable string store scoped to one user. Set replaces the
// whole value in one step so readers see either the old or the new value.
type KeyValue interface {
	// Get returns the value for key; ok is false when the key is absent
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
