package db

import "context"

// KVRepository defines the key-value persistence operations.
// This interface allows mocking for testing.
type KVRepository interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put upserts the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Keys lists keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Ensure *Repository implements the interface at compile time.
var _ KVRepository = (*Repository)(nil)
