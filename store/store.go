package store

import "context"

// Store is the key value layer plans, run contexts, trace records and
// inter-task values are persisted into.
type Store interface {
	/**
	 * Get returns nil value and nil error when prefix + key does not exist
	 */
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
