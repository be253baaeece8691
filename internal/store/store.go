// Package store defines the ephemeral keyed session store consumed by the
// proctor tracker. The store itself has no expiry semantics; TTL behavior
// is layered on top by the reaper.
package store

import "context"

// Store is a flat keyed string store with prefix enumeration. All
// implementations must make per-key operations independent so contention
// is only ever on a single session's record.
type Store interface {
	// Get returns the value and true, or ("", false, nil) when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	// KeysWithPrefix enumerates live keys under a prefix. The reaper
	// relies on this being reasonably bounded in cost.
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}
