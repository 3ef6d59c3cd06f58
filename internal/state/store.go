// Package state persists the last-observed mapping from resource address to
// provider attributes. Stores are injected dependencies, never globals: tests
// instantiate an independent store per case. A run takes the exclusive
// advisory lock for its whole duration; only the executor mutates entries,
// and the differ reads a snapshot taken once.
package state

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
)

// ErrLockTimeout is returned when the advisory lock cannot be acquired
// before the configured deadline. Safe to retry later.
var ErrLockTimeout = errors.New("state lock acquisition timed out")

// DefaultLockTimeout bounds lock acquisition when the caller passes zero.
const DefaultLockTimeout = 30 * time.Second

// Snapshot is an immutable copy of the store contents, keyed by address.
type Snapshot map[string]*ir.StateEntry

// Addresses returns the snapshot's addresses in stable sorted order.
func (s Snapshot) Addresses() []string {
	addrs := make([]string, 0, len(s))
	for addr := range s {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Store is the engine's only shared mutable resource.
type Store interface {
	// Get returns a copy of one entry. Never blocks other readers.
	Get(addr string) (*ir.StateEntry, bool)

	// Put makes an entry fully visible to subsequent readers or not at all.
	Put(entry *ir.StateEntry) error

	// Remove deletes an entry after a successful destroy.
	Remove(addr string) error

	// Snapshot returns an immutable copy, stable under concurrent writes.
	Snapshot() Snapshot

	// Lock acquires the exclusive advisory run lock, failing with
	// ErrLockTimeout once the timeout elapses.
	Lock(ctx context.Context, timeout time.Duration) error

	// Unlock releases the run lock.
	Unlock() error
}
