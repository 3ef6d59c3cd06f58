package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
)

// MemStore is an in-memory store for tests and embedding by the persistent
// stores. The lock is a single-slot semaphore so a competing run blocks
// until the holder releases or the timeout fires.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*ir.StateEntry
	sem     chan struct{}
}

func NewMemStore() *MemStore {
	s := &MemStore{
		entries: make(map[string]*ir.StateEntry),
		sem:     make(chan struct{}, 1),
	}
	return s
}

func (s *MemStore) Get(addr string) (*ir.StateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[addr]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

func (s *MemStore) Put(entry *ir.StateEntry) error {
	if entry == nil || entry.Address == "" {
		return fmt.Errorf("state entry must carry an address")
	}
	s.mu.Lock()
	s.entries[entry.Address] = entry.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Remove(addr string) error {
	s.mu.Lock()
	delete(s.entries, addr)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(s.entries))
	for addr, entry := range s.entries {
		snap[addr] = entry.Clone()
	}
	return snap
}

func (s *MemStore) Lock(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("state is locked by another run: %w", ErrLockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
	}
}

func (s *MemStore) Unlock() error {
	select {
	case <-s.sem:
		return nil
	default:
		return fmt.Errorf("store is not locked")
	}
}
