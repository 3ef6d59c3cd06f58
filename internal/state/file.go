package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
)

const (
	lockStaleAge     = 10 * time.Minute
	lockPollInterval = 250 * time.Millisecond
)

// FileStore persists state to a local JSON file, optionally encrypted at
// rest. Every Put/Remove is written through atomically (temp file + rename)
// so an interrupted run leaves state reflecting exactly the completed
// actions.
type FileStore struct {
	path string

	// heartbeat is how often a held lock's mtime is refreshed so a long
	// apply is never mistaken for a stale holder.
	heartbeat time.Duration
	lockDone  chan struct{}

	mu      sync.RWMutex
	entries map[string]*ir.StateEntry
	serial  int
	lineage string
	loaded  bool
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:      path,
		heartbeat: lockStaleAge / 4,
		entries:   make(map[string]*ir.StateEntry),
	}
}

func (s *FileStore) Get(addr string) (*ir.StateEntry, bool) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		entry, ok := s.entries[addr]
		if !ok {
			return nil, false
		}
		return entry.Clone(), true
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, false
	}
	entry, ok := s.entries[addr]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

func (s *FileStore) Put(entry *ir.StateEntry) error {
	if entry == nil || entry.Address == "" {
		return fmt.Errorf("state entry must carry an address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	s.entries[entry.Address] = entry.Clone()
	return s.persist()
}

func (s *FileStore) Remove(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	delete(s.entries, addr)
	return s.persist()
}

func (s *FileStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return Snapshot{}
	}
	snap := make(Snapshot, len(s.entries))
	for addr, entry := range s.entries {
		snap[addr] = entry.Clone()
	}
	return snap
}

// Lock creates the advisory lock file, waiting out a live competing holder
// until the timeout. A lock file older than lockStaleAge whose recorded
// holder process is gone is reclaimed; while the lock is held, a heartbeat
// keeps its mtime fresh so a long apply is never reclaimed out from under a
// live run.
func (s *FileStore) Lock(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockPath := s.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		if info, err := os.Stat(lockPath); err == nil && time.Since(info.ModTime()) > lockStaleAge && !lockHolderAlive(lockPath) {
			os.Remove(lockPath)
		}

		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			s.lockDone = make(chan struct{})
			go s.refreshLock(lockPath, s.lockDone)
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("state is locked by another run (lock file: %s): %w", lockPath, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock acquisition cancelled: %w", ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// Unlock stops the heartbeat and removes the lock file, refusing to release
// a lock recorded against a different process.
func (s *FileStore) Unlock() error {
	if s.lockDone != nil {
		close(s.lockDone)
		s.lockDone = nil
	}
	lockPath := s.lockPath()
	if pid, ok := lockFilePid(lockPath); ok && pid != os.Getpid() {
		return fmt.Errorf("state lock is held by process %d, not this run", pid)
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// refreshLock touches the lock file until the lock is released.
func (s *FileStore) refreshLock(lockPath string, done chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			now := time.Now()
			os.Chtimes(lockPath, now, now)
		}
	}
}

// lockFilePid reads the holder pid recorded in a lock file.
func lockFilePid(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "pid=%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

// lockHolderAlive reports whether the process recorded in the lock file
// still exists. An unreadable or malformed lock counts as dead.
func lockHolderAlive(lockPath string) bool {
	pid, ok := lockFilePid(lockPath)
	if !ok {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (s *FileStore) lockPath() string {
	return s.path + ".lock"
}

// load reads the state file once; a missing file is an empty state.
// Callers hold the write lock.
func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.entries = make(map[string]*ir.StateEntry)
		s.lineage = newLineage()
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	raw, err = DecryptState(raw)
	if err != nil {
		return err
	}
	entries, serial, lineage, err := parseEntries(raw)
	if err != nil {
		return err
	}
	s.entries = entries
	s.serial = serial
	if lineage == "" {
		lineage = newLineage()
	}
	s.lineage = lineage
	s.loaded = true
	return nil
}

// persist writes the full document through to disk. Callers hold the write
// lock.
func (s *FileStore) persist() error {
	s.serial++
	content, err := serializeEntries(s.entries, s.serial, s.lineage)
	if err != nil {
		return err
	}
	content, err = EncryptState(content)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
