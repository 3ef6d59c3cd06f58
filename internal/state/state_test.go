package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/stackform-io/stackform/internal/ir"
)

func testEntry(addr, id string) *ir.StateEntry {
	name, index := ir.SplitIndex(addr)
	return &ir.StateEntry{
		Address:    addr,
		Type:       "test_net",
		Name:       name,
		Index:      index,
		Provider:   "test",
		ProviderID: id,
		Attributes: map[string]cty.Value{
			"cidr":  cty.StringVal("10.0.0.0/16"),
			"ports": cty.ListVal([]cty.Value{cty.NumberIntVal(80), cty.NumberIntVal(443)}),
		},
		Dependencies: []string{"test_vpc.vpc"},
		LastSuccess:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemStoreCRUD(t *testing.T) {
	s := NewMemStore()

	// 1. Get on an empty store misses.
	_, ok := s.Get("test_net.net")
	assert.False(t, ok)

	// 2. Put then Get round-trips the entry.
	require.NoError(t, s.Put(testEntry("test_net.net", "net-1")))
	got, ok := s.Get("test_net.net")
	require.True(t, ok)
	assert.Equal(t, "net-1", got.ProviderID)
	assert.True(t, got.Attributes["cidr"].RawEquals(cty.StringVal("10.0.0.0/16")))

	// 3. Entries without an address are rejected.
	require.Error(t, s.Put(&ir.StateEntry{}))

	// 4. Remove deletes.
	require.NoError(t, s.Remove("test_net.net"))
	_, ok = s.Get("test_net.net")
	assert.False(t, ok)
}

func TestMemStoreSnapshotIsImmutable(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Put(testEntry("test_net.net", "net-1")))

	snap := s.Snapshot()
	require.Len(t, snap, 1)

	// Mutating the snapshot entry must not leak back into the store.
	snap["test_net.net"].ProviderID = "tampered"
	snap["test_net.net"].Attributes["cidr"] = cty.StringVal("changed")

	got, ok := s.Get("test_net.net")
	require.True(t, ok)
	assert.Equal(t, "net-1", got.ProviderID)
	assert.True(t, got.Attributes["cidr"].RawEquals(cty.StringVal("10.0.0.0/16")))

	// Writes after the snapshot was taken are invisible to it.
	require.NoError(t, s.Put(testEntry("test_net.other", "net-2")))
	assert.Len(t, snap, 1)
}

func TestMemStoreLockTimeout(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Lock(ctx, time.Second))

	// 1. A competing lock times out with the sentinel error.
	start := time.Now()
	err := s.Lock(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// 2. After release the lock is available again.
	require.NoError(t, s.Unlock())
	require.NoError(t, s.Lock(ctx, time.Second))
	require.NoError(t, s.Unlock())

	// 3. Unlocking an unheld lock fails.
	require.Error(t, s.Unlock())
}

func TestMemStoreLockCancellation(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Lock(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := s.Lock(ctx, 10*time.Second)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s1 := NewFileStore(path)
	require.NoError(t, s1.Put(testEntry("test_net.net", "net-1")))
	require.NoError(t, s1.Put(testEntry("test_net.peer[0]", "net-2")))

	// A fresh store over the same file sees everything, types intact.
	s2 := NewFileStore(path)
	got, ok := s2.Get("test_net.net")
	require.True(t, ok)
	assert.Equal(t, "net-1", got.ProviderID)
	assert.True(t, got.Attributes["ports"].RawEquals(
		cty.ListVal([]cty.Value{cty.NumberIntVal(80), cty.NumberIntVal(443)})))
	assert.Equal(t, []string{"test_vpc.vpc"}, got.Dependencies)

	indexed, ok := s2.Get("test_net.peer[0]")
	require.True(t, ok)
	assert.Equal(t, 0, indexed.Index)

	require.NoError(t, s2.Remove("test_net.net"))
	s3 := NewFileStore(path)
	_, ok = s3.Get("test_net.net")
	assert.False(t, ok)
	assert.Len(t, s3.Snapshot(), 1)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent", "state.json"))
	assert.Empty(t, s.Snapshot())
	_, ok := s.Get("test_net.net")
	assert.False(t, ok)
}

func TestFileStoreLockExcludesCompetingRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s1 := NewFileStore(path)
	require.NoError(t, s1.Lock(ctx, time.Second))

	s2 := NewFileStore(path)
	err := s2.Lock(ctx, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, s1.Unlock())
	require.NoError(t, s2.Lock(ctx, time.Second))
	require.NoError(t, s2.Unlock())
}

func TestFileStoreLockSurvivesStaleAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s1 := NewFileStore(path)
	require.NoError(t, s1.Lock(ctx, time.Second))
	defer s1.Unlock()

	// Simulate a long apply: the lock file's mtime is well past the stale
	// age, but the holder process is alive, so it must not be reclaimed.
	old := time.Now().Add(-lockStaleAge - time.Minute)
	require.NoError(t, os.Chtimes(path+".lock", old, old))

	s2 := NewFileStore(path)
	err := s2.Lock(ctx, 400*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestFileStoreLockHeartbeatRefreshesMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewFileStore(path)
	s.heartbeat = 20 * time.Millisecond
	require.NoError(t, s.Lock(context.Background(), time.Second))
	defer s.Unlock()

	old := time.Now().Add(-lockStaleAge - time.Minute)
	require.NoError(t, os.Chtimes(path+".lock", old, old))

	require.Eventually(t, func() bool {
		info, err := os.Stat(path + ".lock")
		return err == nil && time.Since(info.ModTime()) < lockStaleAge
	}, time.Second, 10*time.Millisecond, "heartbeat never refreshed the lock file")
}

func TestFileStoreLockReclaimsDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	lockPath := path + ".lock"

	// A crashed run: pid beyond the kernel's pid range, mtime past the
	// stale age.
	require.NoError(t, os.WriteFile(lockPath, []byte("pid=999999999\ntime=2026-01-01T00:00:00Z\n"), 0o644))
	old := time.Now().Add(-lockStaleAge - time.Minute)
	require.NoError(t, os.Chtimes(lockPath, old, old))

	s := NewFileStore(path)
	require.NoError(t, s.Lock(context.Background(), 2*time.Second))
	require.NoError(t, s.Unlock())
}

func TestFileStoreUnlockRefusesForeignLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	lockPath := path + ".lock"
	require.NoError(t, os.WriteFile(lockPath, []byte("pid=999999999\ntime=2026-01-01T00:00:00Z\n"), 0o644))

	s := NewFileStore(path)
	err := s.Unlock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not this run")

	// The foreign lock file is left in place.
	_, statErr := os.Stat(lockPath)
	require.NoError(t, statErr)
}

func TestEncryptionRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "unit-test-key")

	plaintext := []byte(`{"version":1,"resources":[]}`)
	sealed, err := EncryptState(plaintext)
	require.NoError(t, err)
	require.True(t, IsEncrypted(sealed))
	assert.NotContains(t, string(sealed), "resources")

	opened, err := DecryptState(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	// A different key cannot open it.
	t.Setenv(EncryptionKeyEnvVar, "some-other-key")
	_, err = DecryptState(sealed)
	require.Error(t, err)
}

func TestEncryptionDisabledWithoutKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	plaintext := []byte("plain state")
	out, err := EncryptState(plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)

	opened, err := DecryptState(plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestFileStoreEncryptsAtRest(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "unit-test-key")
	path := filepath.Join(t.TempDir(), "state.json")

	s1 := NewFileStore(path)
	require.NoError(t, s1.Put(testEntry("test_net.net", "net-1")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "net-1")

	s2 := NewFileStore(path)
	got, ok := s2.Get("test_net.net")
	require.True(t, ok)
	assert.Equal(t, "net-1", got.ProviderID)
}
