package parsercache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneywright/internal/kvstore"
)

func newTestCache(t *testing.T) (*Cache, *kvstore.Store) {
	t.Helper()
	store, err := kvstore.New(filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, NamespaceStatement), store
}

func TestLatestVersionSequence(t *testing.T) {
	cache, _ := newTestCache(t)
	key := NormalizeKey("HDFC Bank", "pdf")

	latest, err := cache.LatestVersion(key)
	require.NoError(t, err)
	assert.Equal(t, 0, latest, "unseen key starts at 0")

	for i := 1; i <= 3; i++ {
		v, err := cache.SaveVersion(key, fmt.Sprintf("// code v%d", i), Meta{DetectedFormat: "tabular", Confidence: 0.9})
		require.NoError(t, err)
		assert.Equal(t, i, v)

		latest, err = cache.LatestVersion(key)
		require.NoError(t, err)
		assert.Equal(t, i, latest)
	}
}

func TestListVersionsDescending(t *testing.T) {
	cache, _ := newTestCache(t)
	key := "hdfc_bank:pdf"

	for i := 1; i <= 4; i++ {
		_, err := cache.SaveVersion(key, fmt.Sprintf("code-%d", i), Meta{})
		require.NoError(t, err)
	}

	entries, err := cache.ListVersions(key)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, 4-i, e.Version)
	}
	assert.Equal(t, "code-4", entries[0].Code)
	assert.Zero(t, entries[0].SuccessCount)
	assert.NotEmpty(t, entries[0].CreatedAt)
}

func TestCountersAreDurable(t *testing.T) {
	cache, _ := newTestCache(t)
	key := "axis_bank:csv"

	_, err := cache.SaveVersion(key, "v1", Meta{})
	require.NoError(t, err)
	_, err = cache.SaveVersion(key, "v2", Meta{})
	require.NoError(t, err)

	require.NoError(t, cache.RecordSuccess(key, 2))
	require.NoError(t, cache.RecordSuccess(key, 2))
	require.NoError(t, cache.RecordFailure(key, 2))

	entries, err := cache.ListVersions(key)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].SuccessCount)
	assert.Equal(t, 1, entries[0].FailCount)
	assert.Zero(t, entries[1].SuccessCount)
}

func TestRecordOnMissingVersionIsNoOp(t *testing.T) {
	cache, _ := newTestCache(t)
	assert.NoError(t, cache.RecordSuccess("ghost_bank:pdf", 7))
	assert.NoError(t, cache.RecordFailure("ghost_bank:pdf", 7))
}

func TestCorruptEntriesAreSkipped(t *testing.T) {
	cache, store := newTestCache(t)
	key := "icici:pdf"

	_, err := cache.SaveVersion(key, "good", Meta{})
	require.NoError(t, err)

	// Unparsable payload and an unrecoverable version suffix.
	require.NoError(t, store.Set("parser_code:icici:pdf:v2", "{not json"))
	require.NoError(t, store.Set("parser_code:icici:pdf:vNaN", "{}"))

	entries, err := cache.ListVersions(key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, "good", entries[0].Code)
}

func TestClearAll(t *testing.T) {
	cache, _ := newTestCache(t)
	key := "sbi:pdf"

	for i := 0; i < 3; i++ {
		_, err := cache.SaveVersion(key, "c", Meta{})
		require.NoError(t, err)
	}
	n, err := cache.ClearAll(key)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	latest, err := cache.LatestVersion(key)
	require.NoError(t, err)
	assert.Equal(t, 0, latest)
}

func TestListKeys(t *testing.T) {
	cache, store := newTestCache(t)

	for i := 0; i < 2; i++ {
		_, err := cache.SaveVersion("hdfc_bank:pdf", "c", Meta{})
		require.NoError(t, err)
	}
	_, err := cache.SaveVersion("axis_bank:csv", "c", Meta{})
	require.NoError(t, err)

	// Other namespace must not leak in.
	inv := New(store, NamespaceInvestment)
	_, err = inv.SaveVersion("zerodha:pdf", "c", Meta{})
	require.NoError(t, err)

	keys, err := cache.ListKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "axis_bank:csv", keys[0].Key)
	assert.Equal(t, 1, keys[0].VersionCount)
	assert.Equal(t, "hdfc_bank:pdf", keys[1].Key)
	assert.Equal(t, 2, keys[1].VersionCount)
	assert.Equal(t, 2, keys[1].LatestVersion)
}

func TestNamespacesAreDisjoint(t *testing.T) {
	cache, store := newTestCache(t)
	inv := New(store, NamespaceInvestment)

	_, err := cache.SaveVersion("hdfc_bank:pdf", "statement code", Meta{})
	require.NoError(t, err)
	_, err = inv.SaveVersion("hdfc_bank:pdf", "holdings code", Meta{})
	require.NoError(t, err)

	entries, err := inv.ListVersions("hdfc_bank:pdf")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "holdings code", entries[0].Code)
	assert.Equal(t, 1, entries[0].Version)
}

func TestConcurrentSaveVersionAllocatesDenseVersions(t *testing.T) {
	cache, _ := newTestCache(t)
	key := "kotak:pdf"

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	versions := make(chan int, writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			v, err := cache.SaveVersion(key, "c", Meta{})
			assert.NoError(t, err)
			versions <- v
		}()
	}
	wg.Wait()
	close(versions)

	seen := make(map[int]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, writers)

	latest, err := cache.LatestVersion(key)
	require.NoError(t, err)
	assert.Equal(t, writers, latest)
}

func TestPruneKeepsNewestAndDropsNeverSucceeded(t *testing.T) {
	cache, _ := newTestCache(t)
	key := "yes_bank:pdf"

	for i := 1; i <= 5; i++ {
		_, err := cache.SaveVersion(key, fmt.Sprintf("c%d", i), Meta{})
		require.NoError(t, err)
	}
	// v2 and v4 have proven themselves.
	require.NoError(t, cache.RecordSuccess(key, 2))
	require.NoError(t, cache.RecordSuccess(key, 4))

	pruned, err := cache.Prune(key, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	entries, err := cache.ListVersions(key)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 5, entries[0].Version, "newest survives")
	assert.Equal(t, 4, entries[1].Version)
	assert.Equal(t, 2, entries[2].Version)
}

func TestPruneUnderLimitIsNoOp(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.SaveVersion("idfc:pdf", "c", Meta{})
	require.NoError(t, err)

	pruned, err := cache.Prune("idfc:pdf", 3)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
