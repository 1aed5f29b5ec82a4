package cache

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)
	c.rng = func() float64 { return 1 } // disable opportunistic pruning by default
	return c
}

func testSignature() SystemSignature {
	return SystemSignature{PhysicalCores: 8, SpawnMethod: "fork", MemoryBucket: 4}
}

func testEntry(fp string, ttl time.Duration) Entry {
	return Entry{
		Fingerprint:     fp,
		PlanVersion:     CurrentPlanVersion,
		CreatedAt:       time.Now(),
		TTLSeconds:      int64(ttl.Seconds()),
		SystemSignature: testSignature(),
		Plan:            PlanSummary{NWorkers: 4, Chunksize: 20, ExecutorKind: "process", Explanation: "ok"},
	}
}

func TestLookup_MissOnMissingFile(t *testing.T) {
	c := newTestCache(t)
	_, reason, hit := c.Lookup("does-not-exist", testSignature())
	assert.False(t, hit)
	assert.Equal(t, NoEntry, reason)
}

func TestStoreThenLookup_Hit(t *testing.T) {
	c := newTestCache(t)
	e := testEntry("fp1", time.Hour)
	require.NoError(t, c.Store(e))

	got, reason, hit := c.Lookup("fp1", testSignature())
	assert.True(t, hit)
	assert.Equal(t, MissReason(""), reason)
	assert.Equal(t, e.Plan, got.Plan)
}

func TestLookup_ExpiredEntry(t *testing.T) {
	c := newTestCache(t)
	e := testEntry("fp2", -time.Second) // already expired
	require.NoError(t, c.Store(e))

	_, reason, hit := c.Lookup("fp2", testSignature())
	assert.False(t, hit)
	assert.Equal(t, Expired, reason)
}

func TestLookup_SystemChanged(t *testing.T) {
	c := newTestCache(t)
	e := testEntry("fp3", time.Hour)
	require.NoError(t, c.Store(e))

	other := testSignature()
	other.PhysicalCores = 16
	_, reason, hit := c.Lookup("fp3", other)
	assert.False(t, hit)
	assert.Equal(t, SystemChanged, reason)
}

func TestLookup_VersionMismatch(t *testing.T) {
	c := newTestCache(t)
	e := testEntry("fp4", time.Hour)
	e.PlanVersion = CurrentPlanVersion + 1
	require.NoError(t, c.Store(e))

	_, reason, hit := c.Lookup("fp4", testSignature())
	assert.False(t, hit)
	assert.Equal(t, VersionMismatch, reason)
}

func TestLookup_CorruptFileIsQuarantinedAndReportsCorrupt(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, os.WriteFile(c.path("fp5"), []byte("{not json"), 0o644))

	_, reason, hit := c.Lookup("fp5", testSignature())
	assert.False(t, hit)
	assert.Equal(t, Corrupt, reason)

	_, statErr := os.Stat(c.path("fp5") + badSuffix)
	assert.NoError(t, statErr, "corrupt entry should be quarantined with .bad suffix")
	_, statErr = os.Stat(c.path("fp5"))
	assert.Error(t, statErr, "original corrupt file should be gone after quarantine")
}

func TestPrune_RemovesExpiredIdempotently(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(testEntry("live", time.Hour)))
	require.NoError(t, c.Store(testEntry("dead", -time.Second)))

	removed, err := c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = c.Prune()
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "a second prune should be idempotent")

	_, _, hit := c.Lookup("live", testSignature())
	assert.True(t, hit)
}

func TestClear_RemovesEverything(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(testEntry("a", time.Hour)))
	require.NoError(t, c.Store(testEntry("b", time.Hour)))

	require.NoError(t, c.Clear())

	stats, err := c.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestCacheStats_CountsExpired(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(testEntry("live", time.Hour)))
	require.NoError(t, c.Store(testEntry("dead", -time.Second)))

	stats, err := c.CacheStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ExpiredEntries)
}

func TestLookup_ConcurrentCallsAreCoalesced(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(testEntry("fp-concurrent", time.Hour)))

	const n = 20
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _, hit := c.Lookup("fp-concurrent", testSignature())
			results <- hit
		}()
	}
	for i := 0; i < n; i++ {
		assert.True(t, <-results)
	}
}

func TestList_ReturnsAllStoredEntriesSkippingQuarantined(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(testEntry("fp-a", time.Hour)))
	require.NoError(t, c.Store(testEntry("fp-b", time.Hour)))
	require.NoError(t, os.WriteFile(c.path("fp-bad")+badSuffix, []byte("junk"), 0o644))

	entries, err := c.List()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestGet_ReturnsExpiredEntryWithoutInvalidating(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Store(testEntry("fp-expired", -time.Second)))

	e, ok, err := c.Get("fp-expired")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fp-expired", e.Fingerprint)
}

func TestGet_MissingFingerprintReturnsNotFound(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}
