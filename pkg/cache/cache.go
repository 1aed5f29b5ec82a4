// Package cache implements the Decision Cache of spec.md §4.E: a
// fingerprint-keyed, filesystem-persisted cache of optimization plans with
// TTL, schema-version, and system-compatibility invalidation.
package cache

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"
)

// MissReason explains why Lookup returned no entry; spec.md §4.E requires
// that the reason reflect the actual state at the moment of decision,
// regardless of a concurrent prune.
type MissReason string

const (
	NoEntry         MissReason = "NoEntry"
	Corrupt         MissReason = "Corrupt"
	VersionMismatch MissReason = "VersionMismatch"
	Expired         MissReason = "Expired"
	SystemChanged   MissReason = "SystemChanged"
)

// Stats is the cache.stats() surface of spec.md §6.
type Stats struct {
	TotalEntries   int
	ExpiredEntries int
	OldestAge      time.Duration
	NewestAge      time.Duration
}

// Cache is the filesystem-backed decision cache. It is safe for concurrent
// use by multiple goroutines in this process; cross-process concurrency is
// handled by atomic rename, per spec.md §4.E's concurrency note.
type Cache struct {
	root string

	pruneChance float64 // probability a successful-miss read also prunes
	rng         func() float64

	inflight singleflight.Group
}

const entrySuffix = ".entry"
const badSuffix = ".bad"
const defaultPruneChance = 0.05

// New creates a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}
	return &Cache{root: dir, pruneChance: defaultPruneChance, rng: defaultRNG}, nil
}

func (c *Cache) path(fingerprint string) string {
	return filepath.Join(c.root, fingerprint+entrySuffix)
}

// Lookup implements the six-step protocol of spec.md §4.E. A concurrent
// lookup for the same fingerprint is coalesced via singleflight so a cold
// cache under concurrent load does one filesystem read, not N.
func (c *Cache) Lookup(fingerprint string, current SystemSignature) (Entry, MissReason, bool) {
	type result struct {
		entry  Entry
		reason MissReason
		hit    bool
	}
	v, _, _ := c.inflight.Do(fingerprint, func() (interface{}, error) {
		e, reason, hit := c.lookupOnce(fingerprint, current)
		return result{entry: e, reason: reason, hit: hit}, nil
	})
	r := v.(result)
	return r.entry, r.reason, r.hit
}

func (c *Cache) lookupOnce(fingerprint string, current SystemSignature) (Entry, MissReason, bool) {
	raw, err := os.ReadFile(c.path(fingerprint))
	if err != nil {
		c.maybePrune()
		return Entry{}, NoEntry, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.quarantine(fingerprint)
		c.maybePrune()
		return Entry{}, Corrupt, false
	}

	if e.PlanVersion != CurrentPlanVersion {
		return Entry{}, VersionMismatch, false
	}
	// Check expiry before system compatibility: the invariant requires the
	// *actual* state to be reported truthfully even if pruning races, and
	// expiry is the more time-sensitive of the two (§4.E invariant).
	if e.Expired(time.Now()) {
		c.maybePrune()
		return Entry{}, Expired, false
	}
	if e.SystemSignature != current {
		return Entry{}, SystemChanged, false
	}
	return e, "", true
}

// Store persists an entry via write-tmp-then-rename.
func (c *Cache) Store(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := renameio.WriteFile(c.path(e.Fingerprint), b, 0o644); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	return nil
}

// quarantine renames a corrupt entry file with a .bad suffix so it stops
// masquerading as valid, per spec.md §4.E's storage contract.
func (c *Cache) quarantine(fingerprint string) {
	src := c.path(fingerprint)
	_ = os.Rename(src, src+badSuffix)
}

func (c *Cache) maybePrune() {
	if c.rng() < c.pruneChance {
		_, _ = c.Prune()
	}
}

// Prune removes expired and version-incompatible entries and quarantines
// unparsable ones. It does not compare system signatures, so an entry whose
// signature no longer matches stays on disk until it expires. It is
// idempotent: running it twice in a row removes nothing the second time.
func (c *Cache) Prune() (removed int, err error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("cache: read root: %w", err)
	}
	now := time.Now()
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != entrySuffix {
			continue
		}
		full := filepath.Join(c.root, de.Name())
		raw, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			_ = os.Rename(full, full+badSuffix)
			removed++
			continue
		}
		if e.PlanVersion != CurrentPlanVersion || e.Expired(now) {
			_ = os.Remove(full)
			removed++
		}
	}
	return removed, nil
}

// Clear removes every entry unconditionally.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("cache: read root: %w", err)
	}
	for _, de := range entries {
		_ = os.Remove(filepath.Join(c.root, de.Name()))
	}
	return nil
}

// CacheStats implements cache.stats() of spec.md §6.
func (c *Cache) CacheStats() (Stats, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: read root: %w", err)
	}
	now := time.Now()
	var s Stats
	var oldest, newest time.Time
	for _, de := range entries {
		if de.IsDir() || filepath.Ext(de.Name()) != entrySuffix {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.root, de.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		s.TotalEntries++
		if e.Expired(now) {
			s.ExpiredEntries++
		}
		if oldest.IsZero() || e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
		if newest.IsZero() || e.CreatedAt.After(newest) {
			newest = e.CreatedAt
		}
	}
	if !oldest.IsZero() {
		s.OldestAge = now.Sub(oldest)
	}
	if !newest.IsZero() {
		s.NewestAge = now.Sub(newest)
	}
	return s, nil
}

// List returns every readable entry under the cache root, for the CLI's
// `cache list` (spec.md §6). Quarantined (.bad) and unparsable files are
// skipped rather than erroring the whole listing.
func (c *Cache) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("cache: read root: %w", err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != entrySuffix {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.root, de.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get reads a single entry by fingerprint without applying Lookup's
// expiry/version/system-signature validity checks, for the CLI's
// `cache show <fp>` (spec.md §6), which should display whatever is on disk
// even if it would no longer be considered a hit.
func (c *Cache) Get(fingerprint string) (Entry, bool, error) {
	raw, err := os.ReadFile(c.path(fingerprint))
	if os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: read entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache: decode entry: %w", err)
	}
	return e, true, nil
}

func defaultRNG() float64 {
	return rand.Float64()
}
