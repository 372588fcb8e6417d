// Package parsercache stores LLM-generated extraction code as versioned,
// append-only artifacts in the shared key-value store. Versions for a key
// form a dense sequence starting at 1; entries are immutable except for their
// success/failure counters. Statement parsers and investment-holding parsers
// live in disjoint key namespaces with identical mechanics.
package parsercache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"moneywright/internal/kvstore"
	"moneywright/internal/logging"
)

// Key namespaces reserved in the config key-value store.
const (
	NamespaceStatement  = "parser_code"     // transaction-statement parsers
	NamespaceInvestment = "inv_parser_code" // investment-holding parsers
)

// saveRetries bounds the conflict-retry loop in SaveVersion. Every conflict
// corresponds to another writer's successful insert, so a writer needs at
// most one retry per concurrent competitor.
const saveRetries = 16

// Entry is one cached code version. The counters are the only mutable fields
// and only ever increase.
type Entry struct {
	Code           string  `json:"code"`
	DetectedFormat string  `json:"detectedFormat"`
	Confidence     float64 `json:"confidence"`
	CreatedAt      string  `json:"createdAt"`
	SuccessCount   int     `json:"successCount"`
	FailCount      int     `json:"failCount"`

	// Version is recovered from the row key suffix, not the payload.
	Version int `json:"-"`
}

// Meta carries generation metadata persisted alongside code.
type Meta struct {
	DetectedFormat string
	Confidence     float64
}

// KeyInfo summarizes one cache key for administrative listing.
type KeyInfo struct {
	Key           string `json:"key"`
	VersionCount  int    `json:"versionCount"`
	LatestVersion int    `json:"latestVersion"`
}

// Cache is a versioned parser-code cache over one namespace of the key-value
// store.
type Cache struct {
	store     *kvstore.Store
	namespace string
}

// New creates a cache bound to a namespace.
func New(store *kvstore.Store, namespace string) *Cache {
	return &Cache{store: store, namespace: namespace}
}

// ForMode returns the cache for the namespace matching a parsing mode.
func ForMode(store *kvstore.Store, holding bool) *Cache {
	if holding {
		return New(store, NamespaceInvestment)
	}
	return New(store, NamespaceStatement)
}

func (c *Cache) rowKey(key string, version int) string {
	return fmt.Sprintf("%s:%s:v%d", c.namespace, key, version)
}

func (c *Cache) versionPrefix(key string) string {
	return c.namespace + ":" + key + ":v"
}

// ListVersions returns all cached entries for a key, newest first. Rows whose
// payload fails to parse, or whose version suffix is not recoverable, are
// logged and skipped: corrupt historical rows must never block new parsing
// attempts. Storage I/O errors still propagate.
func (c *Cache) ListVersions(key string) ([]Entry, error) {
	prefix := c.versionPrefix(key)
	rows, err := c.store.ListPrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		version, ok := parseVersionSuffix(row.Key, prefix)
		if !ok {
			logging.Get(logging.CategoryCache).Warn(
				"Skipping cache row with unrecoverable version suffix: %s", row.Key)
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(row.Value), &entry); err != nil {
			logging.Get(logging.CategoryCache).Warn(
				"Skipping corrupt cache entry %s: %v", row.Key, err)
			continue
		}
		entry.Version = version
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Version > entries[j].Version })
	return entries, nil
}

// LatestVersion returns the highest stored version for a key, 0 when none.
func (c *Cache) LatestVersion(key string) (int, error) {
	entries, err := c.ListVersions(key)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[0].Version, nil
}

// SaveVersion appends code as the next version for a key and returns the
// allocated version number. Allocation is race-free: the row key is the
// store's primary key, so a concurrent writer that claims the same number
// forces a re-read and retry here.
func (c *Cache) SaveVersion(key, code string, meta Meta) (int, error) {
	for attempt := 0; attempt < saveRetries; attempt++ {
		latest, err := c.LatestVersion(key)
		if err != nil {
			return 0, err
		}
		version := latest + 1

		entry := Entry{
			Code:           code,
			DetectedFormat: meta.DetectedFormat,
			Confidence:     meta.Confidence,
			CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		}
		payload, err := json.Marshal(entry)
		if err != nil {
			return 0, fmt.Errorf("failed to encode cache entry: %w", err)
		}

		err = c.store.Insert(c.rowKey(key, version), string(payload))
		if err == nil {
			logging.Cache("Saved parser code %s:%s v%d (format=%s, confidence=%.2f, %d bytes)",
				c.namespace, key, version, meta.DetectedFormat, meta.Confidence, len(code))
			return version, nil
		}
		if errors.Is(err, kvstore.ErrKeyExists) {
			logging.CacheDebug("Version %d for %s taken by a concurrent writer, retrying", version, key)
			continue
		}
		return 0, err
	}
	return 0, fmt.Errorf("failed to allocate a version for %s after %d attempts", key, saveRetries)
}

// RecordSuccess bumps the success counter of one version. A missing entry is
// a silent no-op.
func (c *Cache) RecordSuccess(key string, version int) error {
	return c.store.IncrementJSONField(c.rowKey(key, version), "successCount")
}

// RecordFailure bumps the failure counter of one version. A missing entry is
// a silent no-op.
func (c *Cache) RecordFailure(key string, version int) error {
	return c.store.IncrementJSONField(c.rowKey(key, version), "failCount")
}

// ClearAll deletes every version for a key and returns the count removed.
func (c *Cache) ClearAll(key string) (int, error) {
	n, err := c.store.DeletePrefix(c.versionPrefix(key))
	if err != nil {
		return 0, fmt.Errorf("failed to clear versions for %s: %w", key, err)
	}
	logging.Cache("Cleared %d cached versions for %s:%s", n, c.namespace, key)
	return n, nil
}

// ListKeys scans the namespace and summarizes every cached key.
func (c *Cache) ListKeys() ([]KeyInfo, error) {
	rows, err := c.store.ListPrefix(c.namespace + ":")
	if err != nil {
		return nil, fmt.Errorf("failed to scan namespace %s: %w", c.namespace, err)
	}

	summary := make(map[string]*KeyInfo)
	for _, row := range rows {
		key, version, ok := splitRowKey(row.Key, c.namespace)
		if !ok {
			logging.Get(logging.CategoryCache).Warn("Skipping malformed cache row key: %s", row.Key)
			continue
		}
		info, exists := summary[key]
		if !exists {
			info = &KeyInfo{Key: key}
			summary[key] = info
		}
		info.VersionCount++
		if version > info.LatestVersion {
			info.LatestVersion = version
		}
	}

	out := make([]KeyInfo, 0, len(summary))
	for _, info := range summary {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Prune removes surplus old versions for a key, keeping at most maxVersions.
// The newest version is never pruned; among the rest, versions that never
// succeeded go first, then the oldest. Disabled by default: the full version
// history doubles as an audit trail of issuer format drift.
func (c *Cache) Prune(key string, maxVersions int) (int, error) {
	if maxVersions < 1 {
		return 0, fmt.Errorf("maxVersions must be >= 1, got %d", maxVersions)
	}
	entries, err := c.ListVersions(key)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxVersions {
		return 0, nil
	}

	// entries is newest-first; index 0 is always kept.
	candidates := append([]Entry(nil), entries[1:]...)
	sort.SliceStable(candidates, func(i, j int) bool {
		zi, zj := candidates[i].SuccessCount == 0, candidates[j].SuccessCount == 0
		if zi != zj {
			return zi
		}
		return candidates[i].Version < candidates[j].Version
	})

	pruned := 0
	for _, entry := range candidates {
		if len(entries)-pruned <= maxVersions {
			break
		}
		if err := c.store.Delete(c.rowKey(key, entry.Version)); err != nil {
			return pruned, err
		}
		logging.Cache("Pruned %s:%s v%d (successes=%d, failures=%d)",
			c.namespace, key, entry.Version, entry.SuccessCount, entry.FailCount)
		pruned++
	}
	return pruned, nil
}

// parseVersionSuffix recovers the version number from a row key, given the
// "{namespace}:{key}:v" prefix. The remainder must be all digits.
func parseVersionSuffix(rowKey, prefix string) (int, bool) {
	suffix := strings.TrimPrefix(rowKey, prefix)
	if suffix == rowKey || suffix == "" {
		return 0, false
	}
	version, err := strconv.Atoi(suffix)
	if err != nil || version < 1 {
		return 0, false
	}
	return version, true
}

// splitRowKey breaks "{namespace}:{key}:v{N}" into key and version.
func splitRowKey(rowKey, namespace string) (string, int, bool) {
	rest := strings.TrimPrefix(rowKey, namespace+":")
	if rest == rowKey {
		return "", 0, false
	}
	idx := strings.LastIndex(rest, ":v")
	if idx <= 0 {
		return "", 0, false
	}
	version, err := strconv.Atoi(rest[idx+2:])
	if err != nil || version < 1 {
		return "", 0, false
	}
	return rest[:idx], version, true
}
