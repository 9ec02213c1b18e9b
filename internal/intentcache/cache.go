// Package intentcache memoizes translation results so that repeating an
// input in the same context skips the LLM round trip entirely. Entries
// expire by TTL and are evicted LRU; the cache persists to
// intent_cache.json under the state root.
package intentcache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"zenus/internal/logging"
	"zenus/internal/types"
)

const persistEvery = 16

// ContextFingerprint captures the environment facts that change what an
// input should translate to. Two identical inputs in different contexts
// must not share a cache entry.
type ContextFingerprint struct {
	WorkingDir string
	Profile    string
	// Paths are the most relevant known filesystem paths, typically the
	// world model's top entries for the input.
	Paths []string
}

// Digest returns a stable hash of the fingerprint.
func (f ContextFingerprint) Digest() string {
	paths := append([]string(nil), f.Paths...)
	sort.Strings(paths)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", f.WorkingDir, f.Profile, strings.Join(paths, "\x00"))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

type entry struct {
	Key      string         `json:"key"`
	Input    string         `json:"input"`
	IR       *types.IntentIR `json:"ir"`
	StoredAt time.Time      `json:"stored_at"`
	Hits     int            `json:"hits"`
}

// Cache is an in-memory TTL+LRU intent cache with lazy JSON
// persistence. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent

	ttl        time.Duration
	maxEntries int
	path       string

	writes int
	hits   int
	misses int

	now func() time.Time
}

// New creates a cache persisted under the state root and loads any
// prior snapshot. A corrupt or missing snapshot starts the cache empty.
func New(root string, ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		path:       filepath.Join(root, "intent_cache.json"),
		now:        time.Now,
	}
	c.load()
	return c
}

// Key builds the cache key from the normalized input and the context
// fingerprint.
func Key(input string, fp ContextFingerprint) string {
	norm := strings.Join(strings.Fields(strings.ToLower(input)), " ")
	h := sha256.Sum256([]byte(norm + "\x00" + fp.Digest()))
	return hex.EncodeToString(h[:])
}

// Get returns the cached IR for the key, or nil on miss. Expired
// entries are removed on access.
func (c *Cache) Get(key string) *types.IntentIR {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.StoredAt) > c.ttl {
		c.removeLocked(el)
		c.misses++
		return nil
	}
	e.Hits++
	c.hits++
	c.order.MoveToFront(el)
	logging.Cache("hit %.12s (%d hits)", key, e.Hits)
	return e.IR
}

// GetOrCompute returns the cached IR or computes, stores, and returns a
// fresh one. Compute errors are not cached.
func (c *Cache) GetOrCompute(input string, fp ContextFingerprint, compute func() (*types.IntentIR, error)) (*types.IntentIR, bool, error) {
	key := Key(input, fp)
	if ir := c.Get(key); ir != nil {
		return ir, true, nil
	}
	ir, err := compute()
	if err != nil {
		return nil, false, err
	}
	c.Put(key, input, ir)
	return ir, false, nil
}

// Put stores an IR under the key, evicting the least recently used
// entry when full.
func (c *Cache) Put(key, input string, ir *types.IntentIR) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.IR = ir
		e.StoredAt = c.now()
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry{Key: key, Input: input, IR: ir, StoredAt: c.now()})
		c.entries[key] = el
		for len(c.entries) > c.maxEntries {
			c.removeLocked(c.order.Back())
		}
	}

	c.writes++
	if c.writes%persistEvery == 0 {
		c.persistLocked()
	}
}

// Invalidate removes entries whose original input contains the
// substring, and every entry when the substring is empty. Mutating
// filesystem operations call this to drop stale translations.
func (c *Cache) Invalidate(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if substr == "" || strings.Contains(strings.ToLower(e.Input), strings.ToLower(substr)) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.removeLocked(el)
	}
	if len(victims) > 0 {
		logging.Cache("invalidated %d entries matching %q", len(victims), substr)
	}
	return len(victims)
}

// Stats reports hit/miss counts and current size.
func (c *Cache) Stats() (hits, misses, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// Close persists the cache to disk.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.Key)
}

func (c *Cache) persistLocked() error {
	snapshot := make([]*entry, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		snapshot = append(snapshot, el.Value.(*entry))
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal intent cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write intent cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace intent cache: %w", err)
	}
	return nil
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var snapshot []*entry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logging.Cache("discarding corrupt intent cache: %v", err)
		return
	}
	// Snapshot is most-recent-first; PushBack preserves that order.
	for _, e := range snapshot {
		if c.now().Sub(e.StoredAt) > c.ttl || e.IR == nil {
			continue
		}
		if len(c.entries) >= c.maxEntries {
			break
		}
		c.entries[e.Key] = c.order.PushBack(e)
	}
	if n := len(c.entries); n > 0 {
		logging.Cache("loaded %d cached intents", n)
	}
}
