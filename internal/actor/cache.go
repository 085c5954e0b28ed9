// Package actor runs one goroutine per physical device, serializing
// every command through a FIFO inbox so that concurrent callers never
// race on the same transport session (spec §4.5). Grounded on the
// teacher's internal/driver/device/controller.go for its mutex-guarded
// stats/queue-depth bookkeeping pattern, generalized from a single
// shared controller into one instance per device actor.
package actor

import (
	"container/list"
	"crypto/sha256"
	"encoding/gob"
	"encoding/json"
	"io"
	"time"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/internal/protocol"
	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

func init() {
	// Cached response payloads are stored as interface{} (see
	// messageToPayload); gob needs every concrete type that can appear
	// behind that interface registered before it will round-trip one.
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(&protocol.Features{})
}

// DefaultCacheCap and DefaultCacheTTL are spec §3's defaults.
const (
	DefaultCacheCap = 256
	DefaultCacheTTL = 30 * time.Second
)

// cacheKey identifies one cached response: (operation_tag, params_hash).
// device_id is implicit — each actor owns exactly one cache instance.
type cacheKey struct {
	op   keepkey.OperationTag
	hash string
}

type cacheEntry struct {
	key        cacheKey
	value      interface{}
	insertedAt time.Time
}

// cache is a per-device LRU with a size cap and TTL, per spec §3's
// CacheEntry invariants. Not safe for concurrent use; the owning actor
// goroutine is its only caller, matching the spec's "written only by
// the owning actor" rule.
type cache struct {
	cap     int
	ttl     time.Duration
	entries map[cacheKey]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time

	hits   uint64
	misses uint64
}

func newCache(cap int, ttl time.Duration) *cache {
	return &cache{
		cap:     cap,
		ttl:     ttl,
		entries: make(map[cacheKey]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// paramsHash derives a stable hash of an operation's parameters. JSON
// marshaling of the concrete Params struct is sufficient: the struct
// shapes are fixed and small, and this avoids hand-rolling a hasher
// per operation variant.
func paramsHash(p keepkey.Params) string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return string(sum[:])
}

// get returns the cached value for p if present and not expired.
func (c *cache) get(p keepkey.Params) (interface{}, bool) {
	key := cacheKey{op: p.Tag(), hash: paramsHash(p)}
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.value, true
}

// put inserts or refreshes the cached value for p, evicting the least
// recently used entry if the cache is at capacity.
func (c *cache) put(p keepkey.Params, value interface{}) {
	key := cacheKey{op: p.Tag(), hash: paramsHash(p)}
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).insertedAt = c.now()
		c.order.MoveToFront(el)
		return
	}
	entry := &cacheEntry{key: key, value: value, insertedAt: c.now()}
	el := c.order.PushFront(entry)
	c.entries[key] = el

	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// purge empties the cache wholesale, used after every mutating
// operation succeeds (spec §3's CacheEntry invariant).
func (c *cache) purge() {
	c.entries = make(map[cacheKey]*list.Element)
	c.order = list.New()
}

// stats reports hit/miss counters for the metrics registry.
func (c *cache) stats() (hits, misses uint64) {
	return c.hits, c.misses
}

// snapshotRecord is the on-disk shape of one surviving cache entry,
// keyed by the same (operation_tag, params_hash) pair used in memory.
type snapshotRecord struct {
	Op         keepkey.OperationTag
	Hash       string
	Value      interface{}
	InsertedAt time.Time
}

// SnapshotTo writes every unexpired entry to w, the optional
// disk-backed cache snapshot named in spec §1. It does not clear the
// in-memory cache.
func (c *cache) SnapshotTo(w io.Writer) error {
	records := make([]snapshotRecord, 0, c.order.Len())
	now := c.now()
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*cacheEntry)
		if now.Sub(e.insertedAt) > c.ttl {
			continue
		}
		records = append(records, snapshotRecord{Op: e.key.op, Hash: e.key.hash, Value: e.value, InsertedAt: e.insertedAt})
	}
	return gob.NewEncoder(w).Encode(records)
}

// LoadFrom replaces the cache contents with the snapshot read from r.
// Entries already expired relative to now are dropped on load.
func (c *cache) LoadFrom(r io.Reader) error {
	var records []snapshotRecord
	if err := gob.NewDecoder(r).Decode(&records); err != nil {
		return err
	}
	c.purge()
	now := c.now()
	for _, rec := range records {
		if now.Sub(rec.InsertedAt) > c.ttl {
			continue
		}
		key := cacheKey{op: rec.Op, hash: rec.Hash}
		entry := &cacheEntry{key: key, value: rec.Value, insertedAt: rec.InsertedAt}
		el := c.order.PushFront(entry)
		c.entries[key] = el
	}
	return nil
}
