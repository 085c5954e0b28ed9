package actor

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepkey/keepkey-bitcoin-only-sub006/pkg/keepkey"
)

func TestCacheMissThenHit(t *testing.T) {
	c := newCache(4, time.Minute)
	p := keepkey.GetFeaturesParams{}

	_, ok := c.get(p)
	assert.False(t, ok)

	c.put(p, "features-value")
	v, ok := c.get(p)
	assert.True(t, ok)
	assert.Equal(t, "features-value", v)
}

func TestCacheDistinguishesParamsByHash(t *testing.T) {
	c := newCache(4, time.Minute)
	a := keepkey.GetAddressParams{Path: []uint32{0}, Coin: "Bitcoin"}
	b := keepkey.GetAddressParams{Path: []uint32{1}, Coin: "Bitcoin"}

	c.put(a, "addr-a")
	c.put(b, "addr-b")

	va, _ := c.get(a)
	vb, _ := c.get(b)
	assert.Equal(t, "addr-a", va)
	assert.Equal(t, "addr-b", vb)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := newCache(4, time.Second)
	fake := time.Now()
	c.now = func() time.Time { return fake }

	p := keepkey.GetFeaturesParams{}
	c.put(p, "v1")

	fake = fake.Add(2 * time.Second)
	_, ok := c.get(p)
	assert.False(t, ok)
}

func TestCacheEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := newCache(2, time.Minute)
	p1 := keepkey.GetAddressParams{Path: []uint32{1}}
	p2 := keepkey.GetAddressParams{Path: []uint32{2}}
	p3 := keepkey.GetAddressParams{Path: []uint32{3}}

	c.put(p1, "v1")
	c.put(p2, "v2")
	c.get(p1) // touch p1 so p2 becomes the LRU victim
	c.put(p3, "v3")

	_, ok1 := c.get(p1)
	_, ok2 := c.get(p2)
	_, ok3 := c.get(p3)
	assert.True(t, ok1)
	assert.False(t, ok2, "p2 should have been evicted as least recently used")
	assert.True(t, ok3)
}

func TestCachePurgeEmptiesEverything(t *testing.T) {
	c := newCache(4, time.Minute)
	c.put(keepkey.GetFeaturesParams{}, "v")
	c.purge()

	_, ok := c.get(keepkey.GetFeaturesParams{})
	assert.False(t, ok)
}

func TestCacheSnapshotRoundTrip(t *testing.T) {
	src := newCache(4, time.Minute)
	src.put(keepkey.GetFeaturesParams{}, "features-value")
	src.put(keepkey.GetAddressParams{Path: []uint32{1}}, "1BitcoinAddress")

	var buf bytes.Buffer
	require.NoError(t, src.SnapshotTo(&buf))

	dst := newCache(4, time.Minute)
	require.NoError(t, dst.LoadFrom(&buf))

	v, ok := dst.get(keepkey.GetFeaturesParams{})
	require.True(t, ok)
	assert.Equal(t, "features-value", v)

	v2, ok := dst.get(keepkey.GetAddressParams{Path: []uint32{1}})
	require.True(t, ok)
	assert.Equal(t, "1BitcoinAddress", v2)
}

func TestCacheSnapshotDropsExpiredEntriesOnLoad(t *testing.T) {
	src := newCache(4, time.Second)
	fake := time.Now()
	src.now = func() time.Time { return fake }
	src.put(keepkey.GetFeaturesParams{}, "stale-value")

	var buf bytes.Buffer
	require.NoError(t, src.SnapshotTo(&buf))

	dst := newCache(4, time.Second)
	fake = fake.Add(2 * time.Second)
	dst.now = func() time.Time { return fake }
	require.NoError(t, dst.LoadFrom(&buf))

	_, ok := dst.get(keepkey.GetFeaturesParams{})
	assert.False(t, ok, "entries older than the TTL must not survive a load")
}
