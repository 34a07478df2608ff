package civd

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const DefaultCacheCapacity = 128

// cacheKey scopes a cached tile to the snapshot it was decoded from: a
// stream only trusts cache hits from its own snapshot, since two snapshots
// can assign unrelated content to the same tile id.
type cacheKey struct {
	snapshot string
	tileID   string
}

type cacheEntry struct {
	key   cacheKey
	bytes []byte
	entry *TileEntry
}

// TileCache is a bounded, insertion-ordered LRU of decoded tile buffers,
// scoped by (snapshot, tileID). Get promotes to most-recently-used; Put
// evicts the least-recently-used entry once at capacity.
type TileCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[cacheKey]*list.Element
}

func NewTileCache(capacity int) *TileCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &TileCache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[cacheKey]*list.Element),
	}
}

func (c *TileCache) get(snapshot, tileID string) ([]byte, *TileEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{snapshot, tileID}
	el, ok := c.index[key]
	if !ok {
		return nil, nil, false
	}
	c.ll.MoveToFront(el)
	ent := el.Value.(*cacheEntry)
	return ent.bytes, ent.entry, true
}

func (c *TileCache) put(snapshot, tileID string, raw []byte, entry *TileEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{snapshot, tileID}
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).bytes = raw
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, bytes: raw, entry: entry})
	c.index[key] = el

	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.index, back.Value.(*cacheEntry).key)
	}
}

// UnloadROI evicts every cached tile of the given snapshot whose bounds
// intersect roi.
func (c *TileCache) UnloadROI(snapshot string, roi ROI) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for el := c.ll.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*cacheEntry)
		if ent.key.snapshot != snapshot {
			continue
		}
		if ent.entry == nil {
			continue
		}
		if _, ok := Intersect(ent.entry.BoundsZYX, roi); ok {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.ll.Remove(el)
		delete(c.index, el.Value.(*cacheEntry).key)
	}
}

// Len reports the number of tiles currently resident.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// RetargetSnapshot re-keys every tile cached under fromSnapshot whose content
// hash is unchanged in toIndex, carrying it forward to toSnapshot instead of
// leaving it to be evicted as dead weight. A tile absent from toIndex, or
// whose hash differs, is left keyed to fromSnapshot and ages out normally.
// Returns the number of tiles carried forward.
func (c *TileCache) RetargetSnapshot(fromSnapshot, toSnapshot string, toIndex *Index) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	carried := 0
	for el := c.ll.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*cacheEntry)
		if ent.key.snapshot != fromSnapshot {
			continue
		}
		newEntry := toIndex.FindByID(ent.key.tileID)
		if newEntry == nil || ent.entry == nil || newEntry.Hash != ent.entry.Hash {
			continue
		}
		delete(c.index, ent.key)
		ent.key = cacheKey{snapshot: toSnapshot, tileID: ent.key.tileID}
		ent.entry = newEntry
		c.index[ent.key] = el
		carried++
	}
	return carried
}

// StreamStats accumulates per-query cache performance: a hit costs zero
// bytes and zero decode time, a miss costs the tile entry's compressed
// length and the measured decompress time.
type StreamStats struct {
	Hits       int
	Misses     int
	BytesRead  int64
	DecodeTime time.Duration
}

func (s *StreamStats) DecodeMS() float64 {
	return float64(s.DecodeTime.Microseconds()) / 1000.0
}

// decodeTileViaCache resolves entry through cache (if non-nil) before
// falling back to the store, folding the result into the caller-visible
// ReadStats either way.
func decodeTileViaCache(ctx context.Context, store *TileStore, cache *TileCache, snapshot string, entry *TileEntry) ([]byte, ReadStats, error) {
	if cache != nil {
		if raw, _, ok := cache.get(snapshot, entry.TileID); ok {
			return raw, ReadStats{RefMode: RefModeDirect}, nil
		}
	}

	raw, stats, err := store.Decode(ctx, entry)
	if err != nil {
		return nil, ReadStats{}, err
	}
	if cache != nil {
		cache.put(snapshot, entry.TileID, raw, entry)
	}
	return raw, stats, nil
}
