package civd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTileCacheGetPutBasic(t *testing.T) {
	c := NewTileCache(4)
	_, _, ok := c.get("t0", "z00_y00_x00")
	assert.False(t, ok)

	c.put("t0", "z00_y00_x00", []byte{1, 2, 3}, &TileEntry{TileID: "z00_y00_x00"})
	raw, entry, ok := c.get("t0", "z00_y00_x00")
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, raw)
	assert.Equal(t, "z00_y00_x00", entry.TileID)
}

func TestTileCacheScopedBySnapshot(t *testing.T) {
	c := NewTileCache(4)
	c.put("t0", "z00_y00_x00", []byte{1}, &TileEntry{})
	_, _, ok := c.get("t1", "z00_y00_x00")
	assert.False(t, ok)
}

func TestTileCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewTileCache(2)
	c.put("t0", "a", []byte{1}, &TileEntry{})
	c.put("t0", "b", []byte{2}, &TileEntry{})
	c.put("t0", "c", []byte{3}, &TileEntry{})

	assert.Equal(t, 2, c.Len())
	_, _, ok := c.get("t0", "a")
	assert.False(t, ok)
	_, _, ok = c.get("t0", "b")
	assert.True(t, ok)
	_, _, ok = c.get("t0", "c")
	assert.True(t, ok)
}

func TestTileCacheGetPromotesToFront(t *testing.T) {
	c := NewTileCache(2)
	c.put("t0", "a", []byte{1}, &TileEntry{})
	c.put("t0", "b", []byte{2}, &TileEntry{})
	c.get("t0", "a")
	c.put("t0", "c", []byte{3}, &TileEntry{})

	_, _, ok := c.get("t0", "b")
	assert.False(t, ok)
	_, _, ok = c.get("t0", "a")
	assert.True(t, ok)
}

func TestTileCacheUnloadROI(t *testing.T) {
	c := NewTileCache(4)
	c.put("t0", "z00_y00_x00", []byte{1}, &TileEntry{BoundsZYX: [6]int{0, 32, 0, 32, 0, 32}})
	c.put("t0", "z01_y00_x00", []byte{2}, &TileEntry{BoundsZYX: [6]int{32, 64, 0, 32, 0, 32}})

	c.UnloadROI("t0", ROI{0, 10, 0, 10, 0, 10})

	_, _, ok := c.get("t0", "z00_y00_x00")
	assert.False(t, ok)
	_, _, ok = c.get("t0", "z01_y00_x00")
	assert.True(t, ok)
}

func TestStreamStatsDecodeMS(t *testing.T) {
	s := StreamStats{DecodeTime: 2_500_000} // 2.5ms in nanoseconds
	assert.InDelta(t, 2.5, s.DecodeMS(), 0.001)
}

func TestNewTileCacheDefaultCapacity(t *testing.T) {
	c := NewTileCache(0)
	assert.Equal(t, DefaultCacheCapacity, c.capacity)
}
