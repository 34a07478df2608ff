package civd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamQueryTracksHitsAndMisses(t *testing.T) {
	root := t.TempDir()
	shape := [4]int{64, 32, 32, 1}
	vol := makeDenseVolume(shape, func(z, y, x, c int) float32 { return float32(z) })
	writeSnapshotForTest(t, root, "t0", vol, 32, nil, "")

	w, err := OpenWorld(context.Background(), root)
	require.NoError(t, err)
	defer w.Close()

	s := NewStream(w, "t0", 8)

	_, err = s.Query(context.Background(), ROI{0, 64, 0, 32, 0, 32}, ModeFull, nil)
	require.NoError(t, err)
	stats := s.Stats()
	assert.Equal(t, 0, stats.Hits)
	assert.Equal(t, 2, stats.Misses)

	_, err = s.Query(context.Background(), ROI{0, 64, 0, 32, 0, 32}, ModeFull, nil)
	require.NoError(t, err)
	stats = s.Stats()
	assert.Equal(t, 2, stats.Hits)
	assert.Equal(t, 2, stats.Misses)
}

func TestStreamRetargetCarriesUnchangedTilesForward(t *testing.T) {
	root := t.TempDir()
	shape := [4]int{64, 32, 32, 1}

	vol0 := makeDenseVolume(shape, func(z, y, x, c int) float32 { return float32(z) })
	idx0 := writeSnapshotForTest(t, root, "t0", vol0, 32, nil, "")

	// t1 changes only the second tile (z in [32,64)); the first tile's
	// content is byte-identical to t0's and should dedup to a reference.
	vol1 := makeDenseVolume(shape, func(z, y, x, c int) float32 {
		if z >= 32 {
			return float32(z) + 1
		}
		return float32(z)
	})
	writeSnapshotForTest(t, root, "t1", vol1, 32, idx0, "t0")

	w, err := OpenWorld(context.Background(), root)
	require.NoError(t, err)
	defer w.Close()

	roi := ROI{0, 64, 0, 32, 0, 32}
	s := NewStream(w, "t0", 8)

	_, err = s.Query(context.Background(), roi, ModeFull, nil)
	require.NoError(t, err)
	require.Equal(t, 2, s.Stats().Misses)

	require.NoError(t, s.Retarget(context.Background(), "t1"))

	pkt, err := s.Query(context.Background(), roi, ModeFull, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pkt.TilesIncluded)

	stats := s.Stats()
	// One tile out of two carried forward unchanged: hits == tiles_total -
	// changed_in_ROI == 2 - 1 == 1, the rest is the one genuinely new tile.
	assert.Equal(t, 1, stats.Hits)
	assert.Equal(t, 3, stats.Misses)
}

func TestStreamUnloadRegionForcesMiss(t *testing.T) {
	root := t.TempDir()
	vol := makeDenseVolume([4]int{32, 32, 32, 1}, func(z, y, x, c int) float32 { return 1 })
	writeSnapshotForTest(t, root, "t0", vol, 32, nil, "")

	w, err := OpenWorld(context.Background(), root)
	require.NoError(t, err)
	defer w.Close()

	s := NewStream(w, "t0", 8)
	_, err = s.Query(context.Background(), ROI{0, 32, 0, 32, 0, 32}, ModeFull, nil)
	require.NoError(t, err)

	s.UnloadRegion(ROI{0, 32, 0, 32, 0, 32})
	assert.Equal(t, 0, s.cache.Len())
}
