package civd

import (
	"context"
	"time"
)

// Stream binds a World to one tile cache across a series of queries against
// a single snapshot, accumulating StreamStats as it goes. Reusing a Stream
// across queries against different snapshots is safe (the cache is scoped
// by snapshot), but StreamStats then describes work across all of them.
type Stream struct {
	world    *World
	cache    *TileCache
	snapshot string
	stats    StreamStats
}

// NewStream opens a cache-backed stream session against one snapshot.
func NewStream(world *World, snapshot string, cacheCapacity int) *Stream {
	return &Stream{
		world:    world,
		cache:    NewTileCache(cacheCapacity),
		snapshot: snapshot,
	}
}

// Query runs an ROI query through the stream's cache, recording hits and
// misses into the stream's running StreamStats.
func (s *Stream) Query(ctx context.Context, roi ROI, mode QueryMode, channels []int) (*VolumePacket, error) {
	before := s.cache.Len()
	pkt, err := s.world.Query(ctx, s.snapshot, roi, mode, channels, s.cache)
	if err != nil {
		return nil, err
	}

	after := s.cache.Len()
	newlyCached := after - before
	if newlyCached < 0 {
		newlyCached = 0
	}
	misses := newlyCached
	if misses > pkt.TilesIncluded {
		misses = pkt.TilesIncluded
	}
	hits := pkt.TilesIncluded - misses

	s.stats.Hits += hits
	s.stats.Misses += misses
	s.stats.BytesRead += pkt.BytesRead
	s.stats.DecodeTime += time.Duration(pkt.DecodeMS * float64(time.Millisecond))

	return pkt, nil
}

// UnloadRegion evicts any cached tile id intersecting roi.
func (s *Stream) UnloadRegion(roi ROI) {
	s.cache.UnloadROI(s.snapshot, roi)
}

// Retarget switches the stream onto a different snapshot, carrying forward
// every cached tile whose content hash is unchanged between the two
// snapshots. A subsequent query against the new snapshot then only misses on
// tiles that actually changed within the queried ROI.
func (s *Stream) Retarget(ctx context.Context, snapshot string) error {
	toIndex, _, _, err := s.world.ResolveIndex(ctx, snapshot)
	if err != nil {
		return err
	}
	s.cache.RetargetSnapshot(s.snapshot, snapshot, toIndex)
	s.snapshot = snapshot
	return nil
}

// Stats returns the stream's accumulated StreamStats.
func (s *Stream) Stats() StreamStats { return s.stats }
