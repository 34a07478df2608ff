package civd

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"golang.org/x/sync/errgroup"
)

// QueryMode selects whether a query returns every tile in the ROI (full) or
// only tiles whose payload is local at this snapshot, i.e. changed since
// whatever snapshot they were last written against (delta).
type QueryMode string

const (
	ModeFull  QueryMode = "full"
	ModeDelta QueryMode = "delta"
)

func (m QueryMode) valid() bool { return m == ModeFull || m == ModeDelta }

// World is the query engine: it owns the storage root and resolves
// snapshot names to their parsed index + bucket, decoding ROI queries by
// fanning tile decode work out across an errgroup once a handful of tiles
// are involved.
type World struct {
	root   string
	bucket Bucket

	mu        sync.Mutex
	indexes   map[string]*Index
	fanoutMin int
}

// OpenWorld opens a storage root (local path or bucket URL) for querying.
func OpenWorld(ctx context.Context, root string) (*World, error) {
	bucket, err := OpenBucket(ctx, root)
	if err != nil {
		return nil, err
	}
	return &World{
		root:      root,
		bucket:    bucket,
		indexes:   make(map[string]*Index),
		fanoutMin: 8,
	}, nil
}

func (w *World) Close() error { return w.bucket.Close() }

func (w *World) snapshotDirKey(name string) string {
	return NormalizeKey("data", "civd_time", name)
}

// ResolveIndex implements SnapshotResolver: it loads (and caches) the named
// snapshot's index and returns the bucket+pack key its local entries live
// under.
func (w *World) ResolveIndex(ctx context.Context, name string) (*Index, Bucket, string, error) {
	idx, err := w.loadIndex(ctx, name)
	if err != nil {
		return nil, nil, "", err
	}
	packKey := NormalizeKey(w.snapshotDirKey(name), idx.PackPath)
	return idx, w.bucket, packKey, nil
}

func (w *World) loadIndex(ctx context.Context, name string) (*Index, error) {
	w.mu.Lock()
	if idx, ok := w.indexes[name]; ok {
		w.mu.Unlock()
		return idx, nil
	}
	w.mu.Unlock()

	key := NormalizeKey(w.snapshotDirKey(name), "index.json")
	// index.json is small; read it whole rather than through readSlice's
	// offset/length contract, which exists for pack frames, not directory
	// metadata.
	data, err := readWholeFile(ctx, w.bucket, key)
	if err != nil {
		return nil, newErr(KindIO, err).withSnapshot(name)
	}
	idx, err := ParseIndex(data)
	if err != nil {
		return nil, wrapWithSnapshot(err, name)
	}

	w.mu.Lock()
	w.indexes[name] = idx
	w.mu.Unlock()
	return idx, nil
}

func wrapWithSnapshot(err error, name string) error {
	if e, ok := err.(*Error); ok {
		return e.withSnapshot(name)
	}
	return err
}

// Meta describes a snapshot's shape without decoding any tiles.
type Meta struct {
	SchemaVersion string
	ShapeZYXC     [4]int
	TileSize      int
	PackPath      string
	Channels      int
}

func (w *World) Meta(ctx context.Context, snapshot string) (Meta, error) {
	idx, err := w.loadIndex(ctx, snapshot)
	if err != nil {
		return Meta{}, err
	}
	return Meta{
		SchemaVersion: idx.SchemaVersion,
		ShapeZYXC:     idx.ShapeZYXC,
		TileSize:      idx.TileSize,
		PackPath:      idx.PackPath,
		Channels:      idx.ShapeZYXC[3],
	}, nil
}

// Query resolves an ROI against a snapshot, stitching decoded tiles into a
// dense ROI-local VolumePacket. In delta mode, tiles whose payload is a
// reference (unchanged since an earlier snapshot) are skipped entirely.
func (w *World) Query(ctx context.Context, snapshot string, roi ROI, mode QueryMode, channels []int, cache *TileCache) (*VolumePacket, error) {
	if !mode.valid() {
		return nil, newErr(KindInvalidMode, fmt.Errorf("mode %q not in {full,delta}", mode))
	}

	idx, err := w.loadIndex(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	clamped := ClampROI(roi, idx.ShapeZYXC)
	ids := ROITileIDs(clamped, idx.TileSize)

	if len(channels) == 0 {
		channels = allChannels(idx.ShapeZYXC[3])
	}

	packKey := NormalizeKey(w.snapshotDirKey(snapshot), idx.PackPath)
	store := NewTileStore(w.bucket, packKey, idx.TileSize, idx.ShapeZYXC[3], w)

	type tileResult struct {
		coord TileCoord
		entry *TileEntry
		raw   []byte
		stats ReadStats
	}

	included := make([]*TileEntry, 0, len(ids))
	for _, c := range ids {
		entry := idx.FindByID(c.ID())
		if entry == nil {
			return nil, newErr(KindSchema, fmt.Errorf("tile %s missing from index", c.ID())).withSnapshot(snapshot)
		}
		if mode == ModeDelta && entry.Kind == PayloadReference {
			continue
		}
		included = append(included, entry)
	}

	shape := clamped.shape()
	out := make([]float32, shape[0]*shape[1]*shape[2]*len(channels))

	results := make([]tileResult, len(included))
	start := time.Now()

	decodeOne := func(dctx context.Context, i int) error {
		entry := included[i]
		raw, stats, err := decodeTileViaCache(dctx, store, cache, snapshot, entry)
		if err != nil {
			return err
		}
		results[i] = tileResult{entry: entry, raw: raw, stats: stats}
		return nil
	}

	if len(included) >= w.fanoutMin {
		g, gctx := errgroup.WithContext(ctx)
		for i := range included {
			i := i
			g.Go(func() error { return decodeOne(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range included {
			if err := decodeOne(ctx, i); err != nil {
				return nil, err
			}
		}
	}

	var bytesRead int64
	var decodeTime time.Duration
	mask := roaring64.New()

	for _, r := range results {
		isect, ok := Intersect(tileBoundsOf(r.entry), clamped)
		if !ok {
			continue
		}
		copyIntersection(out, r.raw, shape, idx.TileSize, len(channels), idx.ShapeZYXC[3], channels, isect)
		bytesRead += r.stats.BytesRead
		decodeTime += r.stats.DecodeTime
		mask.Add(tileOrdinal(r.entry.TileID))
	}

	pkt := &VolumePacket{
		SchemaVersion: SchemaVersionPacket,
		Time:          snapshot,
		Mode:          mode,
		ROI:           clamped,
		ShapeZYXC:     [4]int{shape[0], shape[1], shape[2], len(channels)},
		TileSize:      idx.TileSize,
		Channels:      channelNames(channels),
		TilesTotal:    len(ids),
		TilesIncluded: len(included),
		BytesRead:     bytesRead,
		DecodeMS:      float64(time.Since(start).Microseconds()) / 1000.0,
		Volume:        out,
		TileMask:      mask,
	}
	return pkt, nil
}

func tileBoundsOf(e *TileEntry) [6]int { return e.BoundsZYX }

func tileOrdinal(tileID string) uint64 {
	var tz, ty, tx int
	fmt.Sscanf(tileID, "z%d_y%d_x%d", &tz, &ty, &tx)
	return uint64(tz)<<42 | uint64(ty)<<21 | uint64(tx)
}

func allChannels(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func channelNames(channels []int) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = fmt.Sprintf("c%d", c)
	}
	return out
}

// copyIntersection copies the overlapping region between a decoded tile
// buffer (tileSize^3 voxels, srcChannels each, C order z,y,x,c) and the
// ROI-local output buffer (dstShape voxels, dstChannels each), selecting
// only the requested channel indices.
func copyIntersection(dst []float32, rawTile []byte, dstShape [3]int, tileSize, dstChannels, srcChannels int, channelIdx []int, isect Intersection) {
	dz := isect.SrcHi[0] - isect.SrcLo[0]
	dy := isect.SrcHi[1] - isect.SrcLo[1]
	dx := isect.SrcHi[2] - isect.SrcLo[2]

	for z := 0; z < dz; z++ {
		for y := 0; y < dy; y++ {
			for x := 0; x < dx; x++ {
				srcZ, srcY, srcX := isect.SrcLo[0]+z, isect.SrcLo[1]+y, isect.SrcLo[2]+x
				dstZ, dstY, dstX := isect.DstLo[0]+z, isect.DstLo[1]+y, isect.DstLo[2]+x

				srcVoxel := (srcZ*tileSize+srcY)*tileSize + srcX
				dstVoxel := (dstZ*dstShape[1]+dstY)*dstShape[2] + dstX

				for ci, c := range channelIdx {
					floatIdx := srcVoxel*srcChannels + c
					dstIdx := dstVoxel*dstChannels + ci
					dst[dstIdx] = readFloat32LE(rawTile, floatIdx*4)
				}
			}
		}
	}
}

func readFloat32LE(b []byte, off int) float32 {
	bits := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	return math.Float32frombits(bits)
}

func readWholeFile(ctx context.Context, bucket Bucket, key string) ([]byte, error) {
	if fb, ok := bucket.(FileBucket); ok {
		return os.ReadFile(filepath.Join(fb.Root, filepath.FromSlash(key)))
	}
	// Remote buckets: probe a generously large range read; small metadata
	// files are never close to this size.
	const probe = 8 << 20
	return bucket.ReadSlice(ctx, key, 0, probe)
}
