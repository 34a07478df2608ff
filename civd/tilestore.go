package civd

import (
	"context"
	"fmt"
	"time"
)

// RefMode names which row of the decode dispatch table produced a tile's
// bytes, carried in ReadStats for diagnostics and tests.
type RefMode string

const (
	RefModeDirect    RefMode = "direct"
	RefModePackSlice RefMode = "pack_slice"
	RefModeTimeID    RefMode = "time_id"
)

// ReadStats describes the I/O cost of resolving one tile entry.
type ReadStats struct {
	BytesRead   int64
	DecodedLen  int
	RefMode     RefMode
	DecodeTime  time.Duration
}

// SnapshotResolver lets the Tile Store chase a {time_id} reference into
// another snapshot's index without the store needing to know how snapshot
// directories are laid out; World implements this.
type SnapshotResolver interface {
	// ResolveIndex returns the parsed index and the bucket+pack key to read
	// its local entries from, for the named snapshot.
	ResolveIndex(ctx context.Context, snapshotName string) (*Index, Bucket, string, error)
}

// TileStore decodes tile entries to dense float32 byte buffers, dispatching
// on payload kind exactly as the decode dispatch table specifies.
type TileStore struct {
	bucket   Bucket
	packKey  string
	tileSize int
	channels int
	resolver SnapshotResolver
}

// NewTileStore builds a store bound to one snapshot's pack and the resolver
// used to chase cross-snapshot references.
func NewTileStore(bucket Bucket, packKey string, tileSize, channels int, resolver SnapshotResolver) *TileStore {
	return &TileStore{bucket: bucket, packKey: packKey, tileSize: tileSize, channels: channels, resolver: resolver}
}

func (s *TileStore) tileByteLen() int {
	return s.tileSize * s.tileSize * s.tileSize * s.channels * 4
}

// Decode resolves entry to its decoded byte buffer plus read statistics,
// chasing at most one level of reference per the writer's depth-1
// guarantee.
func (s *TileStore) Decode(ctx context.Context, entry *TileEntry) ([]byte, ReadStats, error) {
	return s.decodeDepth(ctx, entry, 0)
}

func (s *TileStore) decodeDepth(ctx context.Context, entry *TileEntry, depth int) ([]byte, ReadStats, error) {
	if depth > 1 {
		return nil, ReadStats{}, newErr(KindDanglingRef, fmt.Errorf("reference chain deeper than 1")).withTile(entry.TileID)
	}

	switch entry.Kind {
	case PayloadLocal:
		return s.decodeSlice(ctx, s.bucket, s.packKey, entry.Local.Offset, entry.Local.Length, entry.TileID, RefModeDirect)

	case PayloadReference:
		ref := entry.Reference
		if ref.Length > 0 {
			bucket, packKey, err := s.resolveBaseBucket(ctx, ref)
			if err != nil {
				return nil, ReadStats{}, err
			}
			return s.decodeSlice(ctx, bucket, packKey, ref.Offset, ref.Length, entry.TileID, RefModePackSlice)
		}

		if ref.BaseTimestamp == "" {
			return nil, ReadStats{}, newErr(KindDanglingRef, fmt.Errorf("reference has neither offset/length nor base_timestamp")).withTile(entry.TileID)
		}
		if s.resolver == nil {
			return nil, ReadStats{}, newErr(KindDanglingRef, fmt.Errorf("time_id reference requires a resolver")).withTile(entry.TileID)
		}
		baseIdx, baseBucket, basePackKey, err := s.resolver.ResolveIndex(ctx, ref.BaseTimestamp)
		if err != nil {
			return nil, ReadStats{}, newErr(KindDanglingRef, err).withTile(entry.TileID).withSnapshot(ref.BaseTimestamp)
		}
		baseEntry := baseIdx.FindByID(entry.TileID)
		if baseEntry == nil {
			return nil, ReadStats{}, newErr(KindDanglingRef, fmt.Errorf("tile %s absent from base snapshot %s", entry.TileID, ref.BaseTimestamp))
		}
		baseStore := &TileStore{bucket: baseBucket, packKey: basePackKey, tileSize: s.tileSize, channels: s.channels}
		raw, stats, err := baseStore.decodeDepth(ctx, baseEntry, depth+1)
		if err != nil {
			return nil, ReadStats{}, err
		}
		stats.RefMode = RefModeTimeID
		return raw, stats, nil

	default:
		return nil, ReadStats{}, newErr(KindSchema, fmt.Errorf("unknown payload kind")).withTile(entry.TileID)
	}
}

func (s *TileStore) resolveBaseBucket(ctx context.Context, ref ReferencePayload) (Bucket, string, error) {
	if ref.BaseTimestamp != "" && s.resolver != nil {
		_, bucket, packKey, err := s.resolver.ResolveIndex(ctx, ref.BaseTimestamp)
		if err == nil {
			return bucket, packKey, nil
		}
	}
	if ref.BasePack != "" {
		return s.bucket, ref.BasePack, nil
	}
	return nil, "", newErr(KindDanglingRef, fmt.Errorf("reference names neither a resolvable base_timestamp nor base_pack"))
}

func (s *TileStore) decodeSlice(ctx context.Context, bucket Bucket, packKey string, offset, length int64, tileID string, mode RefMode) ([]byte, ReadStats, error) {
	comp, err := readSlice(ctx, bucket, packKey, offset, length)
	if err != nil {
		return nil, ReadStats{}, wrapWithTile(err, tileID)
	}

	start := time.Now()
	raw, err := decodeTile(comp, s.tileByteLen())
	decodeTime := time.Since(start)
	if err != nil {
		return nil, ReadStats{}, wrapWithTile(err, tileID)
	}

	return raw, ReadStats{
		BytesRead:  length,
		DecodedLen: len(raw),
		RefMode:    mode,
		DecodeTime: decodeTime,
	}, nil
}

func wrapWithTile(err error, tileID string) error {
	if e, ok := err.(*Error); ok {
		return e.withTile(tileID)
	}
	return err
}
