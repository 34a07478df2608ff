package civd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/schollz/progressbar/v3"
)

// WriterStats are the running counters a snapshot write reports back.
type WriterStats struct {
	ChangedTiles   int
	UnchangedTiles int
	BytesWritten   int64
}

// WriteSnapshot builds a new snapshot pack+index from a dense source volume,
// deduplicating against an optional base index: a tile whose content hash
// matches the base's tile at the same id is emitted as a reference instead
// of being recompressed and appended.
//
// The volume is supplied as a VolumeReader so callers can stream a tile's
// bytes out of an arbitrarily large source without holding the whole
// 4-D array resident; civd itself only needs a contiguous per-tile view.
func WriteSnapshot(volume VolumeReader, outDir, snapshotName string, tileSize, codecLevel int, base *Index, baseSnapshotName string, logger *log.Logger) (*Index, WriterStats, error) {
	shape := volume.ShapeZYXC()
	if shape[0]%tileSize != 0 || shape[1]%tileSize != 0 || shape[2]%tileSize != 0 {
		return nil, WriterStats{}, newErr(KindShape, fmt.Errorf(
			"volume shape %v not divisible by tile_size %d", shape, tileSize))
	}

	baseHash := map[string][32]byte{}
	baseEntry := map[string]*TileEntry{}
	if base != nil {
		for i := range base.Tiles {
			t := &base.Tiles[i]
			baseHash[t.TileID] = t.Hash
			baseEntry[t.TileID] = t
		}
	}

	snapDir := filepath.Join(outDir, snapshotName)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return nil, WriterStats{}, newErr(KindIO, err).withPack(snapDir)
	}
	packPath := filepath.Join(snapDir, "tiles.zstpack")
	packFile, err := os.Create(packPath)
	if err != nil {
		return nil, WriterStats{}, newErr(KindIO, err).withPack(packPath)
	}
	defer packFile.Close()

	coords := gridCoords(shape, tileSize)
	var bar *progressbar.ProgressBar
	if logger != nil && isTerminalWriter(logger.Writer()) {
		bar = progressbar.Default(int64(len(coords)), fmt.Sprintf("writing %s", snapshotName))
	}

	idx := &Index{
		SchemaVersion: SchemaVersionIndex,
		ShapeZYXC:     shape,
		TileSize:      tileSize,
		PackPath:      "tiles.zstpack",
		Tiles:         make([]TileEntry, 0, len(coords)),
		byID:          make(map[string]*TileEntry, len(coords)),
	}

	var stats WriterStats
	var offset int64
	// localByFastHash lets repeated bit-identical tiles within one snapshot
	// (background/empty tiles are the common case) reuse an already-written
	// offset instead of re-compressing: a cheap xxhash lookup ahead of the
	// authoritative SHA-256 compare, same shortcut the teacher's writer
	// takes with fnv64a before trusting a hash-to-offset map.
	type fastHit struct {
		local LocalPayload
		sum   [32]byte
	}
	localByFastHash := map[uint64]fastHit{}

	for _, c := range coords {
		id := c.ID()
		bounds := boundsFor(c.TZ, c.TY, c.TX, tileSize)

		raw, err := volume.ReadTile(c.TZ, c.TY, c.TX, tileSize)
		if err != nil {
			return nil, stats, newErr(KindIO, err).withTile(id)
		}

		fast := xxhash.Sum64(raw)
		sum := sha256.Sum256(raw)

		entry := TileEntry{
			TileID:    id,
			BoundsZYX: bounds,
			ShapeZYXC: [4]int{tileSize, tileSize, tileSize, shape[3]},
			Codec:     Codec{Name: "zstd", Level: codecLevel},
			Hash:      sum,
			HashHex:   hex.EncodeToString(sum[:]),
		}

		basePrior, fromBase := baseHash[id]
		reused, fromLocal := localByFastHash[fast]
		fromLocal = fromLocal && reused.sum == sum

		switch {
		case fromBase && basePrior == sum:
			ref := baseEntry[id]
			entry.Kind = PayloadReference
			entry.Reference = flattenReference(*ref, baseSnapshotName)
			stats.UnchangedTiles++

		case fromLocal:
			entry.Kind = PayloadLocal
			entry.Local = reused.local
			stats.UnchangedTiles++

		default:
			comp, err := encodeTile(raw, codecLevel)
			if err != nil {
				return nil, stats, newErr(KindIO, err).withTile(id)
			}
			if _, err := packFile.Write(comp); err != nil {
				return nil, stats, newErr(KindIO, err).withTile(id).withPack(packPath)
			}
			entry.Kind = PayloadLocal
			entry.Local = LocalPayload{Offset: offset, Length: int64(len(comp))}
			localByFastHash[fast] = fastHit{local: entry.Local, sum: sum}
			offset += int64(len(comp))
			stats.ChangedTiles++
			stats.BytesWritten += int64(len(comp))
		}

		idx.Tiles = append(idx.Tiles, entry)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	for i := range idx.Tiles {
		idx.byID[idx.Tiles[i].TileID] = &idx.Tiles[i]
	}

	if err := writeIndexAtomic(snapDir, idx); err != nil {
		return nil, stats, err
	}

	return idx, stats, nil
}

// flattenReference never emits a reference-to-reference: if the base tile
// was itself a reference, the new entry points at the base's base directly
// (depth 1), exactly matching the base's own resolved payload.
func flattenReference(base TileEntry, baseSnapshotName string) ReferencePayload {
	if base.Kind == PayloadReference {
		return base.Reference
	}
	return ReferencePayload{
		Offset:        base.Local.Offset,
		Length:        base.Local.Length,
		BaseTimestamp: baseSnapshotName,
	}
}

// writeIndexAtomic serializes idx to index.json via a temp file in the same
// directory followed by rename, so a reader never observes a half-written
// index: a snapshot is visible iff its index.json exists and parses.
func writeIndexAtomic(snapDir string, idx *Index) error {
	data, err := json.MarshalIndent(marshalIndex(idx), "", "  ")
	if err != nil {
		return newErr(KindSchema, err)
	}

	tmp, err := os.CreateTemp(snapDir, "index-*.json.tmp")
	if err != nil {
		return newErr(KindIO, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return newErr(KindIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return newErr(KindIO, err)
	}
	finalPath := filepath.Join(snapDir, "index.json")
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return newErr(KindIO, err).withPack(finalPath)
	}
	return nil
}

func gridCoords(shapeZYXC [4]int, tileSize int) []TileCoord {
	nz, ny, nx := shapeZYXC[0]/tileSize, shapeZYXC[1]/tileSize, shapeZYXC[2]/tileSize
	coords := make([]TileCoord, 0, nz*ny*nx)
	for tz := 0; tz < nz; tz++ {
		for ty := 0; ty < ny; ty++ {
			for tx := 0; tx < nx; tx++ {
				coords = append(coords, TileCoord{tz, ty, tx})
			}
		}
	}
	return coords
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
