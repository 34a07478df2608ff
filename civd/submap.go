package civd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersionSubmap tags every submap manifest this package produces.
const SchemaVersionSubmap = "civd.submap.v1"

// SubmapSidecar is the portable container carrying the decoded tile stack
// for a submap export: stacked tiles, per-tile bounds, and the ROI they
// were cut from. ExportSubmap serializes this as a plain JSON sidecar
// (".civdsub.json") rather than a binary npz — there is no Python numpy runtime
// on this side, and the manifest already carries every shape needed to
// reinterpret the stack.
type SubmapSidecar struct {
	SnapshotName string    `json:"snapshot"`
	Mode         QueryMode `json:"mode"`
	TileIDs      []string  `json:"tile_ids"`
	TileBounds   [][6]int  `json:"tile_bounds_zyx"`
	ROI          [6]int    `json:"roi"`
	TileSize     int       `json:"tile_size"`
	Channels     int       `json:"channels"`
	// Tiles holds one flattened float32 buffer per included tile, in the
	// same order as TileIDs/TileBounds.
	Tiles [][]float32 `json:"tiles"`
}

// SubmapManifest is the civd.submap.v1 sidecar-pair manifest.
type SubmapManifest struct {
	SchemaVersion string    `json:"schema_version"`
	Time          string    `json:"time"`
	Mode          QueryMode `json:"mode"`
	ROI           roiJSON   `json:"roi"`
	ShapeZYXC     [4]int    `json:"shape_zyxc"`
	TileSize      int       `json:"tile_size"`
	TilesTotal    int       `json:"tiles_total"`
	TilesIncluded int       `json:"tiles_included"`
	BytesNPZ      int64     `json:"bytes_npz"`
	DecodeMS      float64   `json:"decode_ms"`
	SidecarPath   string    `json:"npz_path"`
	SourceIndex   string    `json:"source_index"`
	Channels      []string  `json:"channels"`
}

type roiJSON struct {
	Z0 int `json:"z0"`
	Z1 int `json:"z1"`
	Y0 int `json:"y0"`
	Y1 int `json:"y1"`
	X0 int `json:"x0"`
	X1 int `json:"x1"`
}

func roiToJSON(r ROI) roiJSON {
	return roiJSON{r.Z0, r.Z1, r.Y0, r.Y1, r.X0, r.X1}
}

// QuerySubmap runs an ROI query against snapshot and decodes the per-tile
// sidecar alongside it, without writing anything to disk. The bridge
// server and ExportSubmap both build on this; they differ only in how they
// name and place the resulting files.
func QuerySubmap(ctx context.Context, world *World, snapshot string, center [3]int, radius int, mode QueryMode) (*SubmapSidecar, *SubmapManifest, error) {
	if !mode.valid() {
		return nil, nil, newErr(KindInvalidMode, fmt.Errorf("mode %q not in {full,delta}", mode))
	}

	meta, err := world.Meta(ctx, snapshot)
	if err != nil {
		return nil, nil, err
	}
	roi := ClampROI(ROIFromCenterRadius(center[0], center[1], center[2], radius), meta.ShapeZYXC)

	start := time.Now()
	pkt, err := world.Query(ctx, snapshot, roi, mode, nil, nil)
	if err != nil {
		return nil, nil, err
	}

	sidecar, err := buildSidecar(ctx, world, snapshot, pkt, roi, meta)
	if err != nil {
		return nil, nil, err
	}

	manifest := &SubmapManifest{
		SchemaVersion: SchemaVersionSubmap,
		Time:          snapshot,
		Mode:          mode,
		ROI:           roiToJSON(roi),
		ShapeZYXC:     meta.ShapeZYXC,
		TileSize:      meta.TileSize,
		TilesTotal:    pkt.TilesTotal,
		TilesIncluded: pkt.TilesIncluded,
		DecodeMS:      float64(time.Since(start).Microseconds()) / 1000.0,
		SourceIndex:   NormalizeKey(world.snapshotDirKey(snapshot), "index.json"),
		Channels:      pkt.Channels,
	}
	return sidecar, manifest, nil
}

// ExportSubmap runs QuerySubmap and writes the resulting manifest + sidecar
// pair into outDir, named
// "civd_submap_{snapshot}_{mode}_z{cz}_y{cy}_x{cx}_r{radius}". It returns
// the manifest.
func ExportSubmap(ctx context.Context, world *World, snapshot string, center [3]int, radius int, mode QueryMode, outDir string) (*SubmapManifest, error) {
	sidecar, manifest, err := QuerySubmap(ctx, world, snapshot, center, radius, mode)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, newErr(KindIO, err).withPack(outDir)
	}
	base := fmt.Sprintf("civd_submap_%s_%s_z%d_y%d_x%d_r%d", snapshot, mode, center[0], center[1], center[2], radius)
	sidecarPath := filepath.Join(outDir, base+".civdsub.json")
	manifestPath := filepath.Join(outDir, base+".json")

	sidecarBytes, err := json.Marshal(sidecar)
	if err != nil {
		return nil, newErr(KindSchema, err)
	}
	if err := os.WriteFile(sidecarPath, sidecarBytes, 0o644); err != nil {
		return nil, newErr(KindIO, err).withPack(sidecarPath)
	}

	manifest.BytesNPZ = int64(len(sidecarBytes))
	manifest.SidecarPath = sidecarPath

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, newErr(KindSchema, err)
	}
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return nil, newErr(KindIO, err).withPack(manifestPath)
	}

	return manifest, nil
}

// buildSidecar decodes each tile in the ROI a second time (undecorated by
// the stitched ROI buffer the main query already produced) so the sidecar
// carries per-tile slabs rather than one fused array, matching the wire
// contract a pub/sub consumer expects.
func buildSidecar(ctx context.Context, world *World, snapshot string, pkt *VolumePacket, roi ROI, meta Meta) (*SubmapSidecar, error) {
	idx, err := world.loadIndex(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	packKey := NormalizeKey(world.snapshotDirKey(snapshot), idx.PackPath)
	store := NewTileStore(world.bucket, packKey, idx.TileSize, idx.ShapeZYXC[3], world)

	sc := &SubmapSidecar{
		SnapshotName: snapshot,
		Mode:         pkt.Mode,
		ROI:          [6]int{roi.Z0, roi.Z1, roi.Y0, roi.Y1, roi.X0, roi.X1},
		TileSize:     meta.TileSize,
		Channels:     meta.Channels,
	}

	for _, c := range ROITileIDs(roi, idx.TileSize) {
		entry := idx.FindByID(c.ID())
		if entry == nil {
			return nil, newErr(KindSchema, fmt.Errorf("tile %s missing from index", c.ID())).withSnapshot(snapshot)
		}
		if pkt.Mode == ModeDelta && entry.Kind == PayloadReference {
			continue
		}
		raw, _, err := store.Decode(ctx, entry)
		if err != nil {
			return nil, err
		}
		sc.TileIDs = append(sc.TileIDs, entry.TileID)
		sc.TileBounds = append(sc.TileBounds, entry.BoundsZYX)
		sc.Tiles = append(sc.Tiles, bytesToFloat32(raw))
	}

	return sc, nil
}

func bytesToFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = readFloat32LE(raw, i*4)
	}
	return out
}

// ReconstructROI rebuilds a dense ROI-local VolumePacket from a submap
// sidecar + manifest pair, stitching per-tile slabs back together with the
// same tile/ROI intersection math World.Query uses (see civd/geometry.go's
// Intersect). This is the reverse of QuerySubmap/ExportSubmap: exporting a
// submap and reconstructing it reproduces the ROI bytes of the equivalent
// mode=full query.
func ReconstructROI(sidecar *SubmapSidecar, manifest *SubmapManifest) (*VolumePacket, error) {
	if len(sidecar.TileIDs) != len(sidecar.Tiles) || len(sidecar.TileIDs) != len(sidecar.TileBounds) {
		return nil, newErr(KindMismatchedPackets, fmt.Errorf(
			"sidecar tile_ids/tile_bounds/tiles length mismatch: %d/%d/%d",
			len(sidecar.TileIDs), len(sidecar.TileBounds), len(sidecar.Tiles)))
	}

	roi := ROI{sidecar.ROI[0], sidecar.ROI[1], sidecar.ROI[2], sidecar.ROI[3], sidecar.ROI[4], sidecar.ROI[5]}
	shape := roi.shape()
	channels := sidecar.Channels
	out := make([]float32, shape[0]*shape[1]*shape[2]*channels)

	for i, bounds := range sidecar.TileBounds {
		isect, ok := Intersect(bounds, roi)
		if !ok {
			continue
		}
		if err := copyIntersectionFromFloats(out, sidecar.Tiles[i], shape, sidecar.TileSize, channels, isect); err != nil {
			return nil, newErr(KindCorruptTile, err).withTile(sidecar.TileIDs[i])
		}
	}

	pkt := &VolumePacket{
		SchemaVersion: SchemaVersionPacket,
		Time:          sidecar.SnapshotName,
		Mode:          sidecar.Mode,
		ROI:           roi,
		ShapeZYXC:     [4]int{shape[0], shape[1], shape[2], channels},
		TileSize:      sidecar.TileSize,
		Channels:      manifest.Channels,
		TilesTotal:    manifest.TilesTotal,
		TilesIncluded: manifest.TilesIncluded,
		Volume:        out,
	}
	return pkt, nil
}

// copyIntersectionFromFloats is copyIntersection's counterpart for a tile
// that is already a decoded []float32 slab (the sidecar's representation)
// rather than a raw compressed byte buffer, covering every channel.
func copyIntersectionFromFloats(dst []float32, tile []float32, dstShape [3]int, tileSize, channels int, isect Intersection) error {
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

				srcBase, dstBase := srcVoxel*channels, dstVoxel*channels
				if srcBase+channels > len(tile) {
					return fmt.Errorf("tile slab too short: need %d floats, have %d", srcBase+channels, len(tile))
				}
				copy(dst[dstBase:dstBase+channels], tile[srcBase:srcBase+channels])
			}
		}
	}
	return nil
}

// VerifySubmapV1 validates a parsed manifest against the same shape rules
// VerifyIndexV1 applies to index.json.
func VerifySubmapV1(m *SubmapManifest) error {
	if m.SchemaVersion != SchemaVersionSubmap {
		return newErr(KindSchema, fmt.Errorf("schema_version must be %q, got %q", SchemaVersionSubmap, m.SchemaVersion))
	}
	if m.Time == "" {
		return newErr(KindSchema, fmt.Errorf("time must be non-empty"))
	}
	if m.Mode != ModeFull && m.Mode != ModeDelta {
		return newErr(KindInvalidMode, fmt.Errorf("mode must be 'full' or 'delta', got %q", m.Mode))
	}
	for i, d := range m.ShapeZYXC {
		if d <= 0 {
			return newErr(KindShape, fmt.Errorf("shape_zyxc[%d] must be positive, got %d", i, d))
		}
	}
	if m.TileSize <= 0 {
		return newErr(KindSchema, fmt.Errorf("tile_size must be positive"))
	}
	if m.TilesTotal <= 0 || m.TilesIncluded <= 0 {
		return newErr(KindSchema, fmt.Errorf("tiles_total and tiles_included must be positive"))
	}
	if m.TilesIncluded > m.TilesTotal {
		return newErr(KindSchema, fmt.Errorf("tiles_included %d exceeds tiles_total %d", m.TilesIncluded, m.TilesTotal))
	}
	if m.SidecarPath == "" {
		return newErr(KindSchema, fmt.Errorf("npz_path must be non-empty"))
	}
	if m.SourceIndex == "" {
		return newErr(KindSchema, fmt.Errorf("source_index must be non-empty"))
	}
	if len(m.Channels) == 0 {
		return newErr(KindSchema, fmt.Errorf("channels must be a non-empty list"))
	}
	return nil
}
