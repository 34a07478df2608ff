package civd

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// SchemaVersionPacket tags every VolumePacket this package produces.
const SchemaVersionPacket = "civd.packet.v1"

// VolumePacket is the canonical query result: a dense ROI-local float32
// array plus the metadata needed to interpret and re-derive it.
type VolumePacket struct {
	SchemaVersion string
	Time          string
	Mode          QueryMode
	ROI           ROI
	ShapeZYXC     [4]int
	TileSize      int
	Channels      []string
	TilesTotal    int
	TilesIncluded int
	BytesRead     int64
	DecodeMS      float64
	Volume        []float32
	TileMask      *roaring64.Bitmap
	Meta          map[string]any
}

// ApplyDelta merges a delta-mode packet onto a full-mode packet, per the v1
// overwrite rule: a delta voxel overwrites the base voxel wherever the
// delta value is non-zero. A true zero in the delta can never overwrite a
// non-zero base value under this rule; that is a documented v1 limitation,
// not something this function works around.
func ApplyDelta(full, delta *VolumePacket) (*VolumePacket, error) {
	if full.ShapeZYXC != delta.ShapeZYXC {
		return nil, newErr(KindMismatchedPackets, fmt.Errorf(
			"shape mismatch: full %v vs delta %v", full.ShapeZYXC, delta.ShapeZYXC))
	}
	if full.ROI != delta.ROI {
		return nil, newErr(KindMismatchedPackets, fmt.Errorf("ROI mismatch between full and delta packets"))
	}
	if !stringSlicesEqual(full.Channels, delta.Channels) {
		return nil, newErr(KindMismatchedPackets, fmt.Errorf(
			"channels mismatch: full %v vs delta %v", full.Channels, delta.Channels))
	}
	if len(full.Volume) != len(delta.Volume) {
		return nil, newErr(KindMismatchedPackets, fmt.Errorf(
			"volume length mismatch: full %d vs delta %d", len(full.Volume), len(delta.Volume)))
	}

	merged := make([]float32, len(full.Volume))
	copy(merged, full.Volume)
	for i, v := range delta.Volume {
		if v != 0 {
			merged[i] = v
		}
	}

	out := *full
	out.Volume = merged
	out.Mode = ModeFull
	return &out, nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
