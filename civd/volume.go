package civd

import (
	"fmt"
	"math"
)

// VolumeReader is the source-side contract the Writer consumes: a dense
// (Z,Y,X,C) float32 volume that can hand back one tile's contiguous,
// C-order byte buffer at a time without the writer needing to know how the
// volume is backed (in-memory array, memory-mapped file, lazily generated).
type VolumeReader interface {
	ShapeZYXC() [4]int
	// ReadTile returns the tile_size^3*C*4 little-endian float32 byte buffer
	// for grid coordinate (tz,ty,tx).
	ReadTile(tz, ty, tx, tileSize int) ([]byte, error)
}

// DenseVolume is an in-memory VolumeReader backing the common case: a fully
// materialised float32 slice in C order (Z outermost, C innermost).
type DenseVolume struct {
	Shape [4]int
	Data  []float32
}

func (v *DenseVolume) ShapeZYXC() [4]int { return v.Shape }

func (v *DenseVolume) ReadTile(tz, ty, tx, tileSize int) ([]byte, error) {
	z, y, x, c := v.Shape[0], v.Shape[1], v.Shape[2], v.Shape[3]
	z0, y0, x0 := tz*tileSize, ty*tileSize, tx*tileSize
	if z0+tileSize > z || y0+tileSize > y || x0+tileSize > x {
		return nil, fmt.Errorf("tile (%d,%d,%d) out of bounds for shape %v", tz, ty, tx, v.Shape)
	}

	out := make([]byte, tileSize*tileSize*tileSize*c*4)
	pos := 0
	for dz := 0; dz < tileSize; dz++ {
		for dy := 0; dy < tileSize; dy++ {
			rowStart := (((z0+dz)*y+(y0+dy))*x + x0) * c
			row := v.Data[rowStart : rowStart+tileSize*c]
			for _, f := range row {
				putFloat32LE(out[pos:pos+4], f)
				pos += 4
			}
		}
	}
	return out, nil
}

func putFloat32LE(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
