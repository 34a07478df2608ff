package civd

import "fmt"

// ROI is an axis-aligned, half-open voxel region [z0,z1) x [y0,y1) x [x0,x1).
type ROI struct {
	Z0, Z1 int
	Y0, Y1 int
	X0, X1 int
}

func (r ROI) shape() [3]int {
	return [3]int{r.Z1 - r.Z0, r.Y1 - r.Y0, r.X1 - r.X0}
}

// ClampROI clamps r to the volume's shape_zyxc, expanding degenerate
// (zero-extent) requests to a single voxel so a point query always returns
// at least one tile.
func ClampROI(r ROI, shapeZYXC [4]int) ROI {
	clampAxis := func(lo, hi, dimSize int) (int, int) {
		if hi <= lo {
			hi = lo + 1
		}
		if lo < 0 {
			lo = 0
		}
		if hi > dimSize {
			hi = dimSize
		}
		if lo >= hi {
			lo = hi - 1
			if lo < 0 {
				lo = 0
			}
		}
		return lo, hi
	}
	z0, z1 := clampAxis(r.Z0, r.Z1, shapeZYXC[0])
	y0, y1 := clampAxis(r.Y0, r.Y1, shapeZYXC[1])
	x0, x1 := clampAxis(r.X0, r.X1, shapeZYXC[2])
	return ROI{z0, z1, y0, y1, x0, x1}
}

// ROIFromCenterRadius builds an ROI centered at (cz,cy,cx) extending radius
// voxels in every direction (a cube of side 2*radius+1), unclamped.
func ROIFromCenterRadius(cz, cy, cx, radius int) ROI {
	return ROI{
		Z0: cz - radius, Z1: cz + radius + 1,
		Y0: cy - radius, Y1: cy + radius + 1,
		X0: cx - radius, X1: cx + radius + 1,
	}
}

// TileCoord is a tile's grid coordinate (tz, ty, tx).
type TileCoord struct{ TZ, TY, TX int }

func (c TileCoord) ID() string { return tileIDFor(c.TZ, c.TY, c.TX) }

// ROITileIDs returns the ordered cover set of tile coordinates intersecting
// roi, in lexicographic (tz,ty,tx) order for deterministic iteration.
func ROITileIDs(roi ROI, tileSize int) []TileCoord {
	if tileSize <= 0 {
		return nil
	}
	z0, z1 := floorDiv(roi.Z0, tileSize), floorDiv(roi.Z1-1, tileSize)
	y0, y1 := floorDiv(roi.Y0, tileSize), floorDiv(roi.Y1-1, tileSize)
	x0, x1 := floorDiv(roi.X0, tileSize), floorDiv(roi.X1-1, tileSize)

	var out []TileCoord
	for tz := z0; tz <= z1; tz++ {
		for ty := y0; ty <= y1; ty++ {
			for tx := x0; tx <= x1; tx++ {
				out = append(out, TileCoord{tz, ty, tx})
			}
		}
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Intersection describes where a tile's decoded bytes and an ROI-local
// buffer overlap, in both coordinate spaces.
type Intersection struct {
	// SrcLo/SrcHi are tile-local voxel offsets (0..tile_size).
	SrcLo, SrcHi [3]int
	// DstLo/DstHi are ROI-local voxel offsets.
	DstLo, DstHi [3]int
}

// Intersect computes the overlap between a tile's world-space bounds and
// roi. ok is false if they do not overlap (should not happen for ids
// produced by ROITileIDs, but callers must check).
func Intersect(tileBounds [6]int, roi ROI) (Intersection, bool) {
	tz0, tz1 := tileBounds[0], tileBounds[1]
	ty0, ty1 := tileBounds[2], tileBounds[3]
	tx0, tx1 := tileBounds[4], tileBounds[5]

	loZ, hiZ := maxInt(tz0, roi.Z0), minInt(tz1, roi.Z1)
	loY, hiY := maxInt(ty0, roi.Y0), minInt(ty1, roi.Y1)
	loX, hiX := maxInt(tx0, roi.X0), minInt(tx1, roi.X1)
	if loZ >= hiZ || loY >= hiY || loX >= hiX {
		return Intersection{}, false
	}

	return Intersection{
		SrcLo: [3]int{loZ - tz0, loY - ty0, loX - tx0},
		SrcHi: [3]int{hiZ - tz0, hiY - ty0, hiX - tx0},
		DstLo: [3]int{loZ - roi.Z0, loY - roi.Y0, loX - roi.X0},
		DstHi: [3]int{hiZ - roi.Z0, hiY - roi.Y0, hiX - roi.X0},
	}, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (i Intersection) String() string {
	return fmt.Sprintf("src[%v:%v] dst[%v:%v]", i.SrcLo, i.SrcHi, i.DstLo, i.DstHi)
}
