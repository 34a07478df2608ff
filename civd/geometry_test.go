package civd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampROIInBounds(t *testing.T) {
	r := ClampROI(ROI{Z0: 0, Z1: 10, Y0: 0, Y1: 10, X0: 0, X1: 10}, [4]int{64, 64, 64, 1})
	assert.Equal(t, ROI{0, 10, 0, 10, 0, 10}, r)
}

func TestClampROIClampsOverflow(t *testing.T) {
	r := ClampROI(ROI{Z0: -5, Z1: 200, Y0: 0, Y1: 1, X0: 0, X1: 1}, [4]int{64, 64, 64, 1})
	assert.Equal(t, 0, r.Z0)
	assert.Equal(t, 64, r.Z1)
}

func TestClampROIDegenerateExpandsToOneVoxel(t *testing.T) {
	r := ClampROI(ROI{Z0: 5, Z1: 5, Y0: 5, Y1: 5, X0: 5, X1: 5}, [4]int{64, 64, 64, 1})
	assert.Equal(t, [3]int{1, 1, 1}, r.shape())
}

func TestROIFromCenterRadius(t *testing.T) {
	r := ROIFromCenterRadius(10, 10, 10, 2)
	assert.Equal(t, ROI{8, 13, 8, 13, 8, 13}, r)
}

func TestTileCoordID(t *testing.T) {
	c := TileCoord{TZ: 1, TY: 2, TX: 3}
	assert.Equal(t, "z01_y02_x03", c.ID())
}

func TestROITileIDsSingleTile(t *testing.T) {
	ids := ROITileIDs(ROI{0, 10, 0, 10, 0, 10}, 32)
	assert.Equal(t, []TileCoord{{0, 0, 0}}, ids)
}

func TestROITileIDsSpansMultipleTiles(t *testing.T) {
	ids := ROITileIDs(ROI{0, 40, 0, 32, 0, 32}, 32)
	assert.Equal(t, []TileCoord{{0, 0, 0}, {1, 0, 0}}, ids)
}

func TestROITileIDsOrderIsLexicographic(t *testing.T) {
	ids := ROITileIDs(ROI{0, 64, 0, 64, 0, 64}, 32)
	assert.Equal(t, []TileCoord{
		{0, 0, 0}, {0, 0, 1}, {0, 1, 0}, {0, 1, 1},
		{1, 0, 0}, {1, 0, 1}, {1, 1, 0}, {1, 1, 1},
	}, ids)
}

func TestFloorDivNegative(t *testing.T) {
	assert.Equal(t, -1, floorDiv(-1, 32))
	assert.Equal(t, -1, floorDiv(-32, 32))
	assert.Equal(t, 0, floorDiv(0, 32))
	assert.Equal(t, 0, floorDiv(31, 32))
}

func TestIntersectFullyContained(t *testing.T) {
	isect, ok := Intersect([6]int{0, 32, 0, 32, 0, 32}, ROI{0, 10, 0, 10, 0, 10})
	assert.True(t, ok)
	assert.Equal(t, [3]int{0, 0, 0}, isect.SrcLo)
	assert.Equal(t, [3]int{10, 10, 10}, isect.SrcHi)
	assert.Equal(t, isect.SrcLo, isect.DstLo)
	assert.Equal(t, isect.SrcHi, isect.DstHi)
}

func TestIntersectPartialOverlap(t *testing.T) {
	isect, ok := Intersect([6]int{0, 32, 0, 32, 0, 32}, ROI{20, 50, 0, 5, 0, 5})
	assert.True(t, ok)
	assert.Equal(t, [3]int{20, 0, 0}, isect.SrcLo)
	assert.Equal(t, [3]int{32, 5, 5}, isect.SrcHi)
	assert.Equal(t, [3]int{0, 0, 0}, isect.DstLo)
	assert.Equal(t, [3]int{12, 5, 5}, isect.DstHi)
}

func TestIntersectNoOverlap(t *testing.T) {
	_, ok := Intersect([6]int{0, 32, 0, 32, 0, 32}, ROI{32, 64, 0, 10, 0, 10})
	assert.False(t, ok)
}
