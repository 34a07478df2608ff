package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangyewlabs/civd-go/civd"
)

func TestFlattenVolumePacketKeepsOccupiedVoxels(t *testing.T) {
	// 2x2x1 volume, 2 channels: channel 0 is occupancy, channel 1 is feature.
	pkt := &civd.VolumePacket{
		ROI:       civd.ROI{Z0: 0, Z1: 2, Y0: 0, Y1: 2, X0: 0, X1: 1},
		ShapeZYXC: [4]int{2, 2, 1, 2},
		Volume: []float32{
			1, 10, // z0 y0 x0: occupied
			0, 20, // z0 y1 x0: empty
			1, 30, // z1 y0 x0: occupied
			0, 40, // z1 y1 x0: empty
		},
	}

	pc := FlattenVolumePacket(pkt, 0, 0.5, 1)
	assert.Len(t, pc.XYZ, 2)
	assert.Equal(t, [3]float32{0, 0, 0}, pc.XYZ[0])
	assert.Equal(t, []float32{1, 10}, pc.Features[0])
	assert.Equal(t, [3]float32{1, 0, 0}, pc.XYZ[1])
	assert.Equal(t, []float32{1, 30}, pc.Features[1])
}

func TestFlattenVolumePacketStride(t *testing.T) {
	pkt := &civd.VolumePacket{
		ROI:       civd.ROI{Z0: 0, Z1: 4, Y0: 0, Y1: 1, X0: 0, X1: 1},
		ShapeZYXC: [4]int{4, 1, 1, 1},
		Volume:    []float32{1, 1, 1, 1},
	}

	pc := FlattenVolumePacket(pkt, 0, 0.5, 2)
	assert.Len(t, pc.XYZ, 2)
	assert.Equal(t, [3]float32{0, 0, 0}, pc.XYZ[0])
	assert.Equal(t, [3]float32{2, 0, 0}, pc.XYZ[1])
}

func TestFlattenVolumePacketWorldOffsetUsesROI(t *testing.T) {
	pkt := &civd.VolumePacket{
		ROI:       civd.ROI{Z0: 10, Z1: 11, Y0: 20, Y1: 21, X0: 30, X1: 31},
		ShapeZYXC: [4]int{1, 1, 1, 1},
		Volume:    []float32{1},
	}
	pc := FlattenVolumePacket(pkt, 0, 0.5, 1)
	require := assert.New(t)
	require.Len(pc.XYZ, 1)
	require.Equal([3]float32{10, 20, 30}, pc.XYZ[0])
}
