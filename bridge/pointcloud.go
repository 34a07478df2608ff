package bridge

import "github.com/tangyewlabs/civd-go/civd"

// PointCloud is the flattened (N,3) coordinate + (N,C) feature pair a
// downstream point-cloud adapter consumes. Producing this pair is in scope;
// the adapter itself (whatever renders or further processes it) is not.
type PointCloud struct {
	XYZ      [][3]float32
	Features [][]float32
}

// FlattenVolumePacket converts an already-decoded VolumePacket's dense
// ROI-local volume into a point cloud, keeping only voxels whose
// occupancyChannel value is >= threshold, subsampled every stride voxels
// per axis.
func FlattenVolumePacket(pkt *civd.VolumePacket, occupancyChannel int, threshold float32, stride int) PointCloud {
	if stride < 1 {
		stride = 1
	}
	shape := pkt.ShapeZYXC
	channels := shape[3]

	var out PointCloud
	for z := 0; z < shape[0]; z += stride {
		for y := 0; y < shape[1]; y += stride {
			for x := 0; x < shape[2]; x += stride {
				base := ((z*shape[1]+y)*shape[2] + x) * channels
				if occupancyChannel >= channels {
					continue
				}
				if pkt.Volume[base+occupancyChannel] < threshold {
					continue
				}

				out.XYZ = append(out.XYZ, [3]float32{
					float32(pkt.ROI.Z0 + z),
					float32(pkt.ROI.Y0 + y),
					float32(pkt.ROI.X0 + x),
				})
				feat := make([]float32, channels)
				copy(feat, pkt.Volume[base:base+channels])
				out.Features = append(out.Features, feat)
			}
		}
	}
	return out
}
