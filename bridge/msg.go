// Package bridge carries civd query results across process boundaries: a
// manifest + sidecar file pair written to a directory that an external
// publisher/subscriber can watch, and a small HTTP server exposing the same
// pair over GET /submap. Transport (a message bus, ROS2, whatever) is
// deliberately external; this package only fixes the wire contract.
package bridge

import "github.com/tangyewlabs/civd-go/civd"

// DeltaSchema tags every SubmapDeltaMsg this package produces.
const DeltaSchema = "civd.bridge.submap_delta.v1"

// SubmapDeltaMsg is the in-process representation of one published submap:
// everything a subscriber needs to reconstruct the ROI without re-querying
// civd itself.
type SubmapDeltaMsg struct {
	Schema    string          `json:"schema"`
	Timestamp string          `json:"timestamp"`
	Mode      civd.QueryMode  `json:"mode"`
	ROIZYX    [6]int          `json:"roi_zyx"`
	TileIDs   []string        `json:"tile_ids"`
	TileBounds [][6]int       `json:"tile_bounds_zyx"`
	Tiles     [][]float32     `json:"tiles"`

	BytesRead int64   `json:"compressed_bytes_read_est,omitempty"`
	DecodeMS  float64 `json:"decode_ms,omitempty"`
}

// FromSidecar builds the wire message from a decoded sidecar and its
// manifest, the shape every in-process producer (the bridge server, the
// CLI) actually has on hand.
func FromSidecar(sc *civd.SubmapSidecar, manifest *civd.SubmapManifest) *SubmapDeltaMsg {
	return &SubmapDeltaMsg{
		Schema:     DeltaSchema,
		Timestamp:  sc.SnapshotName,
		Mode:       sc.Mode,
		ROIZYX:     sc.ROI,
		TileIDs:    sc.TileIDs,
		TileBounds: sc.TileBounds,
		Tiles:      sc.Tiles,
		BytesRead:  manifest.BytesNPZ,
		DecodeMS:   manifest.DecodeMS,
	}
}
