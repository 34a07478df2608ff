package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tangyewlabs/civd-go/civd"
)

func TestFromSidecar(t *testing.T) {
	sc := &civd.SubmapSidecar{
		SnapshotName: "t0",
		Mode:         civd.ModeFull,
		ROI:          [6]int{0, 32, 0, 32, 0, 32},
		TileIDs:      []string{"z00_y00_x00"},
		TileBounds:   [][6]int{{0, 32, 0, 32, 0, 32}},
		Tiles:        [][]float32{{1, 2, 3}},
	}
	manifest := &civd.SubmapManifest{BytesNPZ: 512, DecodeMS: 3.2}

	msg := FromSidecar(sc, manifest)
	assert.Equal(t, DeltaSchema, msg.Schema)
	assert.Equal(t, "t0", msg.Timestamp)
	assert.Equal(t, civd.ModeFull, msg.Mode)
	assert.Equal(t, [6]int{0, 32, 0, 32, 0, 32}, msg.ROIZYX)
	assert.Equal(t, sc.TileIDs, msg.TileIDs)
	assert.Equal(t, int64(512), msg.BytesRead)
	assert.Equal(t, 3.2, msg.DecodeMS)
}
