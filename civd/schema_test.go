package civd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSingleTileIndex() *Index {
	idx := &Index{
		SchemaVersion: SchemaVersionIndex,
		ShapeZYXC:     [4]int{32, 32, 32, 1},
		TileSize:      32,
		PackPath:      "tiles.zstpack",
		Tiles: []TileEntry{
			{
				TileID:    "z00_y00_x00",
				BoundsZYX: [6]int{0, 32, 0, 32, 0, 32},
				Kind:      PayloadLocal,
				Local:     LocalPayload{Offset: 0, Length: 128},
			},
		},
	}
	return idx
}

func TestVerifyIndexV1Valid(t *testing.T) {
	assert.NoError(t, VerifyIndexV1(validSingleTileIndex()))
}

func TestVerifyIndexV1RejectsBadSchemaVersion(t *testing.T) {
	idx := validSingleTileIndex()
	idx.SchemaVersion = "civd.index.v0"
	err := VerifyIndexV1(idx)
	require.Error(t, err)
	assert.Equal(t, KindSchema, err.(*Error).Kind)
}

func TestVerifyIndexV1RejectsNonDivisibleShape(t *testing.T) {
	idx := validSingleTileIndex()
	idx.ShapeZYXC[0] = 33
	err := VerifyIndexV1(idx)
	require.Error(t, err)
	assert.Equal(t, KindShape, err.(*Error).Kind)
}

func TestVerifyIndexV1RejectsDuplicateTileID(t *testing.T) {
	idx := validSingleTileIndex()
	idx.Tiles = append(idx.Tiles, idx.Tiles[0])
	err := VerifyIndexV1(idx)
	require.Error(t, err)
	assert.Equal(t, KindSchema, err.(*Error).Kind)
}

func TestVerifyIndexV1RejectsBoundsDisagreement(t *testing.T) {
	idx := validSingleTileIndex()
	idx.Tiles[0].BoundsZYX = [6]int{1, 33, 0, 32, 0, 32}
	err := VerifyIndexV1(idx)
	require.Error(t, err)
}

func TestVerifyIndexV1RejectsMissingPayload(t *testing.T) {
	idx := validSingleTileIndex()
	idx.Tiles[0].Kind = PayloadKind(99)
	err := VerifyIndexV1(idx)
	require.Error(t, err)
}

func TestVerifyIndexV1RejectsWrongTileCount(t *testing.T) {
	idx := validSingleTileIndex()
	idx.ShapeZYXC = [4]int{64, 32, 32, 1} // grid now expects 2 tiles, only 1 present
	err := VerifyIndexV1(idx)
	require.Error(t, err)
}

func TestVerifyReferenceFidelityDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	raw := make([]byte, 4*4*4*1*4)
	name, length := writeRawPack(t, dir, "tiles.zstpack", raw)
	store := NewTileStore(FileBucket{Root: dir}, name, 4, 1, nil)

	idx := &Index{
		Tiles: []TileEntry{
			{
				TileID: "z00_y00_x00",
				Kind:   PayloadReference,
				Reference: ReferencePayload{
					Offset: 0, Length: length, BasePack: name,
				},
				Hash: [32]byte{0xFF}, // deliberately wrong
			},
		},
	}

	err := VerifyReferenceFidelity(context.Background(), idx, store)
	require.Error(t, err)
	assert.Equal(t, KindCorruptTile, err.(*Error).Kind)
}
