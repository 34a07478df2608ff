package civd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLegacyIndex(t *testing.T, dir string) string {
	t.Helper()
	legacy := `{
		"shape_zyxc": [32, 32, 32, 1],
		"pack_path": "tiles.zstpack",
		"tiles": [
			{
				"id": "z00_y00_x00",
				"bounds": [0, 32, 0, 32, 0, 32],
				"hash": "` + hashPlaceholder + `",
				"offset": 0,
				"length": 128
			}
		]
	}`
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))
	return path
}

func TestUpgradeIndexInPlaceProducesValidV1(t *testing.T) {
	dir := t.TempDir()
	path := writeLegacyIndex(t, dir)

	require.NoError(t, UpgradeIndexInPlace(path, 32))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx, err := ParseIndex(data)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersionIndex, idx.SchemaVersion)
	assert.Equal(t, 32, idx.TileSize)
	assert.Equal(t, "tiles.zstpack", idx.PackPath)
	require.Len(t, idx.Tiles, 1)
	assert.Equal(t, "z00_y00_x00", idx.Tiles[0].TileID)
	assert.Equal(t, [6]int{0, 32, 0, 32, 0, 32}, idx.Tiles[0].BoundsZYX)
	assert.NoError(t, VerifyIndexV1(idx))
}

func TestUpgradeIndexInPlaceMissingShapeFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"pack_path":"tiles.zstpack","tiles":[{}]}`), 0o644))

	err := UpgradeIndexInPlace(path, 32)
	require.Error(t, err)
}

func TestUpgradeIndexInPlaceInfersTileSizeFromFirstTile(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
		"shape_zyxc": [64, 64, 64, 1],
		"pack_path": "tiles.zstpack",
		"tiles": [
			{"tile_id": "z00_y00_x00", "bounds_zyx": [0,32,0,32,0,32], "hash": "` + hashPlaceholder + `", "offset": 0, "length": 64},
			{"tile_id": "z01_y00_x00", "bounds_zyx": [32,64,0,32,0,32], "hash": "` + hashPlaceholder + `", "offset": 64, "length": 64},
			{"tile_id": "z00_y01_x00", "bounds_zyx": [0,32,32,64,0,32], "hash": "` + hashPlaceholder + `", "offset": 128, "length": 64},
			{"tile_id": "z01_y01_x00", "bounds_zyx": [32,64,32,64,0,32], "hash": "` + hashPlaceholder + `", "offset": 192, "length": 64},
			{"tile_id": "z00_y00_x01", "bounds_zyx": [0,32,0,32,32,64], "hash": "` + hashPlaceholder + `", "offset": 256, "length": 64},
			{"tile_id": "z01_y00_x01", "bounds_zyx": [32,64,0,32,32,64], "hash": "` + hashPlaceholder + `", "offset": 320, "length": 64},
			{"tile_id": "z00_y01_x01", "bounds_zyx": [0,32,32,64,32,64], "hash": "` + hashPlaceholder + `", "offset": 384, "length": 64},
			{"tile_id": "z01_y01_x01", "bounds_zyx": [32,64,32,64,32,64], "hash": "` + hashPlaceholder + `", "offset": 448, "length": 64}
		]
	}`
	path := filepath.Join(dir, "index.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	require.NoError(t, UpgradeIndexInPlace(path, 999))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	idx, err := ParseIndex(data)
	require.NoError(t, err)
	assert.Equal(t, 32, idx.TileSize)
}
