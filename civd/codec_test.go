package civd

import (
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTileRoundTrip(t *testing.T) {
	raw := make([]byte, 32*32*32*4)
	for i := range raw {
		raw[i] = byte(i % 251)
	}

	comp, err := encodeTile(raw, DefaultCodecLevel)
	require.NoError(t, err)
	assert.NotEmpty(t, comp)

	decoded, err := decodeTile(comp, len(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeTileLengthMismatchIsCorrupt(t *testing.T) {
	raw := make([]byte, 1024)
	comp, err := encodeTile(raw, DefaultCodecLevel)
	require.NoError(t, err)

	_, err = decodeTile(comp, len(raw)+4)
	require.Error(t, err)
	civdErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindCorruptTile, civdErr.Kind)
}

func TestDecodeTileGarbageIsCorrupt(t *testing.T) {
	_, err := decodeTile([]byte{0x01, 0x02, 0x03}, 16)
	require.Error(t, err)
	civdErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindCorruptTile, civdErr.Kind)
}

func TestZstdLevelBuckets(t *testing.T) {
	assert.Equal(t, zstd.SpeedFastest, zstdLevel(0))
	assert.Equal(t, zstd.SpeedFastest, zstdLevel(1))
	assert.Equal(t, zstd.SpeedDefault, zstdLevel(3))
	assert.Equal(t, zstd.SpeedBetterCompression, zstdLevel(9))
	assert.Equal(t, zstd.SpeedBestCompression, zstdLevel(15))
}
