package civd

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultCodecLevel is the zstd level used when a writer does not specify one.
const DefaultCodecLevel = 3

// Codec describes the compression algorithm and level applied to a tile
// frame. v1 supports only zstd; the struct still carries a name so a future
// codec can be added without breaking the index-v1 schema.
type Codec struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// encodeTile compresses a contiguous C-order float32 byte buffer.
func encodeTile(raw []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("civd: create zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

// decodeTile decompresses a tile frame and verifies the decompressed length
// matches expectedLen exactly, per the Codec contract: any mismatch is a
// corrupt tile, never a partial result.
func decodeTile(comp []byte, expectedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("civd: create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(comp, make([]byte, 0, expectedLen))
	if err != nil {
		return nil, newErr(KindCorruptTile, fmt.Errorf("decompress failed: %w", err))
	}
	if len(raw) != expectedLen {
		return nil, newErr(KindCorruptTile, fmt.Errorf("decompressed length %d, expected %d", len(raw), expectedLen))
	}
	return raw, nil
}
