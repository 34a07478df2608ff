package civd

import "context"

// readSlice is the single stateless positional read every decode path
// funnels through: a pack is just a flat concatenation of compressed tile
// frames, so reading one is "read length bytes at offset from this bucket
// key", regardless of whether the pack lives on disk or behind a cloud
// bucket.
func readSlice(ctx context.Context, bucket Bucket, packKey string, offset, length int64) ([]byte, error) {
	if length < 0 {
		return nil, newErr(KindIO, errNegativeLength).withPack(packKey)
	}
	if length == 0 {
		return nil, nil
	}
	return bucket.ReadSlice(ctx, packKey, offset, length)
}

var errNegativeLength = negativeLengthError{}

type negativeLengthError struct{}

func (negativeLengthError) Error() string { return "negative slice length" }
