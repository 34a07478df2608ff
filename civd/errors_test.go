package civd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "ShapeError", KindShape.String())
	assert.Equal(t, "CorruptTile", KindCorruptTile.String())
	assert.Equal(t, "UnknownError", Kind(999).String())
}

func TestErrorMessageIncludesContext(t *testing.T) {
	e := newErr(KindIO, errors.New("boom")).withSnapshot("t0").withTile("z00_y00_x00").withPack("tiles.zstpack")
	msg := e.Error()
	assert.Contains(t, msg, "IoError")
	assert.Contains(t, msg, "snapshot=t0")
	assert.Contains(t, msg, "tile=z00_y00_x00")
	assert.Contains(t, msg, "pack=tiles.zstpack")
	assert.Contains(t, msg, "boom")
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := newErr(KindCorruptTile, errors.New("a"))
	b := newErr(KindCorruptTile, errors.New("b"))
	c := newErr(KindSchema, errors.New("c"))
	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
	assert.False(t, a.Is(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	e := newErr(KindShape, inner)
	assert.Equal(t, inner, errors.Unwrap(e))
}
