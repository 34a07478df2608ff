package civd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

func hexEncode(h [32]byte) string { return hex.EncodeToString(h[:]) }

// SchemaVersionIndex is the only schema_version this reader accepts without
// going through the upgrader.
const SchemaVersionIndex = "civd.index.v1"

// PayloadKind discriminates a tile entry's payload.
type PayloadKind int

const (
	PayloadLocal PayloadKind = iota
	PayloadReference
)

// LocalPayload points at bytes within this snapshot's own pack.
type LocalPayload struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// ReferencePayload points at bytes within an earlier snapshot's pack. Either
// BasePack (an absolute/relative path) or BaseTimestamp (a snapshot name)
// identifies the base; per the resolved reference-identity question, a
// reader accepting a v1 index prefers BaseTimestamp when both are present,
// re-deriving the path from the owning World's root.
type ReferencePayload struct {
	Offset        int64  `json:"offset"`
	Length        int64  `json:"length"`
	BasePack      string `json:"base_pack,omitempty"`
	BaseTimestamp string `json:"base_timestamp,omitempty"`
}

// TileEntry is one row of an index's tile list.
type TileEntry struct {
	TileID    string     `json:"tile_id"`
	BoundsZYX [6]int     `json:"bounds_zyx"`
	ShapeZYXC [4]int     `json:"shape_zyxc,omitempty"`
	Codec     Codec      `json:"codec,omitempty"`
	Hash      [32]byte   `json:"-"`
	HashHex   string     `json:"hash"`

	Kind      PayloadKind
	Local     LocalPayload
	Reference ReferencePayload
}

// rawTileEntry mirrors the JSON wire shape before payload-kind resolution:
// exactly one of the plain offset/length pair or the nested ref object is
// present.
type rawTileEntry struct {
	TileID    string          `json:"tile_id"`
	Bounds    json.RawMessage `json:"bounds_zyx"`
	ShapeZYXC [4]int          `json:"shape_zyxc,omitempty"`
	Codec     Codec           `json:"codec,omitempty"`
	Hash      string          `json:"hash"`
	Offset    *int64          `json:"offset,omitempty"`
	Length    *int64          `json:"length,omitempty"`
	Ref       *struct {
		Offset        int64  `json:"offset"`
		Length        int64  `json:"length"`
		BasePack      string `json:"base_pack,omitempty"`
		BaseTimestamp string `json:"base_timestamp,omitempty"`
	} `json:"ref,omitempty"`
}

// Index is the fully parsed, in-memory form of index.json with bounds
// normalised and payload kind resolved.
type Index struct {
	SchemaVersion string
	ShapeZYXC     [4]int
	TileSize      int
	PackPath      string
	Tiles         []TileEntry

	byID map[string]*TileEntry
}

type rawIndex struct {
	SchemaVersion string `json:"schema_version"`
	Volume        struct {
		ShapeZYXC [4]int `json:"shape_zyxc"`
	} `json:"volume"`
	Grid struct {
		TileSize int `json:"tile_size"`
	} `json:"grid"`
	Pack struct {
		Path string `json:"path"`
	} `json:"pack"`
	Tiles []rawTileEntry `json:"tiles"`
}

// ParseIndex decodes index.json bytes into an Index, tolerating the three
// documented bounds_zyx encodings (six-int list, {z0..x1} dict, {z:[z0,z1],
// y:[..], x:[..]} dict) and normalising all of them to the six-int form.
func ParseIndex(data []byte) (*Index, error) {
	var raw rawIndex
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newErr(KindSchema, fmt.Errorf("parse index.json: %w", err))
	}
	if raw.SchemaVersion != SchemaVersionIndex {
		return nil, newErr(KindSchema, fmt.Errorf("unexpected schema_version %q", raw.SchemaVersion))
	}
	if raw.Grid.TileSize <= 0 {
		return nil, newErr(KindSchema, fmt.Errorf("grid.tile_size must be positive, got %d", raw.Grid.TileSize))
	}
	if raw.Pack.Path == "" {
		return nil, newErr(KindSchema, fmt.Errorf("pack.path must be non-empty"))
	}
	if len(raw.Tiles) == 0 {
		return nil, newErr(KindSchema, fmt.Errorf("tiles list must be non-empty"))
	}

	idx := &Index{
		SchemaVersion: raw.SchemaVersion,
		ShapeZYXC:     raw.Volume.ShapeZYXC,
		TileSize:      raw.Grid.TileSize,
		PackPath:      raw.Pack.Path,
		Tiles:         make([]TileEntry, 0, len(raw.Tiles)),
		byID:          make(map[string]*TileEntry, len(raw.Tiles)),
	}

	for i, rt := range raw.Tiles {
		bounds, err := normalizeBounds(rt.Bounds)
		if err != nil {
			return nil, newErr(KindSchema, fmt.Errorf("tile %d: %w", i, err)).withTile(rt.TileID)
		}
		entry := TileEntry{
			TileID:    rt.TileID,
			BoundsZYX: bounds,
			ShapeZYXC: rt.ShapeZYXC,
			Codec:     rt.Codec,
			HashHex:   rt.Hash,
		}
		if b, err := hex.DecodeString(rt.Hash); err == nil && len(b) == len(entry.Hash) {
			copy(entry.Hash[:], b)
		}
		// An empty or malformed hash (not-yet-hashed test fixtures) leaves
		// Hash zeroed; VerifyIndexV1 does not check hashes.

		switch {
		case rt.Offset != nil && rt.Length != nil && rt.Ref == nil:
			entry.Kind = PayloadLocal
			entry.Local = LocalPayload{Offset: *rt.Offset, Length: *rt.Length}
		case rt.Ref != nil && rt.Offset == nil && rt.Length == nil:
			entry.Kind = PayloadReference
			entry.Reference = ReferencePayload{
				Offset:        rt.Ref.Offset,
				Length:        rt.Ref.Length,
				BasePack:      rt.Ref.BasePack,
				BaseTimestamp: rt.Ref.BaseTimestamp,
			}
		default:
			return nil, newErr(KindSchema, fmt.Errorf("tile %d: exactly one of {offset,length} or {ref} required", i)).withTile(rt.TileID)
		}

		idx.Tiles = append(idx.Tiles, entry)
	}
	for i := range idx.Tiles {
		idx.byID[idx.Tiles[i].TileID] = &idx.Tiles[i]
	}
	return idx, nil
}

// FindByID returns the tile entry with the given id, or nil if absent.
func (idx *Index) FindByID(tileID string) *TileEntry {
	return idx.byID[tileID]
}

// normalizeBounds accepts any of: `[z0,z1,y0,y1,x0,x1]`, `{"z0":..,"z1":..,
// "y0":..,"y1":..,"x0":..,"x1":..}`, or `{"z":[z0,z1],"y":[y0,y1],
// "x":[x0,x1]}`, returning the canonical six-int array.
func normalizeBounds(raw json.RawMessage) ([6]int, error) {
	var out [6]int
	if len(raw) == 0 {
		return out, fmt.Errorf("bounds_zyx missing")
	}

	var asList [6]int
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return out, fmt.Errorf("unrecognized bounds_zyx encoding: %s", string(raw))
	}

	if _, ok := asMap["z0"]; ok {
		var flat struct{ Z0, Z1, Y0, Y1, X0, X1 int }
		if err := json.Unmarshal(raw, &flat); err != nil {
			return out, fmt.Errorf("flat bounds_zyx: %w", err)
		}
		return [6]int{flat.Z0, flat.Z1, flat.Y0, flat.Y1, flat.X0, flat.X1}, nil
	}

	if _, ok := asMap["z"]; ok {
		var axes struct {
			Z [2]int `json:"z"`
			Y [2]int `json:"y"`
			X [2]int `json:"x"`
		}
		if err := json.Unmarshal(raw, &axes); err != nil {
			return out, fmt.Errorf("axes bounds_zyx: %w", err)
		}
		return [6]int{axes.Z[0], axes.Z[1], axes.Y[0], axes.Y[1], axes.X[0], axes.X[1]}, nil
	}

	return out, fmt.Errorf("unrecognized bounds_zyx encoding: %s", string(raw))
}

// tileIDFor formats the canonical textual tile id from grid coordinates.
func tileIDFor(tz, ty, tx int) string {
	return fmt.Sprintf("z%02d_y%02d_x%02d", tz, ty, tx)
}

// boundsFor derives a tile's world-space bounds from its grid coordinates
// and the snapshot's tile_size.
func boundsFor(tz, ty, tx, tileSize int) [6]int {
	return [6]int{
		tz * tileSize, (tz + 1) * tileSize,
		ty * tileSize, (ty + 1) * tileSize,
		tx * tileSize, (tx + 1) * tileSize,
	}
}

// wireIndex is the canonical on-disk shape written by writeIndexAtomic; its
// field order and naming match rawIndex so a round trip through
// ParseIndex(marshalIndex(idx)) is the identity.
type wireIndex struct {
	SchemaVersion string `json:"schema_version"`
	Volume        struct {
		ShapeZYXC [4]int `json:"shape_zyxc"`
	} `json:"volume"`
	Grid struct {
		TileSize int `json:"tile_size"`
	} `json:"grid"`
	Pack struct {
		Path string `json:"path"`
	} `json:"pack"`
	Tiles []wireTileEntry `json:"tiles"`
}

type wireTileEntry struct {
	TileID    string   `json:"tile_id"`
	BoundsZYX [6]int   `json:"bounds_zyx"`
	ShapeZYXC [4]int   `json:"shape_zyxc,omitempty"`
	Codec     Codec    `json:"codec,omitempty"`
	Hash      string   `json:"hash"`
	Offset    *int64   `json:"offset,omitempty"`
	Length    *int64   `json:"length,omitempty"`
	Ref       *wireRef `json:"ref,omitempty"`
}

type wireRef struct {
	Offset        int64  `json:"offset"`
	Length        int64  `json:"length"`
	BasePack      string `json:"base_pack,omitempty"`
	BaseTimestamp string `json:"base_timestamp,omitempty"`
}

func marshalIndex(idx *Index) wireIndex {
	w := wireIndex{SchemaVersion: idx.SchemaVersion}
	w.Volume.ShapeZYXC = idx.ShapeZYXC
	w.Grid.TileSize = idx.TileSize
	w.Pack.Path = idx.PackPath
	w.Tiles = make([]wireTileEntry, len(idx.Tiles))

	for i, t := range idx.Tiles {
		wt := wireTileEntry{
			TileID:    t.TileID,
			BoundsZYX: t.BoundsZYX,
			ShapeZYXC: t.ShapeZYXC,
			Codec:     t.Codec,
			Hash:      t.HashHex,
		}
		if wt.Hash == "" {
			wt.Hash = hexEncode(t.Hash)
		}
		switch t.Kind {
		case PayloadLocal:
			off, length := t.Local.Offset, t.Local.Length
			wt.Offset, wt.Length = &off, &length
		case PayloadReference:
			wt.Ref = &wireRef{
				Offset:        t.Reference.Offset,
				Length:        t.Reference.Length,
				BasePack:      t.Reference.BasePack,
				BaseTimestamp: t.Reference.BaseTimestamp,
			}
		}
		w.Tiles[i] = wt
	}
	return w
}
