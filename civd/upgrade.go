package civd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func dirOf(path string) string { return filepath.Dir(path) }

// UpgradeIndexInPlace rewrites a legacy (pre-v1) index.json at path to
// civd.index.v1 and validates the result, failing fast rather than writing
// a partially-upgraded file: flat shape_zyxc/pack_path are lifted into
// volume.shape_zyxc/pack.path, grid.tile_size is inferred from the first
// tile's bounds when absent, and each tile's bounds are normalised to the
// six-int list form. This is a one-shot operation; it is never run as part
// of normal read/write traffic.
func UpgradeIndexInPlace(path string, defaultTileSize int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return newErr(KindIO, err).withPack(path)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return newErr(KindSchema, fmt.Errorf("parse legacy index: %w", err))
	}

	doc["schema_version"] = mustMarshal(SchemaVersionIndex)

	if _, ok := doc["volume"]; !ok {
		shape, ok := doc["shape_zyxc"]
		if !ok {
			return newErr(KindSchema, fmt.Errorf("cannot upgrade: missing volume.shape_zyxc or legacy shape_zyxc"))
		}
		doc["volume"] = mustMarshal(map[string]json.RawMessage{"shape_zyxc": shape})
		delete(doc, "shape_zyxc")
	}

	if _, ok := doc["pack"]; !ok {
		packPath, ok := doc["pack_path"]
		if !ok {
			return newErr(KindSchema, fmt.Errorf("cannot upgrade: missing pack.path or legacy pack_path"))
		}
		doc["pack"] = mustMarshal(map[string]json.RawMessage{"path": packPath})
		delete(doc, "pack_path")
	}

	rawTiles, ok := doc["tiles"]
	if !ok {
		return newErr(KindSchema, fmt.Errorf("cannot upgrade: tiles must be a non-empty list"))
	}
	var tiles []map[string]json.RawMessage
	if err := json.Unmarshal(rawTiles, &tiles); err != nil || len(tiles) == 0 {
		return newErr(KindSchema, fmt.Errorf("cannot upgrade: tiles must be a non-empty list"))
	}

	tileSize, err := inferTileSize(doc, tiles, defaultTileSize)
	if err != nil {
		return err
	}

	var grid map[string]json.RawMessage
	if rawGrid, ok := doc["grid"]; ok {
		_ = json.Unmarshal(rawGrid, &grid)
	}
	if grid == nil {
		grid = map[string]json.RawMessage{}
	}
	grid["tile_size"] = mustMarshal(tileSize)
	doc["grid"] = mustMarshal(grid)

	for i, e := range tiles {
		if err := normalizeTileEntryInPlace(e); err != nil {
			return newErr(KindSchema, fmt.Errorf("tile entry %d: %w", i, err))
		}
	}
	doc["tiles"] = mustMarshal(tiles)

	upgraded, err := json.Marshal(doc)
	if err != nil {
		return newErr(KindSchema, err)
	}
	idx, err := ParseIndex(upgraded)
	if err != nil {
		return err
	}
	if err := VerifyIndexV1(idx); err != nil {
		return err
	}

	return writeJSONAtomicAt(path, doc)
}

func inferTileSize(doc map[string]json.RawMessage, tiles []map[string]json.RawMessage, defaultTileSize int) (int, error) {
	if rawGrid, ok := doc["grid"]; ok {
		var grid struct {
			TileSize *int `json:"tile_size"`
		}
		if err := json.Unmarshal(rawGrid, &grid); err == nil && grid.TileSize != nil {
			return *grid.TileSize, nil
		}
	}

	if len(tiles) > 0 {
		for _, key := range []string{"bounds_zyx", "bounds", "bounds_zyx6"} {
			if raw, ok := tiles[0][key]; ok {
				bounds, err := normalizeBounds(raw)
				if err != nil {
					return 0, newErr(KindSchema, err)
				}
				return bounds[1] - bounds[0], nil
			}
		}
	}

	return defaultTileSize, nil
}

// normalizeTileEntryInPlace canonicalises one legacy tile entry's bounds
// and tile_id key names, mutating e.
func normalizeTileEntryInPlace(e map[string]json.RawMessage) error {
	var raw json.RawMessage
	switch {
	case e["bounds_zyx"] != nil:
		raw = e["bounds_zyx"]
	case e["bounds"] != nil:
		raw = e["bounds"]
		delete(e, "bounds")
	case e["bounds_zyx6"] != nil:
		raw = e["bounds_zyx6"]
		delete(e, "bounds_zyx6")
	default:
		return fmt.Errorf("missing bounds; cannot upgrade to v1")
	}
	bounds, err := normalizeBounds(raw)
	if err != nil {
		return err
	}
	e["bounds_zyx"] = mustMarshal(bounds)

	if e["tile_id"] == nil {
		switch {
		case e["id"] != nil:
			e["tile_id"] = e["id"]
			delete(e, "id")
		case e["tile"] != nil:
			e["tile_id"] = e["tile"]
			delete(e, "tile")
		default:
			return fmt.Errorf("missing tile_id")
		}
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("civd: marshal invariant violated: %v", err))
	}
	return b
}

func writeJSONAtomicAt(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return newErr(KindSchema, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dirOf(path), "index-*.json.tmp")
	if err != nil {
		return newErr(KindIO, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return newErr(KindIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return newErr(KindIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return newErr(KindIO, err).withPack(path)
	}
	return nil
}
