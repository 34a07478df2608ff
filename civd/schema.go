package civd

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// VerifyIndexV1 enforces every data-model invariant from the index schema:
// divisibility, one-entry-per-grid-tile, payload-kind disjunction, bounds
// agreement with tile_size, and shape agreement with the owning volume.
// It does not chase references across snapshots; cross-snapshot fidelity
// (decode(local) == decode(ref)) is checked by VerifyReferenceFidelity,
// which needs a resolver.
func VerifyIndexV1(idx *Index) error {
	if idx.SchemaVersion != SchemaVersionIndex {
		return newErr(KindSchema, fmt.Errorf("schema_version must be %q, got %q", SchemaVersionIndex, idx.SchemaVersion))
	}
	for i, d := range idx.ShapeZYXC[:3] {
		if d <= 0 {
			return newErr(KindShape, fmt.Errorf("volume.shape_zyxc[%d] must be positive, got %d", i, d))
		}
	}
	if idx.ShapeZYXC[3] <= 0 {
		return newErr(KindShape, fmt.Errorf("channel count must be positive, got %d", idx.ShapeZYXC[3]))
	}
	if idx.TileSize <= 0 {
		return newErr(KindSchema, fmt.Errorf("grid.tile_size must be positive, got %d", idx.TileSize))
	}
	for i, d := range idx.ShapeZYXC[:3] {
		if d%idx.TileSize != 0 {
			return newErr(KindShape, fmt.Errorf("shape_zyxc[%d]=%d not divisible by tile_size %d", i, d, idx.TileSize))
		}
	}
	if idx.PackPath == "" {
		return newErr(KindSchema, fmt.Errorf("pack.path must be non-empty"))
	}
	if len(idx.Tiles) == 0 {
		return newErr(KindSchema, fmt.Errorf("tiles list must be non-empty"))
	}

	seen := make(map[string]bool, len(idx.Tiles))
	nz := idx.ShapeZYXC[0] / idx.TileSize
	ny := idx.ShapeZYXC[1] / idx.TileSize
	nx := idx.ShapeZYXC[2] / idx.TileSize
	expected := nz * ny * nx

	for _, t := range idx.Tiles {
		if seen[t.TileID] {
			return newErr(KindSchema, fmt.Errorf("duplicate tile_id %s", t.TileID)).withTile(t.TileID)
		}
		seen[t.TileID] = true

		var tz, ty, tx int
		if _, err := fmt.Sscanf(t.TileID, "z%d_y%d_x%d", &tz, &ty, &tx); err != nil {
			return newErr(KindSchema, fmt.Errorf("malformed tile_id: %w", err)).withTile(t.TileID)
		}
		wantBounds := boundsFor(tz, ty, tx, idx.TileSize)
		if t.BoundsZYX != wantBounds {
			return newErr(KindSchema, fmt.Errorf(
				"tile_id %s bounds %v disagree with tile_size-derived bounds %v", t.TileID, t.BoundsZYX, wantBounds)).withTile(t.TileID)
		}
		if t.BoundsZYX[1]-t.BoundsZYX[0] != idx.TileSize ||
			t.BoundsZYX[3]-t.BoundsZYX[2] != idx.TileSize ||
			t.BoundsZYX[5]-t.BoundsZYX[4] != idx.TileSize {
			return newErr(KindShape, fmt.Errorf("tile %s bounds extent does not equal tile_size %d", t.TileID, idx.TileSize)).withTile(t.TileID)
		}

		switch t.Kind {
		case PayloadLocal:
			if t.Local.Length <= 0 {
				return newErr(KindSchema, fmt.Errorf("local payload length must be positive")).withTile(t.TileID)
			}
		case PayloadReference:
			if t.Reference.Length <= 0 && t.Reference.BaseTimestamp == "" {
				return newErr(KindSchema, fmt.Errorf("reference payload needs length>0 or base_timestamp")).withTile(t.TileID)
			}
		default:
			return newErr(KindSchema, fmt.Errorf("tile %s has neither local nor reference payload", t.TileID)).withTile(t.TileID)
		}

		if t.ShapeZYXC != ([4]int{}) {
			want := [4]int{idx.TileSize, idx.TileSize, idx.TileSize, idx.ShapeZYXC[3]}
			if t.ShapeZYXC != want {
				return newErr(KindShape, fmt.Errorf("tile %s shape_zyxc %v != %v", t.TileID, t.ShapeZYXC, want)).withTile(t.TileID)
			}
		}
	}

	if len(idx.Tiles) != expected {
		return newErr(KindSchema, fmt.Errorf("tiles list has %d entries, grid expects %d", len(idx.Tiles), expected))
	}

	return nil
}

// VerifyReferenceFidelity decodes every reference entry in idx and confirms
// a fresh SHA-256 of the decoded tile equals the entry's stored hash,
// exercising the reference-chasing path that the legacy verify_tile_read
// utility never did (Open Question (b)).
func VerifyReferenceFidelity(ctx context.Context, idx *Index, store *TileStore) error {
	for i := range idx.Tiles {
		t := &idx.Tiles[i]
		if t.Kind != PayloadReference {
			continue
		}
		raw, _, err := store.Decode(ctx, t)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(raw)
		if sum != t.Hash {
			return newErr(KindCorruptTile, fmt.Errorf("reference tile %s decoded hash mismatch", t.TileID)).withTile(t.TileID)
		}
	}
	return nil
}
