package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tangyewlabs/civd-go/civd"
)

// PublishedMeta is the manifest half of a published pair; it mirrors the
// civd.submap.v1 manifest fields a subscriber needs to locate and validate
// the sidecar without loading it.
type PublishedMeta struct {
	Schema        string         `json:"schema"`
	Timestamp     string         `json:"timestamp"`
	Mode          civd.QueryMode `json:"mode"`
	ROIZYX        [6]int         `json:"roi_zyx"`
	TileCount     int            `json:"tile_count"`
	BytesReadEst  int64          `json:"compressed_bytes_read_est,omitempty"`
	DecodeMS      float64        `json:"decode_ms,omitempty"`
	SidecarPath   string         `json:"npz_path"`
}

// PublishToDir writes msg as a <name>.json manifest + <name>.civdsub.json
// sidecar pair under
// outDir, named "civd_submap_{timestamp}_{mode}_{epochMs}" — the same
// naming convention original_source's ROS2 publish/subscribe scripts watch
// for, so an external subscriber built against that convention can consume
// this repo's output unchanged. epochMs is supplied by the caller since
// civd workflow scripts may not call time.Now() themselves.
func PublishToDir(msg *SubmapDeltaMsg, outDir string, epochMs int64) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("bridge: create %s: %w", outDir, err)
	}

	name := fmt.Sprintf("civd_submap_%s_%s_%d", msg.Timestamp, msg.Mode, epochMs)
	base := filepath.Join(outDir, name)

	sidecarPath := base + ".civdsub.json"
	sidecarBytes, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("bridge: marshal sidecar: %w", err)
	}
	if err := os.WriteFile(sidecarPath, sidecarBytes, 0o644); err != nil {
		return "", fmt.Errorf("bridge: write sidecar: %w", err)
	}

	meta := PublishedMeta{
		Schema:       msg.Schema,
		Timestamp:    msg.Timestamp,
		Mode:         msg.Mode,
		ROIZYX:       msg.ROIZYX,
		TileCount:    len(msg.TileIDs),
		BytesReadEst: msg.BytesRead,
		DecodeMS:     msg.DecodeMS,
		SidecarPath:  sidecarPath,
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("bridge: marshal meta: %w", err)
	}
	if err := os.WriteFile(base+".json", metaBytes, 0o644); err != nil {
		return "", fmt.Errorf("bridge: write meta: %w", err)
	}

	return base, nil
}

// LoadFromBase loads a message pair previously written by PublishToDir.
func LoadFromBase(basePath string) (*SubmapDeltaMsg, error) {
	metaBytes, err := os.ReadFile(basePath + ".json")
	if err != nil {
		return nil, fmt.Errorf("bridge: read meta: %w", err)
	}
	var meta PublishedMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("bridge: parse meta: %w", err)
	}

	sidecarBytes, err := os.ReadFile(meta.SidecarPath)
	if err != nil {
		return nil, fmt.Errorf("bridge: read sidecar: %w", err)
	}
	var msg SubmapDeltaMsg
	if err := json.Unmarshal(sidecarBytes, &msg); err != nil {
		return nil, fmt.Errorf("bridge: parse sidecar: %w", err)
	}
	return &msg, nil
}
