package model

import (
	"fmt"
	"time"
)

// TileKey 固定サイズのグリッドセルの座標
type TileKey struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d:%d", k.X, k.Y)
}

// Tile ロード済みタイルの状態
type Tile struct {
	Key       TileKey
	LoadedAt  time.Time
	RecordIDs map[string]struct{}
}

// CacheStats デバッグ・監視用のキャッシュ統計
type CacheStats struct {
	RecordCount  int       `json:"record_count"`
	TileCount    int       `json:"tile_count"`
	PendingFetch bool      `json:"pending_fetch"`
	FocusTile    *TileKey  `json:"focus_tile,omitempty"`
	LastLoadedAt time.Time `json:"last_loaded_at,omitzero"`
}
