package service

import (
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"Culoca-App/internal/domain/helper"
	"Culoca-App/internal/domain/model"
)

// TileIndex は座標をタイルキーに変換し、ロード済みタイルを管理する
//
// タイルサイズは生成時に固定。並行アクセスには対応しないため、
// ImageCache のロック下でのみ使用する。
type TileIndex struct {
	sizeDeg float64
	tiles   map[model.TileKey]*model.Tile
}

// NewTileIndex は新しいTileIndexを作成する
// km→度の換算は 1度 ≈ 111km の固定緯度近似（都市〜地域スケールでは許容範囲）
func NewTileIndex(tileSizeKm float64) *TileIndex {
	if tileSizeKm <= 0 {
		tileSizeKm = model.DefaultTileSizeKm
	}
	return &TileIndex{
		sizeDeg: tileSizeKm / model.KmPerDegree,
		tiles:   make(map[model.TileKey]*model.Tile),
	}
}

// SizeDeg はタイル1辺の長さ（度）を返す
func (ti *TileIndex) SizeDeg() float64 {
	return ti.sizeDeg
}

// KeyFor は座標を含むタイルのキーを返す
func (ti *TileIndex) KeyFor(c model.Coordinate) model.TileKey {
	lon := helper.NormalizeLongitude(c.Lon)
	return model.TileKey{
		X: int(math.Floor(lon / ti.sizeDeg)),
		Y: int(math.Floor(c.Lat / ti.sizeDeg)),
	}
}

// Bound はタイルの範囲を返す
func (ti *TileIndex) Bound(key model.TileKey) orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(key.X) * ti.sizeDeg, float64(key.Y) * ti.sizeDeg},
		Max: orb.Point{float64(key.X+1) * ti.sizeDeg, float64(key.Y+1) * ti.sizeDeg},
	}
}

// Neighborhood は center を中心とした extent×extent ブロックのタイルキーを返す
// 中心タイルから近いリング順（同じリング内は行・列順）に並ぶ
func (ti *TileIndex) Neighborhood(center model.TileKey, extent int) []model.TileKey {
	half := extent / 2
	keys := make([]model.TileKey, 0, extent*extent)
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			keys = append(keys, model.TileKey{X: center.X + dx, Y: center.Y + dy})
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return ring(center, keys[i]) < ring(center, keys[j])
	})
	return keys
}

// InNeighborhood は key が center の extent×extent ブロックに含まれるかチェックする
func InNeighborhood(center, key model.TileKey, extent int) bool {
	return ring(center, key) <= extent/2
}

// ring はチェビシェフ距離（何周目のリングか）
func ring(center, key model.TileKey) int {
	dx := key.X - center.X
	if dx < 0 {
		dx = -dx
	}
	dy := key.Y - center.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// TilesIntersectingRadius は中心から radiusMeters の円と交差するタイルのキーを返す
// 円の外接矩形と交差するタイルを対象とする（経度180度をまたぐ円は考慮しない）
func (ti *TileIndex) TilesIntersectingRadius(center model.Coordinate, radiusMeters float64) []model.TileKey {
	bound := geo.NewBoundAroundPoint(center.Point(), radiusMeters)
	minKey := ti.KeyFor(model.CoordinateFromPoint(bound.Min))
	maxKey := ti.KeyFor(model.CoordinateFromPoint(bound.Max))

	var keys []model.TileKey
	for y := minKey.Y; y <= maxKey.Y; y++ {
		for x := minKey.X; x <= maxKey.X; x++ {
			key := model.TileKey{X: x, Y: y}
			if ti.Bound(key).Intersects(bound) {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// IsLoaded はタイルがロード済みかチェックする
func (ti *TileIndex) IsLoaded(key model.TileKey) bool {
	_, ok := ti.tiles[key]
	return ok
}

// Get はロード済みタイルを返す
func (ti *TileIndex) Get(key model.TileKey) (*model.Tile, bool) {
	tile, ok := ti.tiles[key]
	return tile, ok
}

// MarkLoaded はタイルをロード済みとして登録する（既存の登録は置き換える）
func (ti *TileIndex) MarkLoaded(key model.TileKey, recordIDs map[string]struct{}, now time.Time) {
	if recordIDs == nil {
		recordIDs = make(map[string]struct{})
	}
	ti.tiles[key] = &model.Tile{
		Key:       key,
		LoadedAt:  now,
		RecordIDs: recordIDs,
	}
}

// Touch はロード済みタイルの LoadedAt を更新する
func (ti *TileIndex) Touch(key model.TileKey, now time.Time) bool {
	tile, ok := ti.tiles[key]
	if !ok {
		return false
	}
	tile.LoadedAt = now
	return true
}

// Unmark はタイルの登録を解除し、そのタイルに属していたレコードIDを返す
func (ti *TileIndex) Unmark(key model.TileKey) map[string]struct{} {
	tile, ok := ti.tiles[key]
	if !ok {
		return nil
	}
	delete(ti.tiles, key)
	return tile.RecordIDs
}

// DetachRecord はタイルのレコードID集合から1件取り除く
func (ti *TileIndex) DetachRecord(key model.TileKey, id string) {
	if tile, ok := ti.tiles[key]; ok {
		delete(tile.RecordIDs, id)
	}
}

// Tiles はロード済みタイルを LoadedAt の古い順で返す
func (ti *TileIndex) Tiles() []*model.Tile {
	tiles := make([]*model.Tile, 0, len(ti.tiles))
	for _, tile := range ti.tiles {
		tiles = append(tiles, tile)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if !tiles[i].LoadedAt.Equal(tiles[j].LoadedAt) {
			return tiles[i].LoadedAt.Before(tiles[j].LoadedAt)
		}
		if tiles[i].Key.Y != tiles[j].Key.Y {
			return tiles[i].Key.Y < tiles[j].Key.Y
		}
		return tiles[i].Key.X < tiles[j].Key.X
	})
	return tiles
}

// Len はロード済みタイル数を返す
func (ti *TileIndex) Len() int {
	return len(ti.tiles)
}

// Clear はすべてのタイルを破棄する
func (ti *TileIndex) Clear() {
	ti.tiles = make(map[model.TileKey]*model.Tile)
}
