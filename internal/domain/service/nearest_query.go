package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"Culoca-App/internal/domain/helper"
	"Culoca-App/internal/domain/model"
)

// Nearest はフォーカス地点に近い順に最大 count 件のレコードを返す
//
// 先に LoadFor で周辺タイルを読み込み、ストア内の全レコードの距離を再計算する。
// 読み込みに失敗した場合もキャッシュ済みのレコードを返し、エラーを併せて返す。
// pinnedID のレコードがストアにあれば距離0として先頭に置く。
func (c *ImageCache[T]) Nearest(ctx context.Context, focus model.Coordinate, count int, pinnedID string) ([]model.Record[T], error) {
	if !focus.Valid() {
		return nil, model.ErrInvalidCoordinate
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive, got %d", model.ErrInvalidInput, count)
	}

	loadErr := c.LoadFor(ctx, focus)

	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.store.All()
	helper.SortByDistance(focus, records)
	for _, record := range records {
		c.store.SetDistance(record.ID, record.Distance)
	}

	if pinnedID != "" {
		records = pinToFront(records, pinnedID)
	}
	if len(records) > count {
		records = records[:count]
	}
	return records, loadErr
}

// pinToFront は指定IDのレコードを距離0で先頭に移動する
func pinToFront[T any](records []model.Record[T], id string) []model.Record[T] {
	for i, record := range records {
		if record.ID != id {
			continue
		}
		record.Distance = 0
		copy(records[1:i+1], records[:i])
		records[0] = record
		break
	}
	return records
}

// Within は中心から radiusMeters 以内のキャッシュ済みレコードを近い順に返す
//
// 円と交差するロード済みタイルの和集合から探す。取得は行わない。
func (c *ImageCache[T]) Within(center model.Coordinate, radiusMeters float64) ([]model.Record[T], error) {
	if !center.Valid() {
		return nil, model.ErrInvalidCoordinate
	}
	if math.IsNaN(radiusMeters) || radiusMeters < 0 {
		return nil, fmt.Errorf("%w: radius must be non-negative, got %v", model.ErrInvalidInput, radiusMeters)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tiles := make(map[model.TileKey]struct{})
	for _, key := range c.index.TilesIntersectingRadius(center, radiusMeters) {
		if c.index.IsLoaded(key) {
			tiles[key] = struct{}{}
		}
	}
	if len(tiles) == 0 {
		return []model.Record[T]{}, nil
	}

	var result []model.Record[T]
	for _, record := range c.store.All() {
		if _, ok := tiles[c.index.KeyFor(record.Coordinate)]; !ok {
			continue
		}
		record.Distance = helper.DistanceMeters(center, record.Coordinate)
		if record.Distance <= radiusMeters {
			result = append(result, record)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance < result[j].Distance
	})
	if result == nil {
		result = []model.Record[T]{}
	}
	return result, nil
}
