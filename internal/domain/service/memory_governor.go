package service

import (
	"math"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/metrics"
)

// EnforceBudget はレコード数が maxRecords を超えている場合に古いタイルから破棄する
//
// LoadedAt の古い順に、protected が true を返すタイルを除いて破棄し、
// レコード数が maxRecords の8割以下になった時点で止める。
// 保護対象のタイルだけで上限を超えている場合は上限を超えたままになる。
// 破棄したタイルのキーを返す。
func EnforceBudget[T any](index *TileIndex, store *RecordStore[T], maxRecords int, protected func(model.TileKey) bool) []model.TileKey {
	if store.Size() <= maxRecords {
		return nil
	}
	target := int(math.Floor(model.BudgetHysteresis * float64(maxRecords)))

	var evicted []model.TileKey
	for _, tile := range index.Tiles() {
		if store.Size() <= target {
			break
		}
		if protected != nil && protected(tile.Key) {
			continue
		}
		evictTile(index, store, tile.Key)
		evicted = append(evicted, tile.Key)
	}
	return evicted
}

// evictTile はタイルの登録を解除し、そのタイルのレコードをストアから削除する
func evictTile[T any](index *TileIndex, store *RecordStore[T], key model.TileKey) int {
	ids := index.Unmark(key)
	for id := range ids {
		store.Delete(id)
	}
	return len(ids)
}

// enforceBudgetLocked は現在の周辺ブロックを保護してメモリ上限を適用する
func (c *ImageCache[T]) enforceBudgetLocked(center model.TileKey) {
	if c.cfg.MaxRecords == nil {
		return
	}
	maxRecords := *c.cfg.MaxRecords
	extent := c.cfg.GridExtent

	evicted := EnforceBudget(c.index, c.store, maxRecords, func(key model.TileKey) bool {
		return InNeighborhood(center, key, extent)
	})
	if len(evicted) > 0 {
		metrics.TilesEvictedTotal.WithLabelValues("budget").Add(float64(len(evicted)))
		c.logger.Debug().
			Int("tiles", len(evicted)).
			Int("records", c.store.Size()).
			Int("max_records", maxRecords).
			Msg("evicted least recently loaded tiles over budget")
	}
	if c.store.Size() > maxRecords {
		c.logger.Warn().
			Int("records", c.store.Size()).
			Int("max_records", maxRecords).
			Msg("active grid alone exceeds record budget")
	}
	c.reportSizeLocked()
}
