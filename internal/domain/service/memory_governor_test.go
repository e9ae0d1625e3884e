package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Culoca-App/internal/domain/model"
)

// loadTiles は n 枚のタイルにそれぞれ perTile 件のレコードを登録する（古い順に X=0,1,2...）
func loadTiles(index *TileIndex, store *RecordStore[string], n, perTile int) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for x := 0; x < n; x++ {
		key := model.TileKey{X: x, Y: 0}
		ids := make(map[string]struct{}, perTile)
		for i := 0; i < perTile; i++ {
			id := fmt.Sprintf("%d-%d", x, i)
			store.Upsert(rec(id, 0, 0))
			ids[id] = struct{}{}
		}
		index.MarkLoaded(key, ids, t0.Add(time.Duration(x)*time.Minute))
	}
}

func TestEnforceBudget(t *testing.T) {
	t.Run("上限以下なら何もしない", func(t *testing.T) {
		index, store := NewTileIndex(10), NewRecordStore[string]()
		loadTiles(index, store, 3, 10)

		assert.Empty(t, EnforceBudget(index, store, 30, nil))
		assert.Equal(t, 30, store.Size())
	})

	t.Run("古い順に上限の8割まで破棄", func(t *testing.T) {
		index, store := NewTileIndex(10), NewRecordStore[string]()
		loadTiles(index, store, 5, 10)

		evicted := EnforceBudget(index, store, 30, nil)
		assert.Equal(t, []model.TileKey{{X: 0}, {X: 1}, {X: 2}}, evicted)
		assert.Equal(t, 20, store.Size())
		assert.Equal(t, 2, index.Len())
		_, ok := store.Get("0-0")
		assert.False(t, ok)
	})

	t.Run("保護されたタイルは古くても残す", func(t *testing.T) {
		index, store := NewTileIndex(10), NewRecordStore[string]()
		loadTiles(index, store, 5, 10)

		evicted := EnforceBudget(index, store, 30, func(key model.TileKey) bool {
			return key.X == 0
		})
		assert.Equal(t, []model.TileKey{{X: 1}, {X: 2}, {X: 3}}, evicted)
		assert.True(t, index.IsLoaded(model.TileKey{X: 0}))
		assert.Equal(t, 20, store.Size())
	})

	t.Run("保護対象だけで超過していれば超過のまま", func(t *testing.T) {
		index, store := NewTileIndex(10), NewRecordStore[string]()
		loadTiles(index, store, 2, 10)

		evicted := EnforceBudget(index, store, 5, func(model.TileKey) bool { return true })
		assert.Empty(t, evicted)
		assert.Equal(t, 20, store.Size())
	})
}

func TestImageCache_BudgetNeverEvictsActiveNeighborhood(t *testing.T) {
	// 各タイル1件ずつ
	var records []model.Record[string]
	index := NewTileIndex(10)
	center := index.KeyFor(berlinFocus)
	for dx := -1; dx <= 2; dx++ {
		for dy := -1; dy <= 1; dy++ {
			key := model.TileKey{X: center.X + dx, Y: center.Y + dy}
			c := model.CoordinateFromPoint(index.Bound(key).Center())
			records = append(records, rec(key.String(), c.Lat, c.Lon))
		}
	}
	repo := newFakeRepository(records...)

	cfg := DefaultCacheConfig()
	cfg.MaxRecords = MaxRecordsLimit(2)
	cfg.EvictOutsideGrid = false
	cache := newTestCache(repo, cfg)
	ctx := context.Background()

	require.NoError(t, cache.LoadFor(ctx, berlinFocus))
	assert.Equal(t, 9, cache.Stats().RecordCount, "アクティブなブロックは上限を超えても保持")

	// 東に1タイル移動すると、西端の列だけがブロック外になる
	require.NoError(t, cache.LoadFor(ctx, oneEastFocus))
	stats := cache.Stats()
	assert.Equal(t, 9, stats.RecordCount)
	assert.Equal(t, 9, stats.TileCount)

	newCenter := model.TileKey{X: center.X + 1, Y: center.Y}
	for _, id := range cache.recordIDs() {
		var key model.TileKey
		_, err := fmt.Sscanf(id, "%d:%d", &key.X, &key.Y)
		require.NoError(t, err)
		assert.True(t, InNeighborhood(newCenter, key, 3), "record %s", id)
	}
}

func TestImageCache_BudgetEvictsLeastRecentlyLoadedFirst(t *testing.T) {
	repo := newFakeRepository(
		rec("center", 52.515, 13.40),
		rec("far", 52.515, 13.70),
		rec("farther", 52.515, 14.10),
	)
	cfg := DefaultCacheConfig()
	cfg.EvictOutsideGrid = false
	cache := newTestCache(repo, cfg)
	ctx := context.Background()

	require.NoError(t, cache.LoadFor(ctx, berlinFocus))
	require.NoError(t, cache.LoadFor(ctx, farFocus))
	require.NoError(t, cache.LoadFor(ctx, model.Coordinate{Lat: 52.515, Lon: 14.10}))
	assert.Equal(t, 3, cache.Stats().RecordCount)

	// 上限を下げるとベルリン周辺（最も古い）から破棄される
	cfg.MaxRecords = MaxRecordsLimit(2)
	require.NoError(t, cache.Configure(cfg))
	assert.Equal(t, []string{"farther"}, cache.recordIDs())
}
