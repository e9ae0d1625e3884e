package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Culoca-App/internal/domain/helper"
	"Culoca-App/internal/domain/model"
)

// ベルリン中心タイルに5件、東隣のタイルに3件
func berlinRecords() []model.Record[string] {
	return []model.Record[string]{
		rec("c5", 52.48, 13.35),
		rec("c4", 52.49, 13.36),
		rec("e3", 52.49, 13.50),
		rec("c3", 52.50, 13.38),
		rec("e2", 52.50, 13.47),
		rec("c2", 52.51, 13.39),
		rec("e1", 52.51, 13.45),
		rec("c1", 52.515, 13.40),
	}
}

func ids(records []model.Record[string]) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestNearest_BerlinScenario(t *testing.T) {
	repo := newFakeRepository(berlinRecords()...)
	cache := newTestCache(repo, DefaultCacheConfig())

	got, err := cache.Nearest(context.Background(), berlinFocus, 4, "")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, []string{"c1", "c2", "c3", "e1"}, ids(got))
	// 52.520,13.405 → 52.515,13.400 のハーバーサイン距離
	assert.InDelta(t, 650.822, got[0].Distance, 1)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	assert.Equal(t, 8, cache.Stats().RecordCount)
}

func TestNearest_DistanceMonotonicity(t *testing.T) {
	// A(フォーカス)、B、C が同一経線上に並ぶ
	a := model.Coordinate{Lat: 52.44, Lon: 13.40}
	repo := newFakeRepository(rec("C", 52.50, 13.40), rec("B", 52.46, 13.40))
	cache := newTestCache(repo, DefaultCacheConfig())

	got, err := cache.Nearest(context.Background(), a, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, ids(got))
}

func TestNearest_RecomputesDistancesForNewFocus(t *testing.T) {
	repo := newFakeRepository(berlinRecords()...)
	cache := newTestCache(repo, DefaultCacheConfig())
	ctx := context.Background()

	_, err := cache.Nearest(ctx, berlinFocus, 8, "")
	require.NoError(t, err)

	focus := model.Coordinate{Lat: 52.49, Lon: 13.50}
	got, err := cache.Nearest(ctx, focus, 8, "")
	require.NoError(t, err)
	assert.Equal(t, "e3", got[0].ID)
	assert.InDelta(t, 0, got[0].Distance, 1e-6)
	assert.InDelta(t, helper.DistanceMeters(focus, got[7].Coordinate), got[7].Distance, 1e-9)
}

func TestNearest_PinnedFirst(t *testing.T) {
	repo := newFakeRepository(berlinRecords()...)
	cache := newTestCache(repo, DefaultCacheConfig())
	ctx := context.Background()

	got, err := cache.Nearest(ctx, berlinFocus, 3, "e3")
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "c1", "c2"}, ids(got))
	assert.Equal(t, 0.0, got[0].Distance)

	t.Run("ストアにないIDは無視", func(t *testing.T) {
		got, err := cache.Nearest(ctx, berlinFocus, 3, "missing")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c3"}, ids(got))
	})

	t.Run("件数に関係なく先頭", func(t *testing.T) {
		got, err := cache.Nearest(ctx, berlinFocus, 1, "c5")
		require.NoError(t, err)
		assert.Equal(t, []string{"c5"}, ids(got))
	})
}

func TestNearest_FewerThanCount(t *testing.T) {
	repo := newFakeRepository(rec("only", 52.515, 13.40))
	cache := newTestCache(repo, DefaultCacheConfig())

	got, err := cache.Nearest(context.Background(), berlinFocus, 50, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, ids(got))

	empty := newTestCache(newFakeRepository(), DefaultCacheConfig())
	got, err = empty.Nearest(context.Background(), berlinFocus, 5, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNearest_TiesAreStableAcrossCalls(t *testing.T) {
	// フォーカスから同じ距離にある2件
	repo := newFakeRepository(rec("north", 52.51, 13.40), rec("south", 52.49, 13.40))
	cache := newTestCache(repo, DefaultCacheConfig())
	focus := model.Coordinate{Lat: 52.50, Lon: 13.40}

	first, err := cache.Nearest(context.Background(), focus, 2, "")
	require.NoError(t, err)
	for range 5 {
		again, err := cache.Nearest(context.Background(), focus, 2, "")
		require.NoError(t, err)
		assert.Equal(t, ids(first), ids(again))
	}
}

func TestNearest_InvalidInput(t *testing.T) {
	cache := newTestCache(newFakeRepository(), DefaultCacheConfig())
	ctx := context.Background()

	_, err := cache.Nearest(ctx, model.Coordinate{Lat: math.NaN(), Lon: 0}, 5, "")
	assert.ErrorIs(t, err, model.ErrInvalidCoordinate)

	_, err = cache.Nearest(ctx, berlinFocus, 0, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = cache.Nearest(ctx, berlinFocus, -1, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestNearest_LoadFailureReturnsCachedRecords(t *testing.T) {
	repo := newFakeRepository(berlinRecords()...)
	cache := newTestCache(repo, DefaultCacheConfig())
	ctx := context.Background()

	_, err := cache.Nearest(ctx, berlinFocus, 4, "")
	require.NoError(t, err)

	repo.setFail(func(orb.Bound) error { return errors.New("network down") })
	got, err := cache.Nearest(ctx, farFocus, 2, "")
	assert.ErrorIs(t, err, model.ErrFetchFailed)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"e3", "e2"}, ids(got))
}

func TestWithin(t *testing.T) {
	repo := newFakeRepository(berlinRecords()...)
	cache := newTestCache(repo, DefaultCacheConfig())
	require.NoError(t, cache.LoadFor(context.Background(), berlinFocus))

	got, err := cache.Within(berlinFocus, 3000)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(got))
	for _, r := range got {
		assert.LessOrEqual(t, r.Distance, 3000.0)
	}

	got, err = cache.Within(berlinFocus, 5000)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3", "e1", "c4", "e2"}, ids(got))

	got, err = cache.Within(model.Coordinate{Lat: -33.9, Lon: 18.4}, 5000)
	require.NoError(t, err)
	assert.Empty(t, got, "未ロードの範囲はキャッシュから返さない")

	_, err = cache.Within(berlinFocus, -1)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = cache.Within(model.Coordinate{Lat: math.Inf(-1)}, 10)
	assert.ErrorIs(t, err, model.ErrInvalidCoordinate)
}

func TestPinToFront(t *testing.T) {
	records := []model.Record[string]{rec("a", 0, 0), rec("b", 0, 0), rec("c", 0, 0)}
	records[2].Distance = 99

	got := pinToFront(records, "c")
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	assert.Equal(t, 0.0, got[0].Distance)
}
