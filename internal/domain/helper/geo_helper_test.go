package helper

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"

	"Culoca-App/internal/domain/model"
)

var (
	berlin  = model.Coordinate{Lat: 52.520, Lon: 13.405}
	potsdam = model.Coordinate{Lat: 52.3906, Lon: 13.0645}
)

func TestDistanceMeters(t *testing.T) {
	t.Run("同一地点は0", func(t *testing.T) {
		assert.Equal(t, 0.0, DistanceMeters(berlin, berlin))
	})

	t.Run("対称性", func(t *testing.T) {
		assert.InDelta(t, DistanceMeters(berlin, potsdam), DistanceMeters(potsdam, berlin), 1e-6)
	})

	t.Run("ベルリン-ポツダム", func(t *testing.T) {
		// 約27.2km
		assert.InDelta(t, 27191, DistanceMeters(berlin, potsdam), 5)
	})

	t.Run("赤道上の経度1度", func(t *testing.T) {
		d := DistanceMeters(model.Coordinate{Lat: 0, Lon: 0}, model.Coordinate{Lat: 0, Lon: 1})
		assert.InDelta(t, model.EarthRadiusMeters*math.Pi/180, d, 1e-6)
	})

	t.Run("orbのハーバーサインと半径比で一致", func(t *testing.T) {
		orbDist := geo.DistanceHaversine(orb.Point{berlin.Lon, berlin.Lat}, orb.Point{potsdam.Lon, potsdam.Lat})
		expected := orbDist * model.EarthRadiusMeters / orb.EarthRadius
		assert.InDelta(t, expected, DistanceMeters(berlin, potsdam), 0.01)
	})

	t.Run("NaNは伝播する", func(t *testing.T) {
		d := DistanceMeters(berlin, model.Coordinate{Lat: math.NaN(), Lon: 13})
		assert.True(t, math.IsNaN(d))
	})
}

func TestSortByDistance(t *testing.T) {
	records := []model.Record[string]{
		{ID: "far", Coordinate: model.Coordinate{Lat: 52.60, Lon: 13.405}},
		{ID: "tie-a", Coordinate: model.Coordinate{Lat: 52.53, Lon: 13.405}},
		{ID: "near", Coordinate: model.Coordinate{Lat: 52.521, Lon: 13.405}},
		{ID: "tie-b", Coordinate: model.Coordinate{Lat: 52.53, Lon: 13.405}},
	}

	SortByDistance(berlin, records)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"near", "tie-a", "tie-b", "far"}, ids)
	assert.Greater(t, records[0].Distance, 0.0)
	assert.InDelta(t, DistanceMeters(berlin, records[3].Coordinate), records[3].Distance, 1e-9)
}

func TestNormalizeLongitude(t *testing.T) {
	cases := map[float64]float64{
		13.405: 13.405,
		180:    180,
		-180:   -180,
		190:    -170,
		-190:   170,
		540:    -180,
	}
	for in, want := range cases {
		assert.InDelta(t, want, NormalizeLongitude(in), 1e-9, "lon=%v", in)
	}
}
