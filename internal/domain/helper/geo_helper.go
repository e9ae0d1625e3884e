package helper

import (
	"math"
	"sort"

	"Culoca-App/internal/domain/model"
)

// DistanceMeters は2地点間の大円距離を計算する (m)
//
// 非有限値の入力は NaN がそのまま伝播する。
func DistanceMeters(a, b model.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return model.EarthRadiusMeters * c
}

// SortByDistance は各レコードの Distance を focus 基準で再計算し、近い順に並べ替える
//
// 距離が等しい場合は元の並び順を保つ。
func SortByDistance[T any](focus model.Coordinate, records []model.Record[T]) {
	for i := range records {
		records[i].Distance = DistanceMeters(focus, records[i].Coordinate)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Distance < records[j].Distance
	})
}

// NormalizeLongitude は経度を [-180, 180] に正規化する
func NormalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
