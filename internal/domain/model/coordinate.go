package model

import (
	"math"

	"github.com/paulmach/orb"
)

// Coordinate WGS84の緯度経度（度）
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid 緯度経度が有限値かチェック（範囲チェックは呼び出し側の責務）
func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lon) && !math.IsInf(c.Lon, 0)
}

// Point Coordinate を orb.Point（[lon, lat]）に変換
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// CoordinateFromPoint orb.Point から Coordinate を作成
func CoordinateFromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lon: p.Lon()}
}

// Location リクエストで受け取る位置情報
type Location struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// ToCoordinate Location を Coordinate に変換
func (l *Location) ToCoordinate() Coordinate {
	return Coordinate{Lat: l.Latitude, Lon: l.Longitude}
}
