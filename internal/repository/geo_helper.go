package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"Culoca-App/internal/domain/model"
)

// imageColumns itemsテーブルから取得する列
const imageColumns = "id,lat,lon,title,description,slug,original_name,path_64,path_512,path_2048,width,height,is_private,profile_id,created_at"

// ImageRow itemsテーブルの1行（座標のない行は null）
type ImageRow struct {
	ID           string     `json:"id"`
	Lat          *float64   `json:"lat"`
	Lon          *float64   `json:"lon"`
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Slug         *string    `json:"slug"`
	OriginalName *string    `json:"original_name"`
	Path64       *string    `json:"path_64"`
	Path512      *string    `json:"path_512"`
	Path2048     *string    `json:"path_2048"`
	Width        *int       `json:"width"`
	Height       *int       `json:"height"`
	IsPrivate    bool       `json:"is_private"`
	ProfileID    *string    `json:"profile_id"`
	CreatedAt    *time.Time `json:"created_at"`
}

// ToRecord ImageRow を model.ImageRecord に変換
// 座標のない行は取り込まないため false を返す
func (r *ImageRow) ToRecord() (model.ImageRecord, bool) {
	if r.ID == "" || r.Lat == nil || r.Lon == nil {
		return model.ImageRecord{}, false
	}

	fields := model.ImageFields{
		Title:        deref(r.Title),
		Description:  deref(r.Description),
		Slug:         deref(r.Slug),
		OriginalName: deref(r.OriginalName),
		Path64:       deref(r.Path64),
		Path512:      deref(r.Path512),
		Path2048:     deref(r.Path2048),
		Width:        deref(r.Width),
		Height:       deref(r.Height),
		IsPrivate:    r.IsPrivate,
		ProfileID:    deref(r.ProfileID),
		CreatedAt:    deref(r.CreatedAt),
	}
	return model.ImageRecord{
		ID:         r.ID,
		Coordinate: model.Coordinate{Lat: *r.Lat, Lon: *r.Lon},
		Fields:     fields,
	}, true
}

// RowsToRecords 座標を持つ行だけをレコードに変換
func RowsToRecords(rows []ImageRow) []model.ImageRecord {
	records := make([]model.ImageRecord, 0, len(rows))
	for i := range rows {
		if record, ok := rows[i].ToRecord(); ok {
			records = append(records, record)
		}
	}
	return records
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// BoundToWKT タイルの範囲をPostGIS用のWKTポリゴンに変換
func BoundToWKT(bound orb.Bound) string {
	return wkt.MarshalString(bound.ToPolygon())
}

// formatCoord PostgRESTのフィルタ値として座標を文字列化
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// privacyFilter 公開画像、または閲覧者自身の画像に絞るPostgRESTの or 条件
func privacyFilter(viewerID string) string {
	if viewerID == "" {
		return "is_private.eq.false"
	}
	return fmt.Sprintf("is_private.eq.false,profile_id.eq.%s", viewerID)
}

// likePattern 部分一致検索のパターン（ワイルドカード文字はエスケープ）
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
