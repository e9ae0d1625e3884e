package repository

import (
	"context"

	"github.com/paulmach/orb"

	"Culoca-App/internal/domain/model"
)

// RecordsRepository キャッシュの背後にある取得元（Supabase / PostGIS / Firestore）
//
// FetchByBoundingBox は bound 内（境界を含む）に座標を持つレコードを返す。
// filter の閲覧者IDによるプライバシー絞り込みは取得元の責務。
// 失敗時のリトライは行わない。
type RecordsRepository[T any] interface {
	FetchByBoundingBox(ctx context.Context, bound orb.Bound, filter model.FetchFilter) ([]model.Record[T], error)
}

// ImagesRepository 画像レコードの取得元
type ImagesRepository = RecordsRepository[model.ImageFields]
