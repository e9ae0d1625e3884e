package repository

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/supabase-community/postgrest-go"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	"Culoca-App/internal/infrastructure/database"
)

// defaultPageSize 1回の問い合わせで取得する最大行数の既定値
const defaultPageSize = 1000

type SupabaseImagesRepository struct {
	client   *database.SupabaseClient
	table    string
	pageSize int
}

func NewSupabaseImagesRepository(client *database.SupabaseClient, table string, pageSize int) repository.ImagesRepository {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &SupabaseImagesRepository{
		client:   client,
		table:    table,
		pageSize: pageSize,
	}
}

// FetchByBoundingBox 範囲内（境界を含む）の画像をPostgREST経由で取得
// id 順のキーセットページングで、ページが埋まらなくなるまで取得を続ける
func (r *SupabaseImagesRepository) FetchByBoundingBox(ctx context.Context, bound orb.Bound, filter model.FetchFilter) ([]model.ImageRecord, error) {
	var records []model.ImageRecord
	after := ""
	for {
		data, err := r.client.Execute(ctx, r.pageQuery(bound, filter, after))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("画像データの取得中断: %w", err)
			}
			return nil, fmt.Errorf("画像データの取得失敗: %w", err)
		}

		var rows []ImageRow
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("画像データのJSONアンマーシャル失敗: %w", err)
		}
		records = append(records, RowsToRecords(rows)...)

		if len(rows) < r.pageSize {
			return records, nil
		}
		next := rows[len(rows)-1].ID
		if next == after {
			return nil, fmt.Errorf("画像データのページングが進みません: id=%s", next)
		}
		after = next
	}
}

// pageQuery after より大きい id の行を id 昇順で1ページ分取得するクエリ
func (r *SupabaseImagesRepository) pageQuery(bound orb.Bound, filter model.FetchFilter, after string) *postgrest.FilterBuilder {
	query := r.client.GetClient().From(r.table).
		Select(imageColumns, "", false).
		Gte("lat", formatCoord(bound.Min.Lat())).
		Lte("lat", formatCoord(bound.Max.Lat())).
		Gte("lon", formatCoord(bound.Min.Lon())).
		Lte("lon", formatCoord(bound.Max.Lon())).
		Or(privacyFilter(filter.ViewerID), "")
	if filter.UserID != "" {
		query = query.Eq("profile_id", filter.UserID)
	}
	if filter.Query != "" {
		query = query.Ilike("title", likePattern(filter.Query))
	}
	if after != "" {
		query = query.Gt("id", after)
	}
	return query.
		Order("id", &postgrest.OrderOpts{Ascending: true}).
		Limit(r.pageSize, "")
}
