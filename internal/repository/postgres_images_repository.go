package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	"Culoca-App/internal/infrastructure/database"
)

type PostgresImagesRepository struct {
	client   *database.PostgreSQLClient
	pageSize int
}

func NewPostgresImagesRepository(client *database.PostgreSQLClient, pageSize int) repository.ImagesRepository {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &PostgresImagesRepository{
		client:   client,
		pageSize: pageSize,
	}
}

// fetchByBoundingBoxQuery PostGISでタイルの範囲（境界を含む）にある画像を id 順に1ページ分検索
// $1: 範囲のWKT, $2: 閲覧者ID, $3: 投稿者ID, $4: タイトル検索, $5: 前ページ最後のID, $6: ページサイズ
const fetchByBoundingBoxQuery = `
SELECT id, lat, lon, title, description, slug, original_name,
       path_64, path_512, path_2048, width, height, is_private,
       profile_id::text, created_at
FROM items
WHERE lat IS NOT NULL AND lon IS NOT NULL
  AND ST_Intersects(ST_SetSRID(ST_MakePoint(lon, lat), 4326), ST_GeomFromText($1, 4326))
  AND (is_private = false OR profile_id::text = $2)
  AND ($3 = '' OR profile_id::text = $3)
  AND ($4 = '' OR title ILIKE $4)
  AND ($5 = '' OR id::text > $5)
ORDER BY id::text
LIMIT $6`

// imageScanRow SQLのNULLを受け取るための構造体
type imageScanRow struct {
	ID           string
	Lat          float64
	Lon          float64
	Title        sql.NullString
	Description  sql.NullString
	Slug         sql.NullString
	OriginalName sql.NullString
	Path64       sql.NullString
	Path512      sql.NullString
	Path2048     sql.NullString
	Width        sql.NullInt64
	Height       sql.NullInt64
	IsPrivate    sql.NullBool
	ProfileID    sql.NullString
	CreatedAt    sql.NullTime
}

// ToRecord imageScanRow を model.ImageRecord に変換
func (r *imageScanRow) ToRecord() model.ImageRecord {
	var createdAt time.Time
	if r.CreatedAt.Valid {
		createdAt = r.CreatedAt.Time
	}
	return model.ImageRecord{
		ID:         r.ID,
		Coordinate: model.Coordinate{Lat: r.Lat, Lon: r.Lon},
		Fields: model.ImageFields{
			Title:        r.Title.String,
			Description:  r.Description.String,
			Slug:         r.Slug.String,
			OriginalName: r.OriginalName.String,
			Path64:       r.Path64.String,
			Path512:      r.Path512.String,
			Path2048:     r.Path2048.String,
			Width:        int(r.Width.Int64),
			Height:       int(r.Height.Int64),
			IsPrivate:    r.IsPrivate.Bool,
			ProfileID:    r.ProfileID.String,
			CreatedAt:    createdAt,
		},
	}
}

// FetchByBoundingBox 範囲内の画像をPostGISから直接取得
// ページが埋まらなくなるまで id 順に取得を続ける
func (r *PostgresImagesRepository) FetchByBoundingBox(ctx context.Context, bound orb.Bound, filter model.FetchFilter) ([]model.ImageRecord, error) {
	query := ""
	if filter.Query != "" {
		query = likePattern(filter.Query)
	}
	wkt := BoundToWKT(bound)

	var records []model.ImageRecord
	after := ""
	for {
		page, err := r.fetchPage(ctx, wkt, filter, query, after)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < r.pageSize {
			return records, nil
		}
		after = page[len(page)-1].ID
	}
}

func (r *PostgresImagesRepository) fetchPage(ctx context.Context, wkt string, filter model.FetchFilter, query, after string) ([]model.ImageRecord, error) {
	rows, err := r.client.DB.QueryContext(ctx, fetchByBoundingBoxQuery,
		wkt, filter.ViewerID, filter.UserID, query, after, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("範囲内の画像検索失敗: %w", err)
	}
	defer rows.Close()

	var records []model.ImageRecord
	for rows.Next() {
		var row imageScanRow
		err := rows.Scan(&row.ID, &row.Lat, &row.Lon, &row.Title, &row.Description, &row.Slug,
			&row.OriginalName, &row.Path64, &row.Path512, &row.Path2048, &row.Width, &row.Height,
			&row.IsPrivate, &row.ProfileID, &row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("画像データスキャンエラー: %w", err)
		}
		records = append(records, row.ToRecord())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("画像データ読み込みエラー: %w", err)
	}

	return records, nil
}
