package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/paulmach/orb"
	"google.golang.org/api/iterator"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	infraFirestore "Culoca-App/internal/infrastructure/firestore"
)

// firestoreImage Firestoreの画像ドキュメント
type firestoreImage struct {
	Lat *float64 `firestore:"lat"`
	Lon *float64 `firestore:"lon"`
	model.ImageFields
}

type FirestoreImagesRepository struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreImagesRepository(client *infraFirestore.FirestoreClient, collection string) repository.ImagesRepository {
	return &FirestoreImagesRepository{
		client:     client.GetClient(),
		collection: collection,
	}
}

// FetchByBoundingBox 緯度の範囲で検索し、経度とプライバシー条件はメモリ上で絞り込む
// Firestoreは複数フィールドの範囲検索ができないため
// ページングはイテレーターが行い、範囲内のドキュメントはすべて返す
func (r *FirestoreImagesRepository) FetchByBoundingBox(ctx context.Context, bound orb.Bound, filter model.FetchFilter) ([]model.ImageRecord, error) {
	query := r.client.Collection(r.collection).
		Where("lat", ">=", bound.Min.Lat()).
		Where("lat", "<=", bound.Max.Lat())
	if filter.UserID != "" {
		query = query.Where("profile_id", "==", filter.UserID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var records []model.ImageRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Firestoreからの画像取得失敗: %w", err)
		}

		var image firestoreImage
		if err := doc.DataTo(&image); err != nil {
			return nil, fmt.Errorf("画像ドキュメント %s の変換失敗: %w", doc.Ref.ID, err)
		}
		record, ok := image.toRecord(doc.Ref.ID, bound, filter)
		if !ok {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// toRecord 範囲外・閲覧不可・座標なしのドキュメントは false
func (d *firestoreImage) toRecord(id string, bound orb.Bound, filter model.FetchFilter) (model.ImageRecord, bool) {
	if d.Lat == nil || d.Lon == nil {
		return model.ImageRecord{}, false
	}
	coord := model.Coordinate{Lat: *d.Lat, Lon: *d.Lon}
	if !bound.Contains(coord.Point()) || !filter.Matches(d.ImageFields) {
		return model.ImageRecord{}, false
	}
	return model.ImageRecord{
		ID:         id,
		Coordinate: coord,
		Fields:     d.ImageFields,
	}, true
}
