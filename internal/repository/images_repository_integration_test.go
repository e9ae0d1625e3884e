package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Culoca-App/internal/config"
	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/infrastructure/database"
	infraFirestore "Culoca-App/internal/infrastructure/firestore"
)

// 東京駅周辺（約10km四方）
var tokyoBound = orb.Bound{Min: orb.Point{139.72, 35.63}, Max: orb.Point{139.81, 35.72}}

func assertInsideAndPublic(t *testing.T, records []model.ImageRecord) {
	t.Helper()
	for _, r := range records {
		assert.NotEmpty(t, r.ID)
		assert.True(t, tokyoBound.Contains(r.Coordinate.Point()), "record %s outside bound", r.ID)
		assert.False(t, r.Fields.IsPrivate, "record %s is private", r.ID)
	}
}

func assertUniqueIDs(t *testing.T, records []model.ImageRecord) {
	t.Helper()
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		assert.False(t, seen[r.ID], "record %s returned twice", r.ID)
		seen[r.ID] = true
	}
}

func TestSupabaseImagesRepository_Integration(t *testing.T) {
	url, key := os.Getenv("SUPABASE_URL"), os.Getenv("SUPABASE_ANON_KEY")
	if url == "" || key == "" {
		t.Skip("SUPABASE_URL / SUPABASE_ANON_KEY が未設定のためスキップ")
	}

	client, err := database.NewSupabaseClient(config.SupabaseConfig{URL: url, AnonKey: key, Table: "items"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, client.HealthCheck(ctx))

	// 小さいページサイズで複数ページの取得を通す
	repo := NewSupabaseImagesRepository(client, "items", 50)
	records, err := repo.FetchByBoundingBox(ctx, tokyoBound, model.FetchFilter{})
	require.NoError(t, err)
	t.Logf("取得件数: %d", len(records))
	assertInsideAndPublic(t, records)
	assertUniqueIDs(t, records)
}

func TestPostgresImagesRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL が未設定のためスキップ")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := database.NewPostgreSQLClient(ctx, dsn, 2)
	require.NoError(t, err)
	defer client.Close()

	records, err := NewPostgresImagesRepository(client, 50).FetchByBoundingBox(ctx, tokyoBound, model.FetchFilter{})
	require.NoError(t, err)
	t.Logf("取得件数: %d", len(records))
	assertInsideAndPublic(t, records)
	assertUniqueIDs(t, records)
}

func TestFirestoreImagesRepository_Integration(t *testing.T) {
	projectID := os.Getenv("FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("FIRESTORE_PROJECT_ID が未設定のためスキップ")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := infraFirestore.NewFirestoreClient(ctx, config.FirestoreConfig{
		ProjectID:       projectID,
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Collection:      "items",
	})
	require.NoError(t, err)
	defer client.Close()

	records, err := NewFirestoreImagesRepository(client, "items").FetchByBoundingBox(ctx, tokyoBound, model.FetchFilter{})
	require.NoError(t, err)
	t.Logf("取得件数: %d", len(records))
	assertInsideAndPublic(t, records)
}
