package firestore

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"Culoca-App/internal/config"
	"Culoca-App/internal/logging"
)

type FirestoreClient struct {
	client *firestore.Client
}

// NewFirestoreClient Firestoreクライアントを作成
// 認証情報ファイルが見つからない場合はデフォルト認証（Cloud Run等）を使う
func NewFirestoreClient(ctx context.Context, cfg config.FirestoreConfig) (*FirestoreClient, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("FirestoreのプロジェクトIDが設定されていません")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			logging.Warn().Str("credentials_file", cfg.CredentialsFile).Msg("credentials file not found, using default authentication")
		} else {
			logging.Info().Str("credentials_file", cfg.CredentialsFile).Msg("using credentials file")
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	logging.Info().Str("project_id", cfg.ProjectID).Msg("firestore client initialized")

	return &FirestoreClient{client: client}, nil
}

func (fc *FirestoreClient) Close() error {
	return fc.client.Close()
}

func (fc *FirestoreClient) GetClient() *firestore.Client {
	return fc.client
}
