package database

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"Culoca-App/internal/config"
)

// SupabaseClient Supabaseクライアントのラッパー
type SupabaseClient struct {
	Client *supabase.Client
	url    string
	table  string
}

// NewSupabaseClient 新しいSupabaseクライアントを作成
func NewSupabaseClient(cfg config.SupabaseConfig) (*SupabaseClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("SupabaseのURLが設定されていません")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("SupabaseのAnonキーが設定されていません")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.AnonKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("Supabaseクライアントの初期化に失敗: %w", err)
	}

	return &SupabaseClient{
		Client: client,
		url:    cfg.URL,
		table:  cfg.Table,
	}, nil
}

// GetClient Supabaseクライアントを取得
func (sc *SupabaseClient) GetClient() *supabase.Client {
	return sc.Client
}

// URL 接続先のURLを返す
func (sc *SupabaseClient) URL() string {
	return sc.url
}

// Execute クエリを実行し、レスポンスのボディを返す
// PostgRESTクライアントはcontextを受け取らないため、キャンセル時は結果を待たずに返す
func (sc *SupabaseClient) Execute(ctx context.Context, query *postgrest.FilterBuilder) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, _, err := query.Execute()
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HealthCheck 画像テーブルに1行だけ問い合わせて接続を確認
func (sc *SupabaseClient) HealthCheck(ctx context.Context) error {
	if sc.Client == nil {
		return fmt.Errorf("Supabaseクライアントが初期化されていません")
	}

	query := sc.Client.From(sc.table).Select("id", "", false).Limit(1, "")
	if _, err := sc.Execute(ctx, query); err != nil {
		return fmt.Errorf("Supabaseへの問い合わせ失敗: %w", err)
	}
	return nil
}
