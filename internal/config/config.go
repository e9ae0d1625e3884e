// Package config はサーバー設定の読み込みを行う
//
// 優先順位: 環境変数 > 設定ファイル（YAML） > デフォルト値
// .env ファイルがあれば先に環境変数として読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"Culoca-App/internal/domain/model"
)

// ConfigPathEnvVar 設定ファイルのパスを指定する環境変数
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths 設定ファイルの探索パス
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/culoca/config.yaml",
}

// Config サーバー全体の設定
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Source    SourceConfig    `koanf:"source"`
	Supabase  SupabaseConfig  `koanf:"supabase"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Firestore FirestoreConfig `koanf:"firestore"`
	Loader    LoaderConfig    `koanf:"loader"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig HTTPサーバーの設定
type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required,numeric"`
	GinMode         string        `koanf:"gin_mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
}

// SourceConfig 画像の取得元
type SourceConfig struct {
	Kind string `koanf:"kind" validate:"oneof=supabase postgres firestore"`
}

// SupabaseConfig Supabase（PostgREST）の接続設定
type SupabaseConfig struct {
	URL        string `koanf:"url" validate:"omitempty,url"`
	AnonKey    string `koanf:"anon_key"`
	DBPassword string `koanf:"db_password"`
	Table      string `koanf:"table" validate:"required"`
}

// PostgresConfig PostGISへの直接接続の設定
// DSN が空の場合は Supabase の URL とDBパスワードから組み立てる
type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	Port         int    `koanf:"port" validate:"min=1,max=65535"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"min=1"`
}

// FirestoreConfig Firestoreの接続設定
type FirestoreConfig struct {
	ProjectID       string `koanf:"project_id"`
	CredentialsFile string `koanf:"credentials_file"`
	Collection      string `koanf:"collection" validate:"required"`
}

// LoaderConfig 近傍画像キャッシュの設定
type LoaderConfig struct {
	TileSizeKm       float64 `koanf:"tile_size_km" validate:"gt=0"`
	GridExtent       int     `koanf:"grid_extent" validate:"min=1"`
	MaxRecords       int     `koanf:"max_records" validate:"min=0"` // 0 は無制限
	EvictOutsideGrid bool    `koanf:"evict_outside_grid"`
}

// FetchConfig 取得元呼び出しの制御
type FetchConfig struct {
	Timeout         time.Duration `koanf:"timeout" validate:"min=1ms"`
	RateLimit       float64       `koanf:"rate_limit" validate:"gt=0"` // 1秒あたりの取得回数
	Burst           int           `koanf:"burst" validate:"min=1"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"min=1s"`
	PageSize        int           `koanf:"page_size" validate:"min=1"` // 1回の問い合わせの行数
}

// SessionsConfig 閲覧セッションの管理
type SessionsConfig struct {
	IdleTTL       time.Duration `koanf:"idle_ttl" validate:"min=1s"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1s"`
	Max           int           `koanf:"max" validate:"min=1"`
}

// LoggingConfig ログ出力の設定
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		Source: SourceConfig{
			Kind: model.SourceSupabase,
		},
		Supabase: SupabaseConfig{
			Table: "items",
		},
		Postgres: PostgresConfig{
			Port:         6543,
			MaxOpenConns: 10,
		},
		Firestore: FirestoreConfig{
			Collection: "items",
		},
		Loader: LoaderConfig{
			TileSizeKm:       model.DefaultTileSizeKm,
			GridExtent:       model.DefaultGridExtent,
			EvictOutsideGrid: true,
		},
		Fetch: FetchConfig{
			Timeout:         10 * time.Second,
			RateLimit:       20,
			Burst:           5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			PageSize:        1000,
		},
		Sessions: SessionsConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			Max:           1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load は .env・設定ファイル・環境変数から設定を読み込み、検証する
func Load() (*Config, error) {
	// .env は任意（本番では環境変数を直接設定する）
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("デフォルト設定の読み込みに失敗: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings 環境変数名 → 設定キー
var envMappings = map[string]string{
	"port":                           "server.port",
	"gin_mode":                       "server.gin_mode",
	"shutdown_timeout":               "server.shutdown_timeout",
	"image_source":                   "source.kind",
	"supabase_url":                   "supabase.url",
	"supabase_anon_key":              "supabase.anon_key",
	"supabase_db_password":           "supabase.db_password",
	"supabase_images_table":          "supabase.table",
	"database_url":                   "postgres.dsn",
	"postgres_port":                  "postgres.port",
	"postgres_max_open_conns":        "postgres.max_open_conns",
	"firestore_project_id":           "firestore.project_id",
	"google_application_credentials": "firestore.credentials_file",
	"firestore_collection":           "firestore.collection",
	"tile_size_km":                   "loader.tile_size_km",
	"grid_extent":                    "loader.grid_extent",
	"max_records":                    "loader.max_records",
	"evict_outside_grid":             "loader.evict_outside_grid",
	"fetch_timeout":                  "fetch.timeout",
	"fetch_rate_limit":               "fetch.rate_limit",
	"fetch_burst":                    "fetch.burst",
	"breaker_failures":               "fetch.breaker_failures",
	"breaker_timeout":                "fetch.breaker_timeout",
	"fetch_page_size":                "fetch.page_size",
	"session_idle_ttl":               "sessions.idle_ttl",
	"session_sweep_interval":         "sessions.sweep_interval",
	"max_sessions":                   "sessions.max",
	"log_level":                      "logging.level",
	"log_format":                     "logging.format",
	"log_caller":                     "logging.caller",
}

// envTransformFunc は環境変数名を設定キーに変換する
// 対応表にない環境変数は読み込まない
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var validate = validator.New()

// Validate は設定値を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Loader.GridExtent%2 == 0 {
		return fmt.Errorf("loader.grid_extent は奇数で指定してください: %d", c.Loader.GridExtent)
	}

	var errs []error
	switch c.Source.Kind {
	case model.SourceSupabase:
		if c.Supabase.URL == "" {
			errs = append(errs, errors.New("SUPABASE_URL環境変数が設定されていません"))
		}
		if c.Supabase.AnonKey == "" {
			errs = append(errs, errors.New("SUPABASE_ANON_KEY環境変数が設定されていません"))
		}
	case model.SourcePostgres:
		if c.Postgres.DSN == "" && (c.Supabase.URL == "" || c.Supabase.DBPassword == "") {
			errs = append(errs, errors.New("DATABASE_URL、またはSUPABASE_URLとSUPABASE_DB_PASSWORDを設定してください"))
		}
	case model.SourceFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("FIRESTORE_PROJECT_ID環境変数が設定されていません"))
		}
	}
	return errors.Join(errs...)
}

// PostgresDSN はPostGISへの接続文字列を返す
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	// https://xxx.supabase.co -> db.xxx.supabase.co
	host := strings.TrimPrefix(strings.TrimPrefix(c.Supabase.URL, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	return fmt.Sprintf(
		"host=db.%s port=%d user=postgres password=%s dbname=postgres sslmode=require",
		host, c.Postgres.Port, c.Supabase.DBPassword,
	)
}

// MaxRecordsLimit はキャッシュの保持上限を返す（0 は無制限として nil）
func (l LoaderConfig) MaxRecordsLimit() *int {
	if l.MaxRecords <= 0 {
		return nil
	}
	n := l.MaxRecords
	return &n
}
