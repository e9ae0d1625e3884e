package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	"Culoca-App/internal/logging"
	"Culoca-App/internal/metrics"
)

// CacheConfig はキャッシュの設定
type CacheConfig struct {
	// TileSizeKm タイル1辺の長さ（km）。変更するとキャッシュ全体が破棄される
	TileSizeKm float64
	// GridExtent フォーカスタイルを中心としたブロックの一辺（奇数）
	GridExtent int
	// MaxRecords メモリ上に保持するレコード数の上限。nil なら無制限
	MaxRecords *int
	// EvictOutsideGrid フォーカスタイルが変わったときにブロック外のタイルを破棄する
	EvictOutsideGrid bool
	// FetchTimeout 1タイル分の取得のタイムアウト
	FetchTimeout time.Duration
}

// DefaultCacheConfig はデフォルト設定を返す（10kmタイル、3×3ブロック、上限なし）
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TileSizeKm:       model.DefaultTileSizeKm,
		GridExtent:       model.DefaultGridExtent,
		EvictOutsideGrid: true,
		FetchTimeout:     10 * time.Second,
	}
}

// Validate は設定値をチェックする
func (c CacheConfig) Validate() error {
	if !(c.TileSizeKm > 0) {
		return fmt.Errorf("%w: tile size must be positive, got %v", model.ErrInvalidInput, c.TileSizeKm)
	}
	if c.GridExtent < 1 || c.GridExtent%2 == 0 {
		return fmt.Errorf("%w: grid extent must be a positive odd number, got %d", model.ErrInvalidInput, c.GridExtent)
	}
	if c.MaxRecords != nil && *c.MaxRecords < 1 {
		return fmt.Errorf("%w: max records must be at least 1, got %d", model.ErrInvalidInput, *c.MaxRecords)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch timeout must be positive, got %s", model.ErrInvalidInput, c.FetchTimeout)
	}
	return nil
}

// MaxRecordsLimit は上限値へのポインタを返す（設定用）
func MaxRecordsLimit(n int) *int {
	return &n
}

type options struct {
	logger zerolog.Logger
	now    func() time.Time
	filter model.FetchFilter
}

// Option は ImageCache の生成オプション
type Option func(*options)

// WithLogger はキャッシュが使うロガーを設定する
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock はタイルの LoadedAt に使う時計を差し替える
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithFilter は取得元に渡す閲覧者・検索条件を設定する
func WithFilter(filter model.FetchFilter) Option {
	return func(o *options) {
		o.filter = filter
	}
}

// loadRequest は LoadFor 1回分の要求
type loadRequest struct {
	ctx   context.Context
	focus model.Coordinate
	key   model.TileKey
	seq   uint64
	done  chan struct{}
	err   error
}

// ImageCache はフォーカス地点の周辺タイルを段階的に読み込み、近い順にレコードを返す
// 閲覧セッションごとに1つ生成する。すべてのメソッドは並行に呼び出してよい。
type ImageCache[T any] struct {
	repo   repository.RecordsRepository[T]
	filter model.FetchFilter
	logger zerolog.Logger
	now    func() time.Time

	mu           sync.Mutex
	cfg          CacheConfig
	index        *TileIndex
	store        *RecordStore[T]
	focusTile    *model.TileKey
	lastLoadedAt time.Time
	seq          uint64
	busy         bool
	running      *loadRequest
	pending      *loadRequest
	reported     int
}

// NewImageCache は新しい ImageCache を作成する
func NewImageCache[T any](repo repository.RecordsRepository[T], cfg CacheConfig, opts ...Option) (*ImageCache[T], error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: repository is required", model.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger: logging.With().Str("component", "image_cache").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &ImageCache[T]{
		repo:   repo,
		filter: o.filter,
		logger: o.logger,
		now:    o.now,
		cfg:    cfg,
		index:  NewTileIndex(cfg.TileSizeKm),
		store:  NewRecordStore[T](),
	}, nil
}

// Config は現在の設定を返す
func (c *ImageCache[T]) Config() CacheConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Configure は設定を変更する
// タイルサイズが変わった場合は既存のタイルキーが無効になるため、キャッシュを破棄する
func (c *ImageCache[T]) Configure(cfg CacheConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.TileSizeKm != c.cfg.TileSizeKm {
		c.resetLocked()
		c.index = NewTileIndex(cfg.TileSizeKm)
		c.logger.Info().Float64("tile_size_km", cfg.TileSizeKm).Msg("tile size changed, cache cleared")
	}
	c.cfg = cfg

	if c.focusTile != nil {
		c.enforceBudgetLocked(*c.focusTile)
	}
	return nil
}

// Clear はすべての状態を破棄する（待機中の要求も破棄される）
func (c *ImageCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Stats はキャッシュの統計を返す
func (c *ImageCache[T]) Stats() model.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := model.CacheStats{
		RecordCount:  c.store.Size(),
		TileCount:    c.index.Len(),
		PendingFetch: c.busy || c.pending != nil,
		LastLoadedAt: c.lastLoadedAt,
	}
	if c.focusTile != nil {
		key := *c.focusTile
		stats.FocusTile = &key
	}
	return stats
}

// resetLocked はストアとインデックスを空にし、実行中の要求を古いものとして扱う
func (c *ImageCache[T]) resetLocked() {
	c.seq++
	c.releasePendingLocked()

	if n := c.index.Len(); n > 0 {
		metrics.TilesEvictedTotal.WithLabelValues("clear").Add(float64(n))
	}
	c.store.Clear()
	c.index.Clear()
	c.focusTile = nil
	c.lastLoadedAt = time.Time{}
	c.reportSizeLocked()
}

// releasePendingLocked は待機中の要求をエラーなしで解放する
func (c *ImageCache[T]) releasePendingLocked() {
	if c.pending == nil {
		return
	}
	close(c.pending.done)
	c.pending = nil
	metrics.CacheRequestsTotal.WithLabelValues("superseded").Inc()
}

// reportSizeLocked は保持件数の増減をゲージに反映する
func (c *ImageCache[T]) reportSizeLocked() {
	size := c.store.Size()
	if size != c.reported {
		metrics.CachedRecords.Add(float64(size - c.reported))
		c.reported = size
	}
}
