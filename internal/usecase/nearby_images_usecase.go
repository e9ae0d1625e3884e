package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	"Culoca-App/internal/domain/service"
	"Culoca-App/internal/logging"
	"Culoca-App/internal/metrics"
)

// ErrTooManySessions セッション数が上限に達している
var ErrTooManySessions = errors.New("too many browsing sessions")

// SessionConfig 閲覧セッションの管理設定
type SessionConfig struct {
	IdleTTL time.Duration
	Max     int
}

// NearbyResult 近傍画像の検索結果
// Partial は読み込みに失敗し、キャッシュ済みの画像だけで応答したことを示す
type NearbyResult struct {
	Images  []model.ImageRecord `json:"images"`
	Partial bool                `json:"partial"`
}

type NearbyImagesUseCase interface {
	// CreateSession は閲覧者ごとのキャッシュを持つセッションを作成し、IDを返す
	CreateSession(ctx context.Context, filter model.FetchFilter) (string, error)
	CloseSession(sessionID string) error

	// Nearby はフォーカス地点に近い画像を返す
	Nearby(ctx context.Context, sessionID string, focus model.Coordinate, count int, pinnedID string) (*NearbyResult, error)
	// Load は周辺タイルを先読みする
	Load(ctx context.Context, sessionID string, focus model.Coordinate) error
	Within(sessionID string, center model.Coordinate, radiusMeters float64) ([]model.ImageRecord, error)
	Stats(sessionID string) (model.CacheStats, error)
	ClearCache(sessionID string) error

	// SweepIdle は最終利用から IdleTTL を過ぎたセッションを破棄し、破棄した数を返す
	SweepIdle(now time.Time) int
	// RunSweeper は ctx が終了するまで interval ごとに SweepIdle を実行する
	RunSweeper(ctx context.Context, interval time.Duration)
	// Shutdown はすべてのセッションを破棄する
	Shutdown()
}

type session struct {
	cache    *service.ImageCache[model.ImageFields]
	lastUsed time.Time
}

// nearbyImagesUseCaseImpl はNearbyImagesUseCaseの実装
type nearbyImagesUseCaseImpl struct {
	repo     repository.ImagesRepository
	cacheCfg service.CacheConfig
	cfg      SessionConfig
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewNearbyImagesUseCase は新しいNearbyImagesUseCaseインスタンスを作成
func NewNearbyImagesUseCase(repo repository.ImagesRepository, cacheCfg service.CacheConfig, cfg SessionConfig) (NearbyImagesUseCase, error) {
	return newNearbyImagesUseCase(repo, cacheCfg, cfg, time.Now)
}

func newNearbyImagesUseCase(repo repository.ImagesRepository, cacheCfg service.CacheConfig, cfg SessionConfig, now func() time.Time) (*nearbyImagesUseCaseImpl, error) {
	if repo == nil {
		return nil, fmt.Errorf("%w: repository is required", model.ErrInvalidInput)
	}
	if err := cacheCfg.Validate(); err != nil {
		return nil, fmt.Errorf("キャッシュ設定が不正: %w", err)
	}
	if cfg.IdleTTL <= 0 || cfg.Max < 1 {
		return nil, fmt.Errorf("%w: session ttl and max must be positive", model.ErrInvalidInput)
	}
	return &nearbyImagesUseCaseImpl{
		repo:     repo,
		cacheCfg: cacheCfg,
		cfg:      cfg,
		now:      now,
		logger:   logging.With().Str("component", "nearby_images").Logger(),
		sessions: make(map[string]*session),
	}, nil
}

func (u *nearbyImagesUseCaseImpl) CreateSession(ctx context.Context, filter model.FetchFilter) (string, error) {
	if err := validateFilter(filter); err != nil {
		return "", err
	}

	id := uuid.NewString()
	cache, err := service.NewImageCache(u.repo, u.cacheCfg,
		service.WithFilter(filter),
		service.WithLogger(u.logger.With().Str("session_id", id).Logger()),
	)
	if err != nil {
		return "", fmt.Errorf("キャッシュの作成に失敗: %w", err)
	}

	now := u.now()

	u.mu.Lock()
	if len(u.sessions) >= u.cfg.Max {
		u.sweepLocked(now)
	}
	if len(u.sessions) >= u.cfg.Max {
		u.mu.Unlock()
		return "", fmt.Errorf("%w: limit %d", ErrTooManySessions, u.cfg.Max)
	}
	u.sessions[id] = &session{cache: cache, lastUsed: now}
	metrics.OpenSessions.Set(float64(len(u.sessions)))
	u.mu.Unlock()

	logging.Ctx(ctx).Info().
		Str("session_id", id).
		Bool("viewer", filter.ViewerID != "").
		Msg("browsing session created")
	return id, nil
}

func (u *nearbyImagesUseCaseImpl) CloseSession(sessionID string) error {
	u.mu.Lock()
	s, ok := u.sessions[sessionID]
	if ok {
		delete(u.sessions, sessionID)
		metrics.OpenSessions.Set(float64(len(u.sessions)))
	}
	u.mu.Unlock()

	if !ok {
		return model.ErrSessionNotFound
	}
	s.cache.Clear()
	return nil
}

func (u *nearbyImagesUseCaseImpl) Nearby(ctx context.Context, sessionID string, focus model.Coordinate, count int, pinnedID string) (*NearbyResult, error) {
	cache, err := u.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	images, err := cache.Nearest(ctx, focus, count, pinnedID)
	if err == nil {
		return &NearbyResult{Images: images}, nil
	}
	if errors.Is(err, model.ErrInvalidInput) || len(images) == 0 {
		return nil, err
	}

	logging.Ctx(ctx).Warn().Err(err).
		Str("session_id", sessionID).
		Int("cached", len(images)).
		Msg("nearby load failed, answering from cache")
	return &NearbyResult{Images: images, Partial: true}, nil
}

func (u *nearbyImagesUseCaseImpl) Load(ctx context.Context, sessionID string, focus model.Coordinate) error {
	cache, err := u.lookup(sessionID)
	if err != nil {
		return err
	}
	return cache.LoadFor(ctx, focus)
}

func (u *nearbyImagesUseCaseImpl) Within(sessionID string, center model.Coordinate, radiusMeters float64) ([]model.ImageRecord, error) {
	cache, err := u.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return cache.Within(center, radiusMeters)
}

func (u *nearbyImagesUseCaseImpl) Stats(sessionID string) (model.CacheStats, error) {
	cache, err := u.lookup(sessionID)
	if err != nil {
		return model.CacheStats{}, err
	}
	return cache.Stats(), nil
}

func (u *nearbyImagesUseCaseImpl) ClearCache(sessionID string) error {
	cache, err := u.lookup(sessionID)
	if err != nil {
		return err
	}
	cache.Clear()
	return nil
}

func (u *nearbyImagesUseCaseImpl) SweepIdle(now time.Time) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sweepLocked(now)
}

func (u *nearbyImagesUseCaseImpl) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := u.SweepIdle(u.now()); n > 0 {
				u.logger.Info().Int("expired", n).Msg("idle browsing sessions removed")
			}
		}
	}
}

func (u *nearbyImagesUseCaseImpl) Shutdown() {
	u.mu.Lock()
	sessions := u.sessions
	u.sessions = make(map[string]*session)
	metrics.OpenSessions.Set(0)
	u.mu.Unlock()

	for _, s := range sessions {
		s.cache.Clear()
	}
}

// lookup はセッションのキャッシュを返し、最終利用時刻を更新する
func (u *nearbyImagesUseCaseImpl) lookup(sessionID string) (*service.ImageCache[model.ImageFields], error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	s, ok := u.sessions[sessionID]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	s.lastUsed = u.now()
	return s.cache, nil
}

func (u *nearbyImagesUseCaseImpl) sweepLocked(now time.Time) int {
	removed := 0
	for id, s := range u.sessions {
		if now.Sub(s.lastUsed) < u.cfg.IdleTTL {
			continue
		}
		delete(u.sessions, id)
		s.cache.Clear()
		removed++
	}
	if removed > 0 {
		metrics.OpenSessions.Set(float64(len(u.sessions)))
	}
	return removed
}

// validateFilter はIDがUUID形式かチェックする
// 取得元のフィルタ式に埋め込まれるため、任意の文字列は受け付けない
func validateFilter(filter model.FetchFilter) error {
	if filter.ViewerID != "" {
		if _, err := uuid.Parse(filter.ViewerID); err != nil {
			return fmt.Errorf("%w: viewer_id must be a UUID", model.ErrInvalidInput)
		}
	}
	if filter.UserID != "" {
		if _, err := uuid.Parse(filter.UserID); err != nil {
			return fmt.Errorf("%w: user_id must be a UUID", model.ErrInvalidInput)
		}
	}
	return nil
}
