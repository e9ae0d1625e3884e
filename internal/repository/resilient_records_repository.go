package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	"Culoca-App/internal/logging"
	"Culoca-App/internal/metrics"
)

// ErrSourceUnavailable サーキットブレーカーが開いているため取得元を呼び出さなかった
var ErrSourceUnavailable = errors.New("image source temporarily unavailable")

// ResilienceConfig 取得元呼び出しのレート制限とサーキットブレーカーの設定
type ResilienceConfig struct {
	Name            string
	RateLimit       float64 // 1秒あたりの呼び出し回数
	Burst           int
	MaxFailures     uint32 // 連続失敗でブレーカーを開く回数
	BreakerTimeout  time.Duration
	HalfOpenQueries uint32
}

// ResilientRecordsRepository 取得元をレート制限とサーキットブレーカーで包む
//
// 失敗時のリトライは行わない（失敗したタイルは次の LoadFor で再取得される）。
type ResilientRecordsRepository[T any] struct {
	inner   repository.RecordsRepository[T]
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]model.Record[T]]
	name    string
}

func NewResilientRecordsRepository[T any](inner repository.RecordsRepository[T], cfg ResilienceConfig) *ResilientRecordsRepository[T] {
	if cfg.Name == "" {
		cfg.Name = "image-source"
	}
	if cfg.HalfOpenQueries == 0 {
		cfg.HalfOpenQueries = 1
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	metrics.SourceBreakerState.WithLabelValues(cfg.Name).Set(0)

	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[[]model.Record[T]](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenQueries,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// 呼び出し側のキャンセルは取得元の障害として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("source", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.SourceBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &ResilientRecordsRepository[T]{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
		cb:      cb,
		name:    cfg.Name,
	}
}

// FetchByBoundingBox レート制限の範囲内で、ブレーカーが閉じていれば取得元を呼び出す
func (r *ResilientRecordsRepository[T]) FetchByBoundingBox(ctx context.Context, bound orb.Bound, filter model.FetchFilter) ([]model.Record[T], error) {
	if err := r.limiter.Wait(ctx); err != nil {
		metrics.SourceRequestsTotal.WithLabelValues(r.name, "rate_limited").Inc()
		return nil, fmt.Errorf("取得元の呼び出し待機中断: %w", err)
	}

	records, err := r.cb.Execute(func() ([]model.Record[T], error) {
		return r.inner.FetchByBoundingBox(ctx, bound, filter)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.SourceRequestsTotal.WithLabelValues(r.name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		metrics.SourceRequestsTotal.WithLabelValues(r.name, "failure").Inc()
		return nil, err
	}

	metrics.SourceRequestsTotal.WithLabelValues(r.name, "success").Inc()
	return records, nil
}

// State ブレーカーの状態
func (r *ResilientRecordsRepository[T]) State() gobreaker.State {
	return r.cb.State()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
