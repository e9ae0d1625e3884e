package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"Culoca-App/internal/config"
	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/domain/repository"
	"Culoca-App/internal/domain/service"
	"Culoca-App/internal/handler"
	"Culoca-App/internal/infrastructure/database"
	infraFirestore "Culoca-App/internal/infrastructure/firestore"
	"Culoca-App/internal/logging"
	repoImpl "Culoca-App/internal/repository"
	"Culoca-App/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("設定の読み込みに失敗")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := newImageSource(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Str("source", cfg.Source.Kind).Msg("画像取得元の初期化に失敗")
	}
	defer closeSource()

	resilient := repoImpl.NewResilientRecordsRepository(source, repoImpl.ResilienceConfig{
		Name:           cfg.Source.Kind,
		RateLimit:      cfg.Fetch.RateLimit,
		Burst:          cfg.Fetch.Burst,
		MaxFailures:    cfg.Fetch.BreakerFailures,
		BreakerTimeout: cfg.Fetch.BreakerTimeout,
	})

	cacheCfg := service.CacheConfig{
		TileSizeKm:       cfg.Loader.TileSizeKm,
		GridExtent:       cfg.Loader.GridExtent,
		MaxRecords:       cfg.Loader.MaxRecordsLimit(),
		EvictOutsideGrid: cfg.Loader.EvictOutsideGrid,
		FetchTimeout:     cfg.Fetch.Timeout,
	}
	nearbyUseCase, err := usecase.NewNearbyImagesUseCase(resilient, cacheCfg, usecase.SessionConfig{
		IdleTTL: cfg.Sessions.IdleTTL,
		Max:     cfg.Sessions.Max,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("ユースケースの初期化に失敗")
	}
	defer nearbyUseCase.Shutdown()

	go nearbyUseCase.RunSweeper(ctx, cfg.Sessions.SweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.NewRouter(handler.NewNearbyImagesHandler(nearbyUseCase)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().
			Str("addr", srv.Addr).
			Str("source", cfg.Source.Kind).
			Float64("tile_size_km", cacheCfg.TileSizeKm).
			Int("grid_extent", cacheCfg.GridExtent).
			Msg("Culoca nearby server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logging.Error().Err(err).Msg("HTTPサーバーが停止しました")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("graceful shutdown failed")
	}
	logging.Info().Msg("server stopped")
}

// newImageSource は設定された取得元を初期化し、接続確認まで行う
func newImageSource(ctx context.Context, cfg *config.Config) (repository.ImagesRepository, func(), error) {
	pageSize := cfg.Fetch.PageSize

	switch cfg.Source.Kind {
	case model.SourceSupabase:
		client, err := database.NewSupabaseClient(cfg.Supabase)
		if err != nil {
			return nil, nil, fmt.Errorf("Supabaseクライアント初期化失敗: %w", err)
		}
		if err := client.HealthCheck(ctx); err != nil {
			return nil, nil, fmt.Errorf("Supabaseヘルスチェック失敗: %w", err)
		}
		logging.Info().Str("url", client.URL()).Msg("Supabase connection successful")
		return repoImpl.NewSupabaseImagesRepository(client, cfg.Supabase.Table, pageSize), func() {}, nil

	case model.SourcePostgres:
		client, err := database.NewPostgreSQLClient(ctx, cfg.PostgresDSN(), cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, nil, fmt.Errorf("PostgreSQLクライアント初期化失敗: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logging.Warn().Err(err).Msg("PostgreSQL接続のクローズに失敗")
			}
		}
		return repoImpl.NewPostgresImagesRepository(client, pageSize), closeFn, nil

	case model.SourceFirestore:
		client, err := infraFirestore.NewFirestoreClient(ctx, cfg.Firestore)
		if err != nil {
			return nil, nil, fmt.Errorf("Firestoreクライアント初期化失敗: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logging.Warn().Err(err).Msg("Firestore接続のクローズに失敗")
			}
		}
		return repoImpl.NewFirestoreImagesRepository(client, cfg.Firestore.Collection), closeFn, nil
	}

	return nil, nil, fmt.Errorf("未対応の取得元: %s", cfg.Source.Kind)
}
