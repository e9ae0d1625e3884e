package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"Culoca-App/internal/domain/model"
	"Culoca-App/internal/logging"
	"Culoca-App/internal/usecase"
)

// defaultNearbyCount count 未指定時の件数
const defaultNearbyCount = 50

// NearbyImagesHandler は近傍画像APIのハンドラー
type NearbyImagesHandler struct {
	nearbyUseCase usecase.NearbyImagesUseCase
}

// NewNearbyImagesHandler は新しいNearbyImagesHandlerインスタンスを作成
func NewNearbyImagesHandler(nearbyUseCase usecase.NearbyImagesUseCase) *NearbyImagesHandler {
	return &NearbyImagesHandler{nearbyUseCase: nearbyUseCase}
}

// CreateSessionRequest 閲覧セッション作成リクエスト
type CreateSessionRequest struct {
	ViewerID string `json:"viewer_id"`
	UserID   string `json:"user_id"`
	Query    string `json:"query" binding:"max=200"`
}

// LocationRequest 先読みリクエスト
type LocationRequest struct {
	Lat *float64 `json:"lat" binding:"required,min=-90,max=90"`
	Lon *float64 `json:"lon" binding:"required,min=-180,max=180"`
}

// NearbyQuery GET /images/nearby のクエリ
type NearbyQuery struct {
	Lat      *float64 `form:"lat" binding:"required,min=-90,max=90"`
	Lon      *float64 `form:"lon" binding:"required,min=-180,max=180"`
	Count    int      `form:"count" binding:"omitempty,min=1,max=500"`
	PinnedID string   `form:"pinned_id"`
}

// WithinQuery GET /images/within のクエリ
type WithinQuery struct {
	Lat     *float64 `form:"lat" binding:"required,min=-90,max=90"`
	Lon     *float64 `form:"lon" binding:"required,min=-180,max=180"`
	RadiusM *float64 `form:"radius_m" binding:"required,min=0,max=50000"`
}

// CreateSession は閲覧セッションを作成するエンドポイント
// POST /sessions
func (h *NearbyImagesHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest

	// ボディなしは匿名の閲覧者として扱う
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "リクエストの形式が正しくありません",
			"details": err.Error(),
		})
		return
	}

	id, err := h.nearbyUseCase.CreateSession(c.Request.Context(), model.FetchFilter{
		ViewerID: req.ViewerID,
		UserID:   req.UserID,
		Query:    req.Query,
	})
	if err != nil {
		h.respondError(c, err, "セッションの作成に失敗しました")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

// CloseSession は閲覧セッションを破棄するエンドポイント
// DELETE /sessions/:id
func (h *NearbyImagesHandler) CloseSession(c *gin.Context) {
	if err := h.nearbyUseCase.CloseSession(c.Param("id")); err != nil {
		h.respondError(c, err, "セッションの破棄に失敗しました")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetNearbyImages はフォーカス地点に近い画像を返すエンドポイント
// GET /sessions/:id/images/nearby
func (h *NearbyImagesHandler) GetNearbyImages(c *gin.Context) {
	var q NearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "バリデーションエラー",
			"details": err.Error(),
		})
		return
	}
	if q.Count == 0 {
		q.Count = defaultNearbyCount
	}

	focus := model.Coordinate{Lat: *q.Lat, Lon: *q.Lon}
	result, err := h.nearbyUseCase.Nearby(c.Request.Context(), c.Param("id"), focus, q.Count, q.PinnedID)
	if err != nil {
		h.respondError(c, err, "近くの画像の取得に失敗しました")
		return
	}

	c.JSON(http.StatusOK, result)
}

// PostLoad は周辺タイルを先読みするエンドポイント
// POST /sessions/:id/load
func (h *NearbyImagesHandler) PostLoad(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "リクエストの形式が正しくありません",
			"details": err.Error(),
		})
		return
	}

	focus := model.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
	if err := h.nearbyUseCase.Load(c.Request.Context(), c.Param("id"), focus); err != nil {
		h.respondError(c, err, "周辺画像の読み込みに失敗しました")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetWithinImages は半径内のキャッシュ済み画像を返すエンドポイント
// GET /sessions/:id/images/within
func (h *NearbyImagesHandler) GetWithinImages(c *gin.Context) {
	var q WithinQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "バリデーションエラー",
			"details": err.Error(),
		})
		return
	}

	center := model.Coordinate{Lat: *q.Lat, Lon: *q.Lon}
	images, err := h.nearbyUseCase.Within(c.Param("id"), center, *q.RadiusM)
	if err != nil {
		h.respondError(c, err, "画像の検索に失敗しました")
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": images})
}

// GetStats はセッションのキャッシュ統計を返すエンドポイント
// GET /sessions/:id/stats
func (h *NearbyImagesHandler) GetStats(c *gin.Context) {
	stats, err := h.nearbyUseCase.Stats(c.Param("id"))
	if err != nil {
		h.respondError(c, err, "統計の取得に失敗しました")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DeleteCache はセッションのキャッシュを破棄するエンドポイント
// DELETE /sessions/:id/cache
func (h *NearbyImagesHandler) DeleteCache(c *gin.Context) {
	if err := h.nearbyUseCase.ClearCache(c.Param("id")); err != nil {
		h.respondError(c, err, "キャッシュの破棄に失敗しました")
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError はユースケースのエラーをHTTPステータスに変換する
func (h *NearbyImagesHandler) respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		status, message = http.StatusNotFound, "セッションが見つかりません"
	case errors.Is(err, model.ErrInvalidInput):
		status, message = http.StatusBadRequest, "バリデーションエラー"
	case errors.Is(err, usecase.ErrTooManySessions):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrFetchFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		logging.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Int("status", status).
			Msg("request failed")
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}
