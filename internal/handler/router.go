package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Culoca-App/internal/logging"
	"Culoca-App/internal/metrics"
)

// requestIDHeader リクエストIDを受け渡すヘッダー
const requestIDHeader = "X-Request-ID"

// NewRouter は近傍画像APIのルーターを作成する
func NewRouter(nearbyHandler *NearbyImagesHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog())

	r.GET("/api/health", HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := r.Group("/sessions")
	{
		sessions.POST("", nearbyHandler.CreateSession)
		sessions.DELETE("/:id", nearbyHandler.CloseSession)
		sessions.GET("/:id/images/nearby", nearbyHandler.GetNearbyImages)
		sessions.GET("/:id/images/within", nearbyHandler.GetWithinImages)
		sessions.POST("/:id/load", nearbyHandler.PostLoad)
		sessions.GET("/:id/stats", nearbyHandler.GetStats)
		sessions.DELETE("/:id/cache", nearbyHandler.DeleteCache)
	}

	return r
}

// HealthCheck はヘルスチェックのエンドポイント
// GET /api/health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "culoca-nearby",
	})
}

// RequestID はリクエストIDをコンテキストとレスポンスヘッダーに設定する
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = logging.GenerateRequestID()
		}
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog はアクセスログを出力し、リクエスト数と処理時間を記録する
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordAPIRequest(c.Request.Method, endpoint, status, elapsed)

		logging.Ctx(c.Request.Context()).Debug().
			Str("method", c.Request.Method).
			Str("path", endpoint).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request handled")
	}
}
