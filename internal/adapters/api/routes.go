package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/tracing"
	"go.uber.org/zap"
)

// Service is the detection surface exposed over REST
type Service interface {
	Classify(ctx context.Context, emails []*core.Email, opts core.ClassifyOptions) (*core.ClassifyResponse, error)
	Predict(ctx context.Context, reqs []core.ScoreRequest) ([]core.Prediction, error)
	Release(ctx context.Context, quarantineID, userID, reason string) (*core.ReleaseResult, error)
	BulkRelease(ctx context.Context, ids []string, userID, reason string) (*core.BulkReleaseResult, error)
	GetStats(ctx context.Context, userID string, days int) (*core.DetectionStats, error)
	GetQuarantineSummary(ctx context.Context, userID string, days int) (*core.QuarantineSummary, error)
	HealthCheck(ctx context.Context) *core.HealthReport
	ReloadModels(ctx context.Context) (string, error)
}

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, svc Service, apiKey string, logger *zap.Logger) {
	h := &handlers{svc: svc, logger: logger}

	r.Use(gin.Recovery())
	r.GET("/health", h.health)

	v1 := r.Group("/v1")
	v1.Use(APIKeyMiddleware(apiKey))
	v1.Use(UserIDMiddleware())
	v1.Use(tracing.TracingEnhancer())
	{
		v1.POST("/emails/classify", h.classify)
		v1.POST("/predict", h.predict)

		quarantine := v1.Group("/quarantine")
		{
			quarantine.POST("/release", h.bulkRelease)
			quarantine.POST("/:id/release", h.release)
			quarantine.GET("/summary", h.quarantineSummary)
		}

		v1.GET("/stats", h.stats)
		v1.POST("/models/reload", h.reloadModels)
	}
}
