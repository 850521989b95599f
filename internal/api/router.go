package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dmi/internal/api/handler"
	"github.com/timmy/dmi/internal/api/middleware"
	"github.com/timmy/dmi/internal/config"
	"github.com/timmy/dmi/internal/metrics"
)

// RouterDeps bundles what the router needs besides configuration.
type RouterDeps struct {
	Analyzer handler.Analyzer
	Checks   map[string]handler.HealthCheck
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler(deps.Checks)
	analysisHandler := handler.NewAnalysisHandler(deps.Analyzer, cfg.Server.MaxUploadMB<<20)

	r.GET("/health", healthHandler.Health)
	if cfg.Server.EnableMetrics {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// Artifacts are served from the media root when they are not published
	// to object storage.
	mediaURL := "/" + strings.Trim(cfg.Media.MediaURL, "/")
	if mediaURL != "/" {
		r.Static(mediaURL, cfg.Media.Root)
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/response-codes", analysisHandler.ResponseCodes)

		v1.POST("/deepfake/analyze", analysisHandler.AnalyzeDeepfake)
		v1.POST("/ai-image/analyze", analysisHandler.AnalyzeAIImage)
		v1.POST("/ai-text/analyze", analysisHandler.AnalyzeText)

		v1.GET("/results/:id", analysisHandler.GetResult)
		v1.GET("/results/:id/similar", analysisHandler.GetSimilar)
	}

	return r
}
