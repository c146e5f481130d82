package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/graphsmith-backend/internal/http/handlers"
	httpMW "github.com/yungbote/graphsmith-backend/internal/http/middleware"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
)

type RouterConfig struct {
	DocumentHandler    *httpH.DocumentHandler
	ExtractHandler     *httpH.ExtractHandler
	SchemaHandler      *httpH.SchemaHandler
	EventsHandler      *httpH.EventsHandler
	DedupHandler       *httpH.DedupHandler
	PostprocessHandler *httpH.PostprocessHandler
	RunsHandler        *httpH.RunsHandler
	HealthHandler      *httpH.HealthHandler

	Log *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	v1 := r.Group("/v1")
	{
		if cfg.DocumentHandler != nil {
			v1.POST("/sources", cfg.DocumentHandler.CreateSource)
			v1.GET("/documents", cfg.DocumentHandler.List)
			v1.GET("/documents/:id/status", cfg.DocumentHandler.GetStatus)
			v1.POST("/documents/:id/cancel", cfg.DocumentHandler.Cancel)
			v1.DELETE("/documents/:id", cfg.DocumentHandler.Delete)
		}
		if cfg.ExtractHandler != nil {
			v1.POST("/extract", cfg.ExtractHandler.Start)
		}
		if cfg.EventsHandler != nil {
			v1.GET("/documents/:id/events", cfg.EventsHandler.Stream)
		}
		if cfg.RunsHandler != nil {
			v1.GET("/documents/:id/runs", cfg.RunsHandler.List)
		}
		if cfg.SchemaHandler != nil {
			v1.POST("/schema/normalize", cfg.SchemaHandler.Normalize)
			v1.GET("/schema/presets", cfg.SchemaHandler.Presets)
			v1.GET("/schema/graph", cfg.SchemaHandler.GraphSchema)
		}
		if cfg.DedupHandler != nil {
			v1.POST("/duplicates/scan", cfg.DedupHandler.Scan)
			v1.POST("/duplicates/merge", cfg.DedupHandler.Merge)
		}
		if cfg.PostprocessHandler != nil {
			v1.POST("/postprocess", cfg.PostprocessHandler.Run)
		}
	}

	return r
}
