package v1

import (
	"time"

	"github.com/atlasview/layerd/internal/infrastructure/http/v1/handler"
	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(handler *handler.Handler, l logger.Logger, telemetryEnabled bool) *gin.Engine {
	r := gin.Default()

	r.Use(gin.Recovery())

	// Add OpenTelemetry middleware if enabled
	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware("layerd"))
	}

	r.Use(ginZapLogger(l))

	api := r.Group("/api")
	v1 := api.Group("/v1")

	v1.GET("/healthz", handler.Healthz)

	v1.POST("/layer/:id/fetch", handler.Fetch)
	v1.GET("/layer/:id/state", handler.State)
	v1.POST("/layer/:id/invalidate", handler.Invalidate)
	v1.POST("/layers/sync", handler.Sync)

	v1.GET("/circuit/:endpoint", handler.Circuit)

	v1.POST("/session/viewport/:context", handler.UpdateViewport)
	v1.GET("/session/export", handler.ExportSession)
	v1.POST("/session/import", handler.ImportSession)
	v1.DELETE("/state", handler.ClearAll)

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func ginZapLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("logger", l)

		start := time.Now()

		c.Next()

		end := time.Now()
		latency := end.Sub(start)

		l.Info("request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"ip", c.ClientIP(),
			"latency", latency,
			"size", c.Writer.Size(),
		)
	}
}
