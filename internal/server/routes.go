package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/dronehq/chunkup/internal/server/accesslog"
	"github.com/dronehq/chunkup/internal/server/handlers/api"
	"github.com/dronehq/chunkup/internal/server/handlers/auth"
	"github.com/dronehq/chunkup/internal/server/handlers/upload"
	"github.com/dronehq/chunkup/internal/server/middlewares"
	"github.com/dronehq/chunkup/internal/version"
)

func SetupRoutes(cfg *Config, svc *Services) (http.Handler, error) {
	r := gin.New()
	// chunk payloads above this spill to temp files instead of memory
	r.MaxMultipartMemory = 8 << 20

	uploadH := upload.New(svc.Upload, cfg.Upload.MaxChunkSize.Int64())
	authH := auth.New(svc.Auth)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())
	r.Use(middlewares.SecurityHeaders(cfg.HTTP.CertFile != ""))

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler(svc))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/refresh", authH.Refresh)

	g := r.Group("/upload")
	g.Use(middlewares.JWTAuth(svc.Auth))
	if cfg.HTTP.RateLimit != "" {
		limiter, err := middlewares.RateLimiter(cfg.HTTP.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("http `rate_limit`: %w", err)
		}
		g.Use(limiter)
	}
	if svc.AccessLog != nil {
		g.Use(accesslog.Middleware(svc.AccessLog))
		g.GET("/activity", accesslog.RecentHandler(svc.AccessLog))
	}
	{
		g.POST("/initiate", uploadH.Initiate)
		g.POST("/chunk", uploadH.Chunk)
		g.POST("/complete", uploadH.Complete)
		g.POST("/cancel", uploadH.Cancel)
		g.GET("/status/:uploadId", uploadH.Status)
		g.GET("/missing/:uploadId", uploadH.Missing)
	}

	r.NoRoute(func(c *gin.Context) {
		api.Fail(c, http.StatusNotFound, &api.APIError{
			Code:    api.CodeNotFound,
			Message: "not found",
		})
	})

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		api.Fail(c, http.StatusMethodNotAllowed, &api.APIError{
			Code:    api.CodeMethodNotAllow,
			Message: "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	api.OK(ctx, http.StatusOK, version.Get())
}

// HealthHandler reports the service status and the disk usage of the staging root.
func HealthHandler(svc *Services) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		usage, err := disk.UsageWithContext(ctx.Request.Context(), svc.Store.Root())
		if err != nil {
			ctx.Error(fmt.Errorf("staging disk usage: %w", err))
			api.OK(ctx, http.StatusOK, gin.H{
				"status": "degraded",
			})
			return
		}

		api.OK(ctx, http.StatusOK, gin.H{
			"status": "ok",
			"staging": gin.H{
				"path":        usage.Path,
				"total":       usage.Total,
				"free":        usage.Free,
				"usedPercent": usage.UsedPercent,
			},
		})
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
