package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/api/handlers"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/configuration"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
)

const (
	healthPath = "/health/health_check"
	readyPath  = "/health/ready"
)

// Options carries the middleware assembled by the entry point.
type Options struct {
	// Auth guards every internal route. Nil leaves the API open.
	Auth      gin.HandlerFunc
	RateLimit gin.HandlerFunc
	Tracing   configuration.TracingConfig
	Logger    *zap.Logger
}

func base(opts Options, service string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = false
	if opts.Tracing.Enabled {
		r.Use(gintrace.Middleware(opts.Tracing.ServiceName + "-" + service))
	}
	r.Use(logging.AccessLog(opts.Logger, healthPath, readyPath))
	r.Use(logging.Recovery(opts.Logger))
	return r
}

// RegisterInternalRoutes builds the authenticated management API.
func RegisterInternalRoutes(h *handlers.Handler, opts Options) *gin.Engine {
	r := base(opts, "internal")

	guard := []gin.HandlerFunc{}
	if opts.RateLimit != nil {
		guard = append(guard, opts.RateLimit)
	}
	if opts.Auth != nil {
		guard = append(guard, opts.Auth)
	}

	api := r.Group("/api/v1", guard...)
	{
		api.POST("/upload", h.Upload)
		api.POST("/upload/", h.Upload)
		api.GET("/utils/compress/*path", h.Compress)
		api.GET("/utils/decompress/:filename", h.Decompress)
		api.GET("/list/*path", h.List)
		api.DELETE("/delete/*path", h.Delete)
	}

	// /api/v1/{path} overlaps the groups above, so it is served from NoRoute.
	r.NoRoute(append(guard, h.ServeProtected)...)
	return r
}

// RegisterPublicRoutes builds the anonymous, CORS-enabled listener.
func RegisterPublicRoutes(h *handlers.Handler, cfg configuration.CORSConfig, opts Options) *gin.Engine {
	r := base(opts, "public")
	r.Use(cors.New(corsConfig(cfg)))

	r.GET(healthPath, handlers.HealthCheck)
	r.GET(readyPath, h.Ready)
	r.NoRoute(h.ServePublic)
	return r
}

func corsConfig(cfg configuration.CORSConfig) cors.Config {
	return cors.Config{
		AllowOriginFunc: allowOrigin(cfg),
		AllowMethods:    []string{http.MethodGet},
		AllowHeaders:    []string{"Authorization", "Accept", "Content-Type"},
		MaxAge:          time.Hour,
	}
}

// allowOrigin accepts the configured origin exactly, or any origin ending in
// the configured suffix.
func allowOrigin(cfg configuration.CORSConfig) func(string) bool {
	return func(origin string) bool {
		if cfg.AllowedOrigin != "" && origin == cfg.AllowedOrigin {
			return true
		}
		return cfg.AllowedOriginEndWith != "" && strings.HasSuffix(origin, cfg.AllowedOriginEndWith)
	}
}
