// Package api wires the HTTP surface: middleware, routes and handlers.
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/label-api/internal/api/handlers"
	"github.com/orrn/label-api/internal/api/middleware"
	"github.com/orrn/label-api/internal/logger"
	"github.com/orrn/label-api/internal/metrics"
)

const defaultMaxBodyBytes = 16 << 20

type RouterConfig struct {
	Service      handlers.PrintService
	StaticDir    string
	MaxBodyBytes int64

	// Auth guards the print endpoint when set.
	Auth *middleware.AuthMiddleware

	// Metrics is served on MetricsPath when both are set.
	Metrics     *metrics.Metrics
	MetricsPath string

	Logger *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r := gin.New()
	r.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		middleware.BodyLimit(maxBody),
	)

	static := handlers.NewStaticHandler(cfg.StaticDir)
	r.GET("/", static.Index)
	r.GET("/static/*path", static.Asset)

	status := handlers.NewStatusHandler(cfg.Service)
	r.GET("/healthz", status.Health)

	printHandler := handlers.NewPrintHandler(cfg.Service)

	apiGroup := r.Group("/api")
	apiGroup.GET("/status", status.Status)

	if cfg.Auth != nil {
		apiGroup.POST("/login", cfg.Auth.LoginHandler)
		apiGroup.POST("/logout", cfg.Auth.LogoutHandler)
		apiGroup.GET("/auth/status", cfg.Auth.StatusHandler)
		apiGroup.POST("/print", cfg.Auth.RequireAuth(), printHandler.Print)
	} else {
		apiGroup.POST("/print", printHandler.Print)
	}

	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(cfg.Metrics.Handler()))
	}

	return r
}
