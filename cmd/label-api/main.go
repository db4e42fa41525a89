package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/orrn/label-api/internal/api"
	"github.com/orrn/label-api/internal/api/middleware"
	"github.com/orrn/label-api/internal/config"
	"github.com/orrn/label-api/internal/core"
	"github.com/orrn/label-api/internal/driver/transport"
	"github.com/orrn/label-api/internal/driver/tspl"
	"github.com/orrn/label-api/internal/gate"
	"github.com/orrn/label-api/internal/logger"
	"github.com/orrn/label-api/internal/metrics"
	"github.com/orrn/label-api/internal/webhook"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "label-api:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.NewFlags("label-api")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Resolve(flags)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if _, err := tspl.LookupModel(cfg.Printer.Model); err != nil {
		return err
	}
	backend, address, err := transport.ResolveBackend(cfg.Printer.Identifier, cfg.Printer.Backend)
	if err != nil {
		return err
	}

	log.Info("Starting label API",
		zap.String("addr", cfg.Address()),
		zap.String("model", cfg.Printer.Model),
		zap.String("backend", string(backend)),
		zap.String("printer", address),
		zap.Bool("auth", cfg.AuthEnabled()),
		zap.Bool("webhook", cfg.WebhookEnabled()),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	sender := transport.NewSender(transport.Config{
		ConnectionTimeout:  cfg.Printer.ConnectionTimeout,
		StatusTimeout:      cfg.Printer.StatusTimeout,
		StatusPollInterval: cfg.Printer.StatusPollInterval,
	}, log)

	opts := []core.ServiceOption{
		core.WithLogger(log),
		core.WithMetrics(m),
	}

	var hooks *webhook.WebhookSender
	if cfg.WebhookEnabled() {
		hooks = webhook.NewWebhookSender(webhook.WebhookConfig{
			URL:         cfg.Webhook.URL,
			Secret:      cfg.Webhook.Secret,
			RetryCount:  cfg.Webhook.RetryCount,
			RetryDelay:  cfg.Webhook.RetryDelay,
			Timeout:     cfg.Webhook.Timeout,
			WorkerCount: cfg.Webhook.WorkerCount,
			QueueSize:   cfg.Webhook.QueueSize,
		}, log)
		hooks.Start()
		defer hooks.Stop()
		opts = append(opts, core.WithNotifier(hooks))
	}

	service := core.NewService(
		gate.New(),
		tspl.NewGenerator(),
		sender,
		core.PrinterSettings{
			Model:      cfg.Printer.Model,
			Backend:    cfg.Printer.Backend,
			Identifier: cfg.Printer.Identifier,
		},
		opts...,
	)

	var auth *middleware.AuthMiddleware
	if cfg.AuthEnabled() {
		auth, err = middleware.NewAuthMiddleware(middleware.AuthConfig{
			PasswordHash:  cfg.Auth.PasswordHash,
			JWTSecret:     cfg.Auth.JWTSecret,
			TokenDuration: cfg.Auth.TokenDuration,
		})
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			log.Warn("No jwt_secret configured, sessions will not survive a restart")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		Service:      service,
		StaticDir:    cfg.Server.StaticDir,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Auth:         auth,
		Metrics:      m,
		MetricsPath:  cfg.Metrics.Path,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-quit:
		log.Info("Shutting down server...", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()

	// in-flight print jobs finish before Shutdown returns
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited gracefully")
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
