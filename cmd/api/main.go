package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/therealutkarshpriyadarshi/framereel/internal/assembler"
	"github.com/therealutkarshpriyadarshi/framereel/internal/cache"
	"github.com/therealutkarshpriyadarshi/framereel/internal/config"
	"github.com/therealutkarshpriyadarshi/framereel/internal/encoder"
	"github.com/therealutkarshpriyadarshi/framereel/internal/logging"
	"github.com/therealutkarshpriyadarshi/framereel/internal/metrics"
	"github.com/therealutkarshpriyadarshi/framereel/internal/middleware"
	"github.com/therealutkarshpriyadarshi/framereel/internal/progress"
	"github.com/therealutkarshpriyadarshi/framereel/internal/tracing"
	"github.com/therealutkarshpriyadarshi/framereel/internal/webhook"
	"github.com/therealutkarshpriyadarshi/framereel/internal/workspace"
)

func main() {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	// Initialize tracing
	if cfg.Tracing.Endpoint != "" {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			logger.WarnWithErr("Tracing disabled", err)
		} else {
			defer closer.Close()
			logger.Infof("Tracing to %s", cfg.Tracing.Endpoint)
		}
	}

	// Initialize progress mirror
	var progressStore *cache.Cache
	var mirror progress.MirrorFunc
	if cfg.Redis.Host != "" {
		progressStore, err = cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.FatalWithErr("Failed to connect to Redis", err)
		}
		defer progressStore.Close()

		mirror = progressStore.ProgressMirror(cfg.Redis.ProgressTTL, func(jobID string, err error) {
			metrics.RecordCacheError("progress")
			logger.WithJobID(jobID).ErrorWithErr("Failed to mirror progress", err)
		})
	}

	// Initialize workspaces
	workspaces, err := workspace.NewManager(cfg.Assembler.WorkspaceRoot, workspace.Limits{
		MaxFrames: cfg.Assembler.MaxFrames,
		MaxBytes:  cfg.Assembler.MaxUploadBytes,
	})
	if err != nil {
		logger.FatalWithErr("Failed to initialize workspaces", err)
	}

	// Initialize FFmpeg
	ffmpeg := encoder.NewFFmpeg(cfg.Assembler.FFmpegPath, cfg.Assembler.FFprobePath, cfg.Assembler.KillGrace)

	observers := []assembler.Observer{logging.JobObserver(logger), metrics.Observer()}

	var notifier *webhook.Notifier
	if cfg.Webhook.URL != "" {
		notifier = webhook.NewNotifier(webhook.Config{
			URL:         cfg.Webhook.URL,
			Secret:      cfg.Webhook.Secret,
			Timeout:     cfg.Webhook.Timeout,
			MaxAttempts: cfg.Webhook.MaxAttempts,
			Backoff:     cfg.Webhook.Backoff,
			Logger:      logger,
		})
		observers = append(observers, notifier.Observer())
	}

	service := assembler.NewService(
		cfg.Assembler,
		workspaces,
		ffmpeg,
		progress.NewRegistry(mirror),
		assembler.Observers(observers...),
	)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	api := &API{
		service:       service,
		ffmpeg:        ffmpeg,
		progressStore: progressStore,
		cfg:           cfg,
		logger:        logger,
	}

	// Janitor
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Janitor.Schedule, func() {
		service.Sweep(ctx)
		if limiter != nil {
			limiter.Cleanup(cfg.RateLimit.IdleTTL)
		}
	}); err != nil {
		logger.WithField("schedule", cfg.Janitor.Schedule).FatalWithErr("Invalid janitor schedule", err)
	}
	janitor.Start()

	// Setup router
	router := setupRouter(api, limiter)

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsServer = metrics.NewServer(cfg.Server.MetricsPort, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
	} else {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithErr("Failed to start server", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	<-janitor.Stop().Done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithErr("Metrics server forced to shutdown", err)
		}
	}

	if notifier != nil {
		notifier.Wait()
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(api.logger))
	router.MaxMultipartMemory = api.cfg.Server.MaxMultipartMemory

	// Health check
	router.GET("/health", api.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/jobs/:id", api.getJob)
		v1.GET("/jobs/:id/progress", api.getProgress)

		uploads := v1.Group("")
		if limiter != nil {
			uploads.Use(middleware.RateLimit(limiter))
		}
		uploads.POST("/jobs", api.createJob)
		uploads.POST("/jobs/:id/frames", api.submitFrames)
		uploads.POST("/convert", api.convert)
	}

	return router
}
