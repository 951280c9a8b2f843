package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"haulhub/database"
	"haulhub/internal/config"
	"haulhub/internal/logging"
	"haulhub/internal/microservices/chat"
	"haulhub/internal/microservices/delivery"
	"haulhub/internal/microservices/realtime"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.New(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	promRegistry := prometheus.NewRegistry()
	var metrics *realtime.Metrics
	if cfg.MetricsEnabled {
		promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = realtime.NewMetrics(promRegistry)
	}

	var presence realtime.Presence = realtime.NopPresence{}
	var redisPresence *realtime.RedisPresence
	if cfg.RedisURL != "" {
		// Parse Redis URL to get address (remove redis:// prefix if present)
		redisAddr := strings.TrimPrefix(strings.TrimPrefix(cfg.RedisURL, "redis://"), "rediss://")
		redisPresence, err = realtime.NewRedisPresence(redisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Warn("presence_disabled", "redis_addr", redisAddr, "error", err.Error())
		} else {
			presence = redisPresence
			defer redisPresence.Close()
		}
	}

	registry := realtime.NewRegistry(
		realtime.WithPresence(presence),
		realtime.WithMetrics(metrics),
		realtime.WithLogger(logger),
	)
	router := realtime.NewRouter(registry, logger)
	monitor := realtime.NewHeartbeatMonitor(registry, cfg.HeartbeatInterval, logger)
	server := realtime.NewServer(registry, router, monitor,
		realtime.NewJWTAuthenticator(cfg.JWTSecret),
		realtime.Options{
			WriteWait:      cfg.WSWriteWait,
			MaxMessageSize: int64(cfg.WSMaxMessageSize),
			RateLimit:      rate.Limit(cfg.WSRateLimit),
			RateBurst:      cfg.WSRateBurst,
			AllowedOrigins: cfg.CORSOrigins,
		},
		logger,
	)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Open(cfg.DatabaseURL, logger, &chat.Message{})
		if err != nil {
			logger.Error("database_unavailable", "error", err.Error())
			os.Exit(1)
		}
		defer database.Close(db)
		chatService := chat.NewService(chat.NewMessageRepository(db), router, logger)
		if err := chatService.Register(router); err != nil {
			logger.Error("chat_register_failed", "error", err.Error())
			os.Exit(1)
		}
	} else {
		logger.Warn("chat_disabled", "reason", "DATABASE_URL not set")
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(cfg.WSPath, server.Handler())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": registry.Count(),
			"by_role":     registry.CountByRole(),
		})
	})
	if cfg.MetricsEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	}

	internal := engine.Group("/internal", delivery.RequireInternalKey(cfg.InternalAPIKey))
	delivery.NewHandler(delivery.NewNotifier(router, logger)).RegisterRoutes(internal.Group("/notify"))
	if redisPresence != nil {
		internal.GET("/presence/:role", func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			ids, err := redisPresence.OnlineByRole(ctx, c.Param("role"))
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"connections": ids})
		})
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go server.Run(ctx)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting_realtime_server",
			"addr", httpServer.Addr,
			"ws_path", cfg.WSPath,
			"heartbeat_interval", cfg.HeartbeatInterval,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
	case err := <-errChan:
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime_shutdown_incomplete", "error", err.Error())
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_incomplete", "error", err.Error())
	}
	logger.Info("server_stopped_gracefully")
}
