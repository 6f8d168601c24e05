package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/zomestaydeveloper/Zomestay/api/routes"
	"github.com/zomestaydeveloper/Zomestay/internal/holds"
	"github.com/zomestaydeveloper/Zomestay/internal/notifications"
	"github.com/zomestaydeveloper/Zomestay/internal/payments"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/config"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
	"github.com/zomestaydeveloper/Zomestay/pkg/ratelimit"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	appLogger := logger.GetDefault()

	// Smart environment loading
	if err := godotenv.Load(); err != nil {
		if os.Getenv("GIN_MODE") == "release" || os.Getenv("DOCKER_CONTAINER") == "true" {
			appLogger.Info("Production environment: using container environment variables")
		} else {
			appLogger.Info("No .env file found, using system environment variables")
		}
	} else {
		appLogger.Info("Development environment: loaded .env file")
	}

	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	db, err := database.InitDB(cfg, routes.Models()...)
	if err != nil {
		appLogger.Error("failed to connect", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	publisher := newPublisher(cfg, appLogger)
	defer publisher.Close()

	appRouter := routes.NewRouter(cfg, db, publisher, clock.NewSystem())

	// The in-memory ledger must mirror storage before the first request.
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	nights, err := appRouter.Ledger.Load(loadCtx)
	loadCancel()
	if err != nil {
		appLogger.Error("Failed to load availability ledger", slog.Any("error", err))
		os.Exit(1)
	}
	appLogger.Info("Availability ledger loaded", slog.Int("nights", nights))

	if appRouter.Guard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := appRouter.Guard.PreloadScripts(ctx); err != nil {
			// scripts are loaded on first use anyway
			appLogger.Error("Failed to preload Redis Lua scripts", slog.Any("error", err))
		} else {
			appLogger.Info("Redis Lua scripts preloaded for hold guards")
		}
		cancel()
	}

	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewRateLimiter(db.Redis, &ratelimit.Config{
			Enabled:         cfg.RateLimit.Enabled,
			WindowDuration:  cfg.RateLimit.WindowDuration,
			DefaultRequests: cfg.RateLimit.DefaultRequests,
			PublicRequests:  cfg.RateLimit.PublicRequests,
			BookingRequests: cfg.RateLimit.BookingRequests,
			WebhookRequests: cfg.RateLimit.WebhookRequests,
			AdminRequests:   cfg.RateLimit.AdminRequests,
			HealthRequests:  cfg.RateLimit.HealthRequests,
			WhitelistedIPs:  cfg.RateLimit.WhitelistedIPs,
		})
		appLogger.Info("Rate limiter initialized",
			slog.Bool("redis_backed", db.Redis != nil),
			slog.Duration("window", cfg.RateLimit.WindowDuration),
			slog.Int("default_requests", cfg.RateLimit.DefaultRequests),
		)
	} else {
		appLogger.Info("Rate limiting disabled")
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	defer jobCancel()

	sweeper := holds.NewSweeper(appRouter.Holds, &holds.SweeperConfig{
		Interval:  cfg.Booking.HoldSweepInterval,
		BatchSize: cfg.Booking.SweepBatchSize,
	})
	sweeper.Start(jobCtx)
	defer sweeper.Stop()

	if cfg.Kafka.Enabled {
		consumerCfg := payments.DefaultConsumerConfig()
		consumerCfg.Brokers = cfg.Kafka.Brokers
		consumerCfg.GroupID = cfg.Kafka.ConsumerGroupID
		consumerCfg.Topics = []string{cfg.Kafka.CallbacksTopic}

		consumer, err := payments.NewCallbackConsumer(consumerCfg, appRouter.Reconciler)
		if err != nil {
			appLogger.Error("Failed to start payment callback consumer", slog.Any("error", err))
			appLogger.Info("Continuing without Kafka callbacks - webhooks are still served")
		} else {
			consumer.Start(jobCtx, cfg.Kafka.ConsumerWorkers)
			defer func() {
				if err := consumer.Stop(); err != nil {
					appLogger.Error("Error stopping payment callback consumer", slog.Any("error", err))
				}
			}()
		}
	}

	maintenance, err := startMaintenance(cfg, appRouter, appLogger)
	if err != nil {
		appLogger.Error("Invalid maintenance schedule", slog.Any("error", err))
		os.Exit(1)
	}
	defer maintenance.Stop()

	router := setupRouter(cfg, appRouter, rateLimiter)

	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	go func() {
		appLogger.Info("Server running",
			slog.String("address", cfg.GetServerAddress()),
			slog.String("health_check", fmt.Sprintf("http://localhost:%s/health", cfg.Port)),
			slog.String("version", Version),
			slog.String("api_version", cfg.APIVersion),
			slog.String("storage", cfg.Storage.Driver),
			slog.Bool("redis", db.Redis != nil),
			slog.Bool("kafka", cfg.Kafka.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Forced shutdown", slog.Any("error", err))
	}

	appLogger.Info("Server exited gracefully")
}

func newPublisher(cfg *config.Config, appLogger *logger.Logger) notifications.Publisher {
	if !cfg.Kafka.Enabled {
		return notifications.NewLogPublisher(appLogger.WithComponent("events"))
	}

	producerCfg := notifications.DefaultKafkaProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers
	producerCfg.Topic = cfg.Kafka.EventsTopic

	publisher, err := notifications.NewKafkaPublisher(producerCfg)
	if err != nil {
		appLogger.Error("Failed to initialize Kafka publisher, logging events instead", slog.Any("error", err))
		return notifications.NewLogPublisher(appLogger.WithComponent("events"))
	}
	appLogger.Info("Kafka event publisher initialized", slog.String("topic", cfg.Kafka.EventsTopic))
	return publisher
}

// startMaintenance schedules ledger compaction and purging of resolved holds.
func startMaintenance(cfg *config.Config, appRouter *routes.Router, appLogger *logger.Logger) (*cron.Cron, error) {
	log := appLogger.WithComponent("maintenance")
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(cfg.Maintenance.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		now := time.Now().UTC()
		compacted := appRouter.Ledger.Compact(now.Add(-cfg.Maintenance.LedgerRetention))
		purged, err := appRouter.Holds.PurgeResolved(ctx, now.Add(-cfg.Maintenance.HoldRetention))
		if err != nil {
			log.Error("Failed to purge resolved holds", slog.Any("error", err))
		}
		log.Info("Maintenance completed",
			slog.Int("nights_compacted", compacted),
			slog.Int64("holds_purged", purged),
		)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	log.Info("Maintenance scheduled", slog.String("schedule", cfg.Maintenance.Schedule))
	return c, nil
}

func setupRouter(cfg *config.Config, appRouter *routes.Router, rateLimiter *ratelimit.RateLimiter) *gin.Engine {
	engine := gin.New()
	appLogger := logger.GetDefault()

	engine.Use(RequestLoggerMiddleware(appLogger), gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Location", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if rateLimiter != nil {
		engine.Use(ratelimit.Middleware(rateLimiter))
	}

	appRouter.SetupRoutes(engine)
	return engine
}

func RequestLoggerMiddleware(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.LogHTTPRequest(c, time.Since(start))
	}
}
