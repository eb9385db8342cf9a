// services/anti-cheat/cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trust-defense/services/anti-cheat/internal/config"
	"trust-defense/services/anti-cheat/internal/handler"
	"trust-defense/services/anti-cheat/internal/repository"
	"trust-defense/services/anti-cheat/internal/service"
	"trust-defense/shared/pkg/database"
	"trust-defense/shared/pkg/events"
	"trust-defense/shared/pkg/logger"
	"trust-defense/shared/pkg/middleware"
	"trust-defense/shared/pkg/redis"
)

const serviceName = "anti-cheat"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger(serviceName).Fatal("failed to load config", zap.Error(err))
	}

	log := logger.ForEnvironment(serviceName, cfg.Environment)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize stores
	mongoDB, err := database.NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatal("failed to connect to mongo", zap.Error(err))
	}
	defer mongoDB.Close(context.Background())

	if err := repository.EnsureIndexes(ctx, mongoDB.Database()); err != nil {
		log.Fatal("failed to create indexes", zap.Error(err))
	}

	pg, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pg.Close()

	auditRepo := repository.NewPostgresAuditRepository(pg.DB)
	if err := auditRepo.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate audit log", zap.Error(err))
	}

	redisClient, err := redis.NewRedisClientFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to configure redis", zap.Error(err))
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		log.Warn("redis unavailable, counters will fail open", zap.Error(err))
	}

	publisher := newPublisher(cfg, log)
	defer publisher.Close()

	// Initialize repositories
	db := mongoDB.Database()
	trustRepo := repository.NewMongoTrustRepository(db)
	deviceRepo := repository.NewMongoDeviceRepository(db)
	detectionRepo := repository.NewMongoDetectionRepository(db)
	activityRepo := repository.NewMongoActivityRepository(db)
	moderationRepo := repository.NewMongoModerationLogRepository(db)

	// Initialize services
	cache := service.NewPermissionCache(redisClient, cfg.PermissionCacheTTL, log)
	defer cache.Close()

	trust := service.NewTrustEngine(trustRepo, cache, publisher, log)
	devices := service.NewDeviceRegistry(deviceRepo, publisher, log)
	detector := service.NewFraudDetector(detectionRepo, activityRepo, devices, trust, redisClient, cfg.Detection, publisher, log)
	moderation := service.NewModerationPipeline(moderationRepo, trust, detector, cfg.Moderation, cfg.Detection.HarmfulKeywords, publisher, log)
	gateway := service.NewGateway(devices, detector, moderation, trust, log)
	review := service.NewAdminReviewService(detectionRepo, auditRepo, trust, devices, cfg.DefaultTemporaryBan, publisher, log)
	stats := service.NewStatisticsService(detectionRepo, moderationRepo, trust, devices, log)
	reconciler := service.NewTrustReconciler(trust, log)
	sweeper := service.NewBanSweeper(trust, cfg.BanSweepInterval, log)

	// Initialize handlers
	handlers := &handler.Handlers{
		Gateway:    handler.NewGatewayHandler(gateway, log),
		Activity:   handler.NewActivityHandler(activityRepo, log),
		Moderation: handler.NewModerationHandler(moderation, log),
		Trust:      handler.NewTrustHandler(trust, log),
		Admin:      handler.NewAdminHandler(review, trust, devices, stats, reconciler, log),
	}

	verifier := middleware.NewTokenVerifier(cfg.JWTSecret)
	router := setupRouter(handlers, verifier, redisClient, cfg, readiness(mongoDB, pg, redisClient), cache, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting anti-cheat service", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return reconciler.Run(gctx, cfg.ReconcileInterval)
	})

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited")
}

func newPublisher(cfg *config.Config, log *zap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("no kafka brokers configured, events go to the log")
		return events.NewLogPublisher(log)
	}
	pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics, log)
	if err != nil {
		log.Fatal("failed to create kafka publisher", zap.Error(err))
	}
	return pub
}

type pinger func(ctx context.Context) error

func readiness(mongoDB *database.MongoDB, pg *database.PostgresDB, redisClient *redis.Client) map[string]pinger {
	return map[string]pinger{
		"mongo":    mongoDB.Ping,
		"postgres": pg.PingContext,
		"redis":    redisClient.Ping,
	}
}

func setupRouter(h *handler.Handlers, verifier *middleware.TokenVerifier, counters middleware.WindowCounter, cfg *config.Config, checks map[string]pinger, cache *service.PermissionCache, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failed": failed, "permission_cache": cache.Stats()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "permission_cache": cache.Stats()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(counters, cfg.RateLimitPerMinute, time.Minute, log))
	handler.RegisterRoutes(v1, middleware.Auth(verifier), h)

	return router
}
