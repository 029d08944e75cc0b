// Package main runs the registration and payment HTTP server with graceful shutdown.
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/etekaf/backend/config"
	"github.com/etekaf/backend/internal/auth"
	"github.com/etekaf/backend/internal/dashboard"
	"github.com/etekaf/backend/internal/locations"
	"github.com/etekaf/backend/internal/metrics"
	"github.com/etekaf/backend/internal/middleware"
	"github.com/etekaf/backend/internal/models"
	"github.com/etekaf/backend/internal/payments"
	"github.com/etekaf/backend/internal/registrations"
	"github.com/etekaf/backend/internal/zarinpal"
	"github.com/etekaf/backend/pkg/database"
	"github.com/etekaf/backend/pkg/queue"
	"github.com/etekaf/backend/pkg/redis"
	"github.com/etekaf/backend/pkg/response"
	"github.com/etekaf/backend/pkg/storage"
	"github.com/etekaf/backend/pkg/tracing"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, "etekaf-server", tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	catalog, err := locations.Load(cfg.Locations.File)
	if err != nil {
		logger.Fatal("locations", zap.Error(err))
	}

	// Receipt downloads are optional; the dashboard answers 503 without a bucket.
	var receiptLinker dashboard.ReceiptLinker
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Bucket:               cfg.AWS.ReceiptsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			receiptLinker = s3Client
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	authRepo := auth.NewRepository(pool)
	if err := auth.EnsureAdmin(ctx, authRepo, cfg.Admin.Username, cfg.Admin.Password, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	regRepo := registrations.NewRepository(pool)
	regService := registrations.NewService(regRepo, catalog, cfg.Payment.Amount, m, logger)

	gateway := zarinpal.NewClient(zarinpal.Config{
		MerchantID:  cfg.Payment.MerchantID,
		Sandbox:     cfg.Payment.Sandbox,
		CallbackURL: cfg.Payment.CallbackURL,
		Timeout:     cfg.Payment.GatewayTimeout,
	}, logger)
	paymentService := payments.NewService(regRepo, gateway, rdb.Locker(), queue.NewQueue(rdb.Client, logger), payments.Config{
		Description:    cfg.Payment.Description,
		GatewayTimeout: cfg.Payment.GatewayTimeout,
		LockTTL:        cfg.Payment.LockTTL,
	}, m, logger)

	router := newRouter(routerDeps{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		jwt:       jwtService,
		health:    healthCheck(pool, rdb),
		locations: locations.NewHandler(catalog),
		regs:      registrations.NewHandler(regService, logger),
		payments:  payments.NewHandler(paymentService, payments.Redirects{SuccessURL: cfg.Frontend.SuccessURL, FailureURL: cfg.Frontend.FailureURL}, logger),
		auth:      auth.NewHandler(authRepo, jwtService, logger),
		dashboard: dashboard.NewHandler(regRepo, receiptLinker, logger),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.Bool("zarinpal_sandbox", cfg.Payment.Sandbox))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("flush spans", zap.Error(err))
	}
	logger.Info("server stopped")
}

type routerDeps struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	jwt       *auth.JWTService
	health    func(context.Context) error
	locations *locations.Handler
	regs      *registrations.Handler
	payments  *payments.Handler
	auth      *auth.Handler
	dashboard *dashboard.Handler
}

func newRouter(d routerDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(d.logger))
	router.Use(middleware.Metrics(d.metrics))
	router.Use(middleware.CORS(d.cfg.Server.CORSAllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.health(ctx); err != nil {
			d.logger.Warn("health check failed", zap.Error(err))
			response.ServiceUnavailable(c, "unhealthy")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/locations", d.locations.List)

	router.POST("/registrations", d.regs.Create)
	router.GET("/registrations/lookup", d.regs.Lookup)

	router.POST("/payments/request", d.payments.Request)
	router.POST("/payments/retry", d.payments.Retry)
	router.GET("/payments/verify", d.payments.Verify)

	router.POST("/auth/login", d.auth.Login)
	router.GET("/auth/me", middleware.JWT(d.jwt), d.auth.Me)

	admin := router.Group("/admin", middleware.JWT(d.jwt), middleware.RequireRole(models.RoleAdmin, models.RoleViewer))
	{
		admin.GET("/registrations", d.dashboard.List)
		admin.GET("/registrations/:id", d.dashboard.Get)
		admin.GET("/stats", d.dashboard.Stats)
		admin.GET("/registrations/:id/receipt", middleware.RequireRole(models.RoleAdmin), d.dashboard.Receipt)
	}
	return router
}

func healthCheck(pool *pgxpool.Pool, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		})
		return g.Wait()
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
