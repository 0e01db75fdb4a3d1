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

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/rabby420bd/tj/cache"
	"github.com/rabby420bd/tj/common/auth"
	"github.com/rabby420bd/tj/common/logger"
	"github.com/rabby420bd/tj/controllers"
	"github.com/rabby420bd/tj/database"
	"github.com/rabby420bd/tj/middleware"
	awspkg "github.com/rabby420bd/tj/pkg/aws"
	"github.com/rabby420bd/tj/realtime"
	"github.com/rabby420bd/tj/repository"
	"github.com/rabby420bd/tj/routes"
	"github.com/rabby420bd/tj/services"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	productCacheTTL = 10 * time.Minute
	idempotencyTTL  = 24 * time.Hour
	shutdownTimeout = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cmd.Context())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *Config) error {
	logger.Initialize(cfg.Env)

	var awsCfg sdkaws.Config
	if cfg.needsAWS() {
		var err error
		if awsCfg, err = awspkg.LoadAWSConfig(ctx, cfg.AWS); err != nil {
			return err
		}
	}

	if cfg.CloudWatchEnabled {
		cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			logger.Log.Warn("CloudWatch log shipping disabled", zap.Error(err))
		} else {
			logger.InitializeWithWriter(cfg.Env, cw)
		}
	}
	log := logger.Log
	defer func() { _ = log.Sync() }()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := openStore(ctx, cfg, awsCfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}()

	var productCache services.ProductCache
	var idem cache.IdempotencyStore = cache.NewMemoryIdempotencyStore(idempotencyTTL)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(log, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, running without product cache", zap.Error(err))
		} else {
			productCache = cache.NewProductCache(redisClient, productCacheTTL, log)
			idem = cache.NewRedisIdempotencyStore(redisClient, idempotencyTTL)
		}
	}

	broker := realtime.NewBroker()

	var images services.ImageStorage
	if cfg.S3Bucket != "" {
		images = awspkg.NewImageBucket(awsCfg, cfg.S3Bucket, cfg.S3PublicBaseURL)
	}

	var metricsClient *awspkg.MetricsClient
	orderOpts := []services.OrderServiceOption{
		services.WithPublisher(broker),
		services.WithPriceSource(cfg.PriceSource),
	}
	if cfg.OrderTopicARN != "" {
		orderOpts = append(orderOpts, services.WithNotifier(
			services.NewNotifier(awspkg.NewSNSClient(awsCfg), cfg.OrderTopicARN, log)))
	}
	if cfg.CloudWatchEnabled {
		metricsClient = awspkg.NewMetricsClient(awsCfg, "", true)
		orderOpts = append(orderOpts, services.WithBusinessMetrics(metricsClient))
	}

	orders := services.NewOrderService(store, log, orderOpts...)
	catalog := services.NewCatalogService(store, productCache, images, broker, log)
	chat := services.NewChatService(store, broker, log)

	// Placement changes stock outside the catalog service.
	stopInvalidation := catalog.InvalidateOnStockChange(broker)
	defer stopInvalidation()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	admin := auth.NewAdminAuthenticator(tokens, cfg.AdminEmail, cfg.AdminPasswordHash)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, 10*time.Minute)
	defer limiter.Stop()

	origins := middleware.ResolveOrigins(cfg.AllowedOrigins)
	r := gin.New()
	routes.SetupRoutes(r, routes.Dependencies{
		Orders:         controllers.NewOrderController(orders, idem),
		Catalog:        controllers.NewCatalogController(catalog),
		Chat:           controllers.NewChatController(chat),
		Auth:           controllers.NewAuthController(admin),
		Streams:        controllers.NewStreamController(broker, chat, origins, log),
		AdminVerifier:  admin,
		RateLimiter:    limiter,
		CloudWatch:     metricsClient,
		AllowedOrigins: origins,
		ServiceName:    serviceName,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Storefront starting",
			zap.String("port", cfg.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("price_source", string(cfg.PriceSource)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	log.Info("Shutting down storefront...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error("Failed to close Redis", zap.Error(err))
		}
	}
	log.Info("Storefront stopped gracefully")
	return nil
}

// openStore connects the backend selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *Config, awsCfg sdkaws.Config, log *zap.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case DriverDynamoDB:
		return repository.NewDynamoStore(database.NewDynamoClient(awsCfg), repository.DynamoTables{
			Products: cfg.DDBTableProducts,
			Orders:   cfg.DDBTableOrders,
			Chats:    cfg.DDBTableChats,
		}), nil
	case DriverMongo:
		client, db, err := database.ConnectMongo(log, cfg.MongoURL, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		store := repository.NewMongoStore(client, db)
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Warn("Failed to ensure MongoDB indexes", zap.Error(err))
		}
		return store, nil
	case DriverPostgres:
		db, err := database.ConnectPostgres(log, cfg.Postgres, repository.PostgresModels()...)
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(db), nil
	case DriverMemory:
		log.Warn("Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
