package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mavedb/internal/access"
	"mavedb/internal/blob"
	"mavedb/internal/config"
	"mavedb/internal/dataset"
	"mavedb/internal/db"
	"mavedb/internal/middleware"
	"mavedb/internal/notify"
	"mavedb/internal/user"
	"mavedb/internal/worker"
	"mavedb/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate the schema on startup")
	return cmd
}

func serve(ctx context.Context, skipMigrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := bootstrap()
	if err != nil {
		return err
	}
	defer db.CloseDb(log)
	defer log.Sync()

	if !skipMigrate {
		if err := db.Migrate(db.AppDb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	cache := redis.NewCache(redis.InitRedis(ctx, config.AppConfig.RedisAddress, log))

	blobs, err := blob.Open(ctx, blob.Config{
		Driver:    config.AppConfig.BlobDriver,
		Root:      config.AppConfig.BlobRoot,
		Bucket:    config.AppConfig.S3Bucket,
		Region:    config.AppConfig.S3Region,
		Endpoint:  config.AppConfig.S3Endpoint,
		PathStyle: config.AppConfig.S3PathStyle,
		AccessKey: config.AppConfig.S3AccessKey,
		SecretKey: config.AppConfig.S3SecretKey,
	})
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	pool := worker.NewWorkerPool(config.AppConfig.WorkerCount, config.AppConfig.TaskTimeout, log.Named("worker"))
	notifier := notify.New(config.AppConfig.NotifyAddress, config.AppConfig.NotifySecret, log.Named("notify"))

	// Initialize repositories and services
	userService := user.NewService(user.NewRepository(db.AppDb))
	accessManager := access.NewManager(access.NewRepository(db.AppDb), cache, log.Named("access"))
	datasetService := dataset.NewService(
		dataset.NewRepository(db.AppDb),
		accessManager,
		userService,
		blobs,
		pool,
		notifier,
		log.Named("dataset"),
	)

	userHandler := user.NewHandler(userService, log)
	datasetHandler := dataset.NewHandler(datasetService)
	authMiddleware := &middleware.Auth{UserService: userService}

	router := newRouter(log, userHandler, datasetHandler, authMiddleware)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.AppConfig.ServerPort),
		Handler: router.Handler(),
	}

	go func() {
		log.Info("server listening", zap.String("port", config.AppConfig.ServerPort))
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	// let queued ingestion jobs finish before the database goes away
	pool.Shutdown()

	log.Info("server shutdown complete")
	return nil
}

func newRouter(log *zap.Logger, userHandler *user.Handler, datasetHandler *dataset.Handler, authMiddleware *middleware.Auth) *gin.Engine {
	if config.AppConfig.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.ErrorHandler(log))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}
	if config.AppConfig.Environment == "development" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	// User routes
	api.POST("/register", userHandler.Register)
	api.POST("/login", userHandler.Login)
	api.DELETE("/logout", authMiddleware.Required(), userHandler.Logout)
	api.GET("/profile", authMiddleware.Required(), userHandler.GetProfile)
	api.GET("/users", authMiddleware.Required(), userHandler.SearchUsers)

	datasetHandler.Register(api, authMiddleware.Required(), authMiddleware.Optional())
	return router
}
