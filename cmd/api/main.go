package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/photoflow/internal/api/handler"
	"github.com/hszk-dev/photoflow/internal/api/middleware"
	"github.com/hszk-dev/photoflow/internal/config"
	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/infrastructure/cache"
	"github.com/hszk-dev/photoflow/internal/infrastructure/faceai"
	"github.com/hszk-dev/photoflow/internal/infrastructure/queue"
	"github.com/hszk-dev/photoflow/internal/infrastructure/storage"
	"github.com/hszk-dev/photoflow/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize infrastructure clients
	storageClient, err := storage.NewClient(storage.ClientConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		UseSSL:    cfg.MinIO.UseSSL,
		Region:    cfg.MinIO.Region,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueClient, err := queue.NewClient(queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	recognizer := faceai.NewClient(faceai.DefaultClientConfig(cfg.CompreFace.BaseURL(), cfg.CompreFace.APIKey))

	// Initialize services
	buckets := model.NewBuckets(cfg.Pipeline.BucketPrefix)
	refs := usecase.NewRefCounter(storageClient, queueClient)
	ingestSvc := usecase.NewIngestService(storageClient, queueClient, buckets)
	albumSvc := usecase.NewAlbumService(
		storageClient,
		queueClient,
		refs,
		cache.NewRedisListingCache(redisClient),
		usecase.AlbumConfig{Buckets: buckets},
	)

	health := handler.NewHealthHandler()
	health.AddCheck("minio", storageClient.Ping)
	health.AddCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	r := setupRouter(logger, cfg, ingestSvc, albumSvc, recognizer, health)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(
	logger *slog.Logger,
	cfg *config.Config,
	ingestSvc usecase.Ingester,
	albumSvc usecase.AlbumService,
	recognizer *faceai.Client,
	health *handler.HealthHandler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", health.Live)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	ingestHandler := handler.NewIngestHandler(ingestSvc, cfg.Server.MaxUploadBytes)
	albumHandler := handler.NewAlbumHandler(albumSvc)
	faceaiHandler := handler.NewFaceAIHandler(recognizer)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sso", func(r chi.Router) {
			r.Post("/upload", ingestHandler.Upload)
			r.Post("/sync", ingestHandler.Sync)
			r.Get("/albums", albumHandler.Albums)
			r.Get("/photos/{bucket}", albumHandler.Photos)
			r.Post("/refresh", albumHandler.Refresh)
			r.Post("/remove", albumHandler.Remove)
			r.Post("/removes", albumHandler.RemoveBatch)
			r.Post("/copy", albumHandler.Copy)
			r.Post("/create", albumHandler.CreateBucket)
			r.Post("/rerecognize", albumHandler.ReRecognize)
		})
		r.Route("/faceai", func(r chi.Router) {
			r.Post("/subjects", faceaiHandler.AddSubject)
			r.Get("/subjects", faceaiHandler.ListSubjects)
			r.Post("/faces", faceaiHandler.AddFace)
		})
	})

	return r
}
