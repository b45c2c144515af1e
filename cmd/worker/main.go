package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hszk-dev/photoflow/internal/config"
	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
	"github.com/hszk-dev/photoflow/internal/infrastructure/faceai"
	"github.com/hszk-dev/photoflow/internal/infrastructure/queue"
	"github.com/hszk-dev/photoflow/internal/infrastructure/storage"
	"github.com/hszk-dev/photoflow/internal/mediaproc"
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

	// Ensure temp directory exists
	if err := os.MkdirAll(cfg.Worker.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

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

	recognizer := faceai.NewClient(faceai.DefaultClientConfig(cfg.CompreFace.BaseURL(), cfg.CompreFace.APIKey))

	// Initialize processing engines and the pipeline service
	images := mediaproc.NewImagingProcessor(mediaproc.DefaultImagingConfig())
	frames := mediaproc.NewFFmpegExtractor(mediaproc.DefaultFFmpegConfig())
	refs := usecase.NewRefCounter(storageClient, queueClient)

	pipelineSvc := usecase.NewPipelineService(
		storageClient,
		queueClient,
		refs,
		recognizer,
		images,
		frames,
		usecase.PipelineConfig{
			Buckets: model.NewBuckets(cfg.Pipeline.BucketPrefix),
			Thresholds: model.Thresholds{
				DetectionProbability: cfg.Pipeline.DetectionProbability,
				Confidence:           cfg.Pipeline.ConfidenceThreshold,
			},
			CompressThreshold: cfg.Pipeline.CompressThreshold,
			ThumbnailSize:     cfg.Pipeline.ThumbnailSize,
			RecognizeDelay:    cfg.Pipeline.RecognizeDelay,
			VideoFrameCount:   cfg.Pipeline.VideoFrameCount,
			TempDir:           cfg.Worker.TempDir,
		},
	)

	// Setup signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// WaitGroup to track in-flight tasks
	var wg sync.WaitGroup

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting worker, consuming pipeline tasks")
		err := queueClient.Consume(ctx, func(task repository.Task) error {
			wg.Add(1)
			defer wg.Done()

			logger.Info("processing task",
				slog.String("task_id", task.ID.String()),
				slog.String("stage", task.Stage.String()),
				slog.String("bucket", task.Bucket),
				slog.String("key", task.Key),
			)

			if err := pipelineSvc.ProcessTask(ctx, task); err != nil {
				logger.Error("task processing failed",
					slog.String("task_id", task.ID.String()),
					slog.String("stage", task.Stage.String()),
					slog.String("error", err.Error()),
				)
				return err
			}

			logger.Info("task completed",
				slog.String("task_id", task.ID.String()),
				slog.String("stage", task.Stage.String()),
			)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Cancel the main context to stop consuming new messages
	cancel()

	// Wait for in-flight tasks to complete (or timeout)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight tasks completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some tasks may not have completed")
	}

	logger.Info("worker stopped")
	return nil
}
