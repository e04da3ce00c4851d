package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"conversepdf/internal/app"
	"conversepdf/internal/config"
	"conversepdf/internal/journal"
	"conversepdf/internal/logger"
	"conversepdf/internal/pipeline"
	"conversepdf/internal/queue"
	"conversepdf/internal/telemetry"
	"conversepdf/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)
	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer(ctx, "worker", cfg.OTLPEndpoint, 1.0)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			defer shutdown(ctx)
		}
	}
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	components, err := app.Build(ctx, cfg, metrics, logger.Logger)
	if err != nil {
		log.Fatal("Failed to build pipeline:", err)
	}
	defer components.Close(ctx)

	if err := components.EnsureCollection(ctx); err != nil {
		log.Fatal("Failed to ensure collection:", err)
	}

	registry, err := components.Registry(ctx)
	if err != nil {
		log.Fatal("Failed to open ingestion registry:", err)
	}

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// asynq owns retries; the journal lets a retried task skip its completed steps.
	runner := components.Runner(journal.NewRedisJournal(rdb, cfg.StepResultTTL), pipeline.SingleAttempt())
	processor := queue.NewTaskProcessor(components.Ingestor(runner), components.Answerer(runner), registry, logger.Logger)

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
			},
			RetryDelayFunc: queue.RetryDelayFunc(app.RetryPolicy(cfg)),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task failed", "type", task.Type(), "retried", retried, "max_retry", maxRetry, "error", err)
			}),
		},
	)

	if cfg.InboxDir != "" {
		client := asynq.NewClient(redisOpt)
		defer client.Close()

		sweeper := services.NewInboxSweeper(cfg.InboxDir, client, app.TaskOptions(cfg), logger.Logger)
		if err := sweeper.Start(ctx, cfg.InboxSweepInterval); err != nil {
			log.Fatal("Failed to start inbox sweeper:", err)
		}
		defer sweeper.Stop()
	}

	mux := asynq.NewServeMux()
	processor.Register(mux)

	logger.Info("Starting asynq worker",
		"concurrency", cfg.WorkerConcurrency,
		"vector_store", cfg.VectorStore,
		"collection", cfg.CollectionName,
		"inbox", cfg.InboxDir,
	)

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
