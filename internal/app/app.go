// Package app builds the pipeline components shared by the API server,
// the worker and the CLI from a validated configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"conversepdf/internal/ai"
	"conversepdf/internal/config"
	"conversepdf/internal/database"
	"conversepdf/internal/logger"
	"conversepdf/internal/pipeline"
	"conversepdf/internal/queue"
	"conversepdf/internal/telemetry"
	"conversepdf/internal/vectorstore"
	"conversepdf/models"
	"conversepdf/services"
)

// Registry records ingestion lifecycle and serves it back to the API.
type Registry interface {
	queue.StatusRecorder
	MarkPending(ctx context.Context, sourceID, reference, taskID string) error
	Get(ctx context.Context, sourceID string) (*models.IngestionRecord, error)
	List(ctx context.Context, limit int) ([]models.IngestionRecord, error)
}

type Components struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
	Store       pipeline.VectorStore
	Embedder    pipeline.Embedder
	Synthesizer pipeline.Synthesizer
	Loader      *services.DocumentLoader
	Chunker     *services.Chunker

	mongo   *mongo.Client
	closers []func(context.Context) error
}

// Build connects the configured vector store and providers. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, log *slog.Logger) (*Components, error) {
	c := &Components{
		Config:  cfg,
		Logger:  logger.Or(log),
		Metrics: metrics,
		Loader:  services.NewDocumentLoader(cfg.MaxFileSize, log),
	}

	chunker, err := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	c.Chunker = chunker

	if err := c.buildStore(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	if err := c.buildProviders(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Components) buildStore(ctx context.Context) error {
	cfg := c.Config
	switch cfg.VectorStore {
	case config.StoreQdrant:
		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			URL:     cfg.QdrantURL,
			APIKey:  cfg.QdrantAPIKey,
			Timeout: cfg.QdrantTimeout,
			Logger:  c.Logger,
		})
		if err != nil {
			return err
		}
		c.Store = store
		c.closers = append(c.closers, func(context.Context) error { return store.Close() })
	case config.StoreChromem:
		store, err := vectorstore.NewChromemStore(cfg.ChromemPath)
		if err != nil {
			return err
		}
		c.Store = store
	case config.StoreMongo:
		client, err := c.mongoClient()
		if err != nil {
			return err
		}
		c.Store = vectorstore.NewMongoStore(client.Database(cfg.DBName), cfg.VectorIndexName)
	case config.StoreMemory:
		c.Store = vectorstore.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported vector store %q", cfg.VectorStore)
	}
	c.Logger.Info("vector store configured", "kind", cfg.VectorStore, "collection", cfg.CollectionName)
	return nil
}

func (c *Components) buildProviders(ctx context.Context) error {
	cfg := c.Config
	guards := map[string]*ai.Guard{}
	guard := func(provider string) *ai.Guard {
		if g, ok := guards[provider]; ok {
			return g
		}
		g := ai.NewGuard(provider, cfg.ProviderRPS, c.Metrics, c.Logger)
		guards[provider] = g
		return g
	}
	synthesis := ai.SynthesisConfig{
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ContextBudget:   cfg.ContextCharBudget,
	}

	if cfg.EmbeddingsProvider == config.ProviderGoogle || cfg.ChatProvider == config.ProviderGoogle {
		client, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })

		if cfg.EmbeddingsProvider == config.ProviderGoogle {
			c.Embedder = ai.NewGeminiEmbedder(client, cfg.GoogleEmbeddingsModel, cfg.VectorDimensions, cfg.EmbedBatchSize, guard(ai.ProviderGemini))
		}
		if cfg.ChatProvider == config.ProviderGoogle {
			synthesis.Model = cfg.ChatModel
			c.Synthesizer = ai.NewGeminiSynthesizer(client, synthesis, guard(ai.ProviderGemini))
		}
	}

	if cfg.EmbeddingsProvider == config.ProviderOpenAI || cfg.ChatProvider == config.ProviderOpenAI {
		client, err := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return err
		}
		if cfg.EmbeddingsProvider == config.ProviderOpenAI {
			c.Embedder = ai.NewOpenAIEmbedder(client, cfg.OpenAIEmbeddingsModel, cfg.VectorDimensions, cfg.EmbedBatchSize, guard(ai.ProviderOpenAI))
		}
		if cfg.ChatProvider == config.ProviderOpenAI {
			synthesis.Model = cfg.OpenAIChatModel
			c.Synthesizer = ai.NewOpenAISynthesizer(client, synthesis, guard(ai.ProviderOpenAI))
		}
	}

	if c.Embedder == nil || c.Synthesizer == nil {
		return fmt.Errorf("providers not configured: embeddings=%q chat=%q", cfg.EmbeddingsProvider, cfg.ChatProvider)
	}
	return nil
}

func (c *Components) mongoClient() (*mongo.Client, error) {
	if c.mongo != nil {
		return c.mongo, nil
	}
	client, err := config.ConnectMongoDB(c.Config)
	if err != nil {
		return nil, err
	}
	c.mongo = client
	c.closers = append(c.closers, client.Disconnect)
	return client, nil
}

// EnsureCollection binds the store to the configured collection, creating it
// on first use. Ingestion and search fail until this succeeds.
func (c *Components) EnsureCollection(ctx context.Context) error {
	return c.Store.EnsureCollection(ctx, c.Config.CollectionName, c.Config.VectorDimensions, vectorstore.Cosine)
}

// Registry returns the Mongo ingestion registry, or a no-op one when disabled.
func (c *Components) Registry(ctx context.Context) (Registry, error) {
	if !c.Config.RegistryEnabled {
		return database.NopRecorder{}, nil
	}
	client, err := c.mongoClient()
	if err != nil {
		return nil, err
	}
	if err := config.CreateIndexes(ctx, client, c.Config.DBName); err != nil {
		return nil, err
	}
	return database.NewIngestionRegistry(client.Database(c.Config.DBName)), nil
}

func (c *Components) Runner(journal pipeline.Journal, policy pipeline.RetryPolicy) *pipeline.Runner {
	return pipeline.NewRunner(journal, policy, pipeline.WithLogger(c.Logger), pipeline.WithMetrics(c.Metrics))
}

func (c *Components) Ingestor(runner *pipeline.Runner) *pipeline.Ingestor {
	return pipeline.NewIngestor(pipeline.IngestorConfig{
		Runner:   runner,
		Loader:   c.Loader,
		Splitter: c.Chunker,
		Embedder: c.Embedder,
		Store:    c.Store,
		Metrics:  c.Metrics,
		Logger:   c.Logger,
	})
}

func (c *Components) Answerer(runner *pipeline.Runner) *pipeline.Answerer {
	return pipeline.NewAnswerer(pipeline.AnswererConfig{
		Runner:      runner,
		Retriever:   pipeline.NewRetriever(c.Embedder, c.Store),
		Synthesizer: c.Synthesizer,
		DefaultTopK: c.Config.DefaultTopK,
		MaxTopK:     c.Config.MaxTopK,
		Metrics:     c.Metrics,
		Logger:      c.Logger,
	})
}

// Close releases provider and database clients in reverse order.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i](ctx))
	}
	c.closers = nil
	return errors.Join(errs...)
}

// RetryPolicy is the step retry policy configured by STEP_MAX_ATTEMPTS and STEP_RETRY_BASE_DELAY.
func RetryPolicy(cfg *config.Config) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxAttempts: cfg.StepMaxAttempts,
		BaseDelay:   cfg.StepRetryBaseDelay,
		MaxDelay:    30 * time.Second,
	}
}

func TaskOptions(cfg *config.Config) queue.TaskOptions {
	return queue.TaskOptions{
		Policy:       RetryPolicy(cfg),
		Retention:    cfg.TaskRetention,
		QueryTimeout: cfg.QueryWaitTimeout,
	}
}
