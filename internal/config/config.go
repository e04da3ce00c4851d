package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"conversepdf/internal/apperr"
)

// Supported provider and store identifiers
const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"

	StoreQdrant  = "qdrant"
	StoreChromem = "chromem"
	StoreMongo   = "mongo"
	StoreMemory  = "memory"
)

type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	CORSOrigins    []string
	FileStorageDir string
	MaxFileSize    int64

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// MongoDB (ingestion registry, optional vector store)
	MongoURI        string
	DBName          string
	RegistryEnabled bool

	// Vector store
	VectorStore      string // "qdrant" (default), "chromem", "mongo", "memory"
	QdrantURL        string
	QdrantAPIKey     string
	QdrantTimeout    time.Duration
	CollectionName   string
	VectorDimensions int
	VectorIndexName  string
	ChromemPath      string

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "openai"
	GoogleEmbeddingsModel string
	OpenAIEmbeddingsModel string
	EmbedBatchSize        int

	// Chat completion configuration
	ChatProvider    string
	ChatModel       string
	OpenAIChatModel string
	Temperature     float64
	MaxOutputTokens int

	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ProviderRPS   float64

	// Chunking and retrieval
	MaxChunkSize      int
	ChunkOverlap      int
	DefaultTopK       int
	MaxTopK           int
	ContextCharBudget int

	// Durable steps
	StepMaxAttempts    int
	StepRetryBaseDelay time.Duration
	StepResultTTL      time.Duration
	TaskRetention      time.Duration
	WorkerConcurrency  int
	QueryWaitTimeout   time.Duration

	// Inbox sweeper
	InboxDir           string
	InboxSweepInterval time.Duration

	// Rate limiting for the public API
	RateLimitReqs   int
	RateLimitWindow int

	// Tracing
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration from the process environment without validating it.
func FromEnv() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "release"),
		LogLevel:       getEnv("LOG_LEVEL", ""),
		CORSOrigins:    strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8501"), ","),
		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage/uploads"),
		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 52428800), // 50MB

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017/conversepdf"),
		DBName:          getEnv("DB_NAME", "conversepdf"),
		RegistryEnabled: getEnvBool("REGISTRY_ENABLED", false),

		VectorStore:      strings.ToLower(getEnv("VECTOR_STORE", StoreQdrant)),
		QdrantURL:        strings.TrimRight(getEnv("QDRANT_URL", "http://localhost:6334"), "/"),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantTimeout:    getEnvDuration("QDRANT_TIMEOUT", 30*time.Second),
		CollectionName:   getEnv("COLLECTION_NAME", "docs_gemini"),
		VectorDimensions: getEnvInt("VECTOR_DIMENSIONS", 768),
		VectorIndexName:  getEnv("VECTOR_INDEX_NAME", "chunks_vector"),
		ChromemPath:      getEnv("CHROMEM_PATH", "./storage/chromem"),

		EmbeddingsProvider:    strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", ProviderGoogle)),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		OpenAIEmbeddingsModel: getEnv("OPENAI_EMBEDDINGS_MODEL", "text-embedding-3-small"),
		EmbedBatchSize:        getEnvInt("EMBED_BATCH_SIZE", 100),

		ChatProvider:    strings.ToLower(getEnv("CHAT_PROVIDER", ProviderGoogle)),
		ChatModel:       getEnv("CHAT_MODEL", "gemini-2.5-flash"),
		OpenAIChatModel: getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		Temperature:     getEnvFloat64("TEMPERATURE", 0.2),
		MaxOutputTokens: getEnvInt("MAX_OUTPUT_TOKENS", 1024),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		ProviderRPS:   getEnvFloat64("PROVIDER_RPS", 10),

		MaxChunkSize:      getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 200),
		DefaultTopK:       getEnvInt("DEFAULT_TOP_K", 5),
		MaxTopK:           getEnvInt("MAX_TOP_K", 20),
		ContextCharBudget: getEnvInt("CONTEXT_CHAR_BUDGET", 24000),

		StepMaxAttempts:    getEnvInt("STEP_MAX_ATTEMPTS", 4),
		StepRetryBaseDelay: getEnvDuration("STEP_RETRY_BASE_DELAY", 2*time.Second),
		StepResultTTL:      getEnvDuration("STEP_RESULT_TTL", 24*time.Hour),
		TaskRetention:      getEnvDuration("TASK_RETENTION", 24*time.Hour),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 10),
		QueryWaitTimeout:   getEnvDuration("QUERY_WAIT_TIMEOUT", 120*time.Second),

		InboxDir:           getEnv("INBOX_DIR", ""),
		InboxSweepInterval: getEnvDuration("INBOX_SWEEP_INTERVAL", 5*time.Minute),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// Validate rejects configurations the pipelines cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperr.Errorf(apperr.KindInvalidConfiguration, "config", format, args...)
	}

	if c.MaxChunkSize <= 0 {
		return invalid("MAX_CHUNK_SIZE must be positive, got %d", c.MaxChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxChunkSize {
		return invalid("CHUNK_OVERLAP must be in [0, MAX_CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.MaxTopK < 1 {
		return invalid("MAX_TOP_K must be at least 1, got %d", c.MaxTopK)
	}
	if c.DefaultTopK < 1 || c.DefaultTopK > c.MaxTopK {
		return invalid("DEFAULT_TOP_K must be in [1, %d], got %d", c.MaxTopK, c.DefaultTopK)
	}
	if c.VectorDimensions <= 0 {
		return invalid("VECTOR_DIMENSIONS must be positive, got %d", c.VectorDimensions)
	}
	if c.StepMaxAttempts < 1 {
		return invalid("STEP_MAX_ATTEMPTS must be at least 1, got %d", c.StepMaxAttempts)
	}
	if c.ContextCharBudget <= 0 {
		return invalid("CONTEXT_CHAR_BUDGET must be positive, got %d", c.ContextCharBudget)
	}

	switch c.VectorStore {
	case StoreQdrant, StoreChromem, StoreMongo, StoreMemory:
	default:
		return invalid("unsupported VECTOR_STORE %q", c.VectorStore)
	}

	for _, p := range []struct{ name, value string }{
		{"EMBEDDINGS_PROVIDER", c.EmbeddingsProvider},
		{"CHAT_PROVIDER", c.ChatProvider},
	} {
		switch p.value {
		case ProviderGoogle:
			if c.GeminiAPIKey == "" {
				return invalid("GEMINI_API_KEY is required when %s=google", p.name)
			}
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				return invalid("OPENAI_API_KEY is required when %s=openai", p.name)
			}
		default:
			return invalid("unsupported %s %q", p.name, p.value)
		}
	}

	return nil
}

// EmbeddingModel returns the model identifier of the configured embeddings provider.
func (c *Config) EmbeddingModel() string {
	if c.EmbeddingsProvider == ProviderOpenAI {
		return c.OpenAIEmbeddingsModel
	}
	return c.GoogleEmbeddingsModel
}
