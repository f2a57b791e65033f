package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerHost  string `yaml:"server_host"`
	ServerPort  string `yaml:"server_port"`
	MaxUploadMB int    `yaml:"max_upload_mb"`

	// Database: "postgres" or "sqlite"
	DBDriver   string `yaml:"db_driver"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
	DBLogSQL   bool   `yaml:"db_log_sql"`

	// Vector index: "memory", "pgvector" or "qdrant"
	VectorIndex  string `yaml:"vector_index"`
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	QdrantUseTLS bool   `yaml:"qdrant_use_tls"`

	// Model endpoints
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OllamaHost   string `yaml:"ollama_host"`

	EmbeddingProvider    string        `yaml:"embedding_provider"` // openai, ollama, local
	EmbeddingModel       string        `yaml:"embedding_model"`
	EmbeddingBaseURL     string        `yaml:"embedding_base_url"`
	EmbeddingDimensions  int           `yaml:"embedding_dimensions"`
	EmbeddingBatchSize   int           `yaml:"embedding_batch_size"`
	EmbeddingConcurrency int           `yaml:"embedding_concurrency"`
	EmbeddingRateLimit   float64       `yaml:"embedding_rate_limit"` // requests per second, 0 = unlimited
	EmbeddingTimeout     time.Duration `yaml:"embedding_timeout"`

	GenerationProvider    string        `yaml:"generation_provider"` // openai, ollama
	GenerationModel       string        `yaml:"generation_model"`
	GenerationBaseURL     string        `yaml:"generation_base_url"`
	GenerationTimeout     time.Duration `yaml:"generation_timeout"`
	GenerationTemperature float64       `yaml:"generation_temperature"`

	// Retry policy for external model calls
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`

	// Chunking and retrieval
	ChunkSize         int     `yaml:"chunk_size"`
	ChunkOverlap      float64 `yaml:"chunk_overlap"`
	RetrievalTopK     int     `yaml:"retrieval_top_k"`
	RetrievalMinScore float64 `yaml:"retrieval_min_score"`

	// Ingestion worker pool
	IngestWorkers   int `yaml:"ingest_workers"`
	IngestQueueSize int `yaml:"ingest_queue_size"`

	// Observability
	TracingEnabled bool   `yaml:"tracing_enabled"`
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

// Load reads .env (if present), the environment, and then the YAML file named
// by CONFIG_FILE, which wins over the environment for every key it sets.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost:  getEnv("SERVER_HOST", "localhost"),
		ServerPort:  getEnv("SERVER_PORT", "8000"),
		MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 32),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "docqa"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "docqa.db"),
		DBLogSQL:   getEnvBool("DB_LOG_SQL", false),

		VectorIndex:  getEnv("VECTOR_INDEX", "memory"),
		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),
		QdrantUseTLS: getEnvBool("QDRANT_USE_TLS", false),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OllamaHost:   getEnv("OLLAMA_HOST", "http://localhost:11434"),

		EmbeddingProvider:    getEnv("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", ""),
		EmbeddingBaseURL:     getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingDimensions:  getEnvInt("EMBEDDING_DIMENSIONS", 0),
		EmbeddingBatchSize:   getEnvInt("EMBEDDING_BATCH_SIZE", 32),
		EmbeddingConcurrency: getEnvInt("EMBEDDING_CONCURRENCY", 4),
		EmbeddingRateLimit:   getEnvFloat("EMBEDDING_RATE_LIMIT", 0),
		EmbeddingTimeout:     getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),

		GenerationProvider:    getEnv("GENERATION_PROVIDER", "openai"),
		GenerationModel:       getEnv("GENERATION_MODEL", ""),
		GenerationBaseURL:     getEnv("GENERATION_BASE_URL", ""),
		GenerationTimeout:     getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		GenerationTemperature: getEnvFloat("GENERATION_TEMPERATURE", 0.1),

		RetryMaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),

		ChunkSize:         getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:      getEnvFloat("CHUNK_OVERLAP", 0.2),
		RetrievalTopK:     getEnvInt("RETRIEVAL_TOP_K", 3),
		RetrievalMinScore: getEnvFloat("RETRIEVAL_MIN_SCORE", 0.25),

		IngestWorkers:   getEnvInt("INGEST_WORKERS", 2),
		IngestQueueSize: getEnvInt("INGEST_QUEUE_SIZE", 32),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// overlayFile applies a YAML file on top of the environment-derived values.
// Keys absent from the file keep their current value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the combinations that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}

	switch c.VectorIndex {
	case "memory", "qdrant":
	case "pgvector":
		if c.DBDriver != "postgres" {
			errs = append(errs, errors.New("VECTOR_INDEX=pgvector requires DB_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("VECTOR_INDEX must be memory, pgvector or qdrant, got %q", c.VectorIndex))
	}

	switch c.EmbeddingProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for EMBEDDING_PROVIDER=openai"))
		}
	case "ollama", "local":
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER must be openai, ollama or local, got %q", c.EmbeddingProvider))
	}

	switch c.GenerationProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for GENERATION_PROVIDER=openai"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("GENERATION_PROVIDER must be openai or ollama, got %q", c.GenerationProvider))
	}

	if c.ChunkSize < 50 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be at least 50, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap > 0.5 {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be within [0, 0.5], got %v", c.ChunkOverlap))
	}
	if c.RetrievalTopK < 1 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts))
	}
	if c.IngestWorkers < 1 || c.IngestQueueSize < 1 {
		errs = append(errs, errors.New("INGEST_WORKERS and INGEST_QUEUE_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms", "2s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
