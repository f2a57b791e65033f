// Package app assembles the engine from configuration. The HTTP server and
// the CLI both start from here, so they always run the same pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"docqa/internal/api"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/db"
	"docqa/internal/embedding"
	"docqa/internal/extractor"
	"docqa/internal/ollama"
	"docqa/internal/openai"
	"docqa/internal/repository"
	"docqa/internal/retry"
	"docqa/internal/services"
	"docqa/internal/services/events"
	"docqa/internal/vectorindex"
)

// generationAttempts is the first call plus a single retry
const generationAttempts = 2

type App struct {
	Config   *config.Config
	DB       *db.GormDB
	Hub      *events.Hub
	Embedder *embedding.Service
	Ingest   *services.IngestionService
	QA       *services.QAService

	closers []func() error
}

// New opens the configured database and builds every component
func New(cfg *config.Config) (*App, error) {
	gdb, err := db.NewGorm(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a, err := NewWithDB(cfg, gdb)
	if err != nil {
		_ = gdb.Close()
		return nil, err
	}
	a.closers = append(a.closers, gdb.Close)
	return a, nil
}

// NewWithDB builds the engine on an already migrated database. The caller
// keeps ownership of gdb.
func NewWithDB(cfg *config.Config, gdb *db.GormDB) (*App, error) {
	a := &App{Config: cfg, DB: gdb, Hub: events.NewHub()}

	provider, embedPermanent, err := newEmbeddingProvider(cfg)
	if err != nil {
		return nil, err
	}
	generator, genPermanent, err := newGenerator(cfg)
	if err != nil {
		return nil, err
	}

	index, closeIndex, err := newIndex(cfg, gdb)
	if err != nil {
		return nil, err
	}
	if closeIndex != nil {
		a.closers = append(a.closers, closeIndex)
	}

	a.Embedder = embedding.NewService(provider, embedding.Options{
		BatchSize:   cfg.EmbeddingBatchSize,
		Concurrency: cfg.EmbeddingConcurrency,
		RateLimit:   cfg.EmbeddingRateLimit,
		Timeout:     cfg.EmbeddingTimeout,
		Dimensions:  cfg.EmbeddingDimensions,
		Retry:       retryPolicy(cfg, "embedding", cfg.RetryMaxAttempts),
		IsPermanent: embedPermanent,
	})

	docs := repository.NewDocumentRepository(gdb.DB)
	chunks := repository.NewChunkRepository(gdb.DB)
	chats := repository.NewChatRepository(gdb.DB)

	a.Ingest = services.NewIngestionService(
		docs, chunks, chats,
		extractor.New(0),
		chunker.New(chunker.WithSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap)),
		a.Embedder, index, a.Hub,
		services.IngestionOptions{
			Workers:   cfg.IngestWorkers,
			QueueSize: cfg.IngestQueueSize,
			// only the in-process index loses its vectors on restart
			RebuildIndex: cfg.VectorIndex == "memory",
		},
	)

	retriever := services.NewRetriever(a.Embedder, index, chunks, services.RetrieverOptions{
		TopK:     cfg.RetrievalTopK,
		MinScore: float32(cfg.RetrievalMinScore),
	})
	synth := services.NewSynthesizer(generator, services.SynthesizerOptions{
		Timeout:     cfg.GenerationTimeout,
		Retry:       retryPolicy(cfg, "generation", generationAttempts),
		IsPermanent: genPermanent,
	})
	a.QA = services.NewQAService(docs, chats, a.Embedder, retriever, synth)

	log.Printf("🔧 Embedding: %s, index: %s, generation: %s", a.Embedder.Model(), cfg.VectorIndex, cfg.GenerationProvider)
	return a, nil
}

// Start recovers state left by the previous run, then starts the hub and
// the ingestion workers.
func (a *App) Start(ctx context.Context) error {
	a.Hub.Start()
	if err := a.Ingest.Restore(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	a.Ingest.Start()
	return nil
}

// LoadIndex fills the in-memory index from the database for one-shot CLI
// commands. Unlike Start it leaves pending uploads alone; a running server
// may still own them.
func (a *App) LoadIndex(ctx context.Context) error {
	if a.Config.VectorIndex != "memory" {
		return nil
	}
	return a.Ingest.LoadIndex(ctx)
}

// Handler is the HTTP API
func (a *App) Handler() http.Handler {
	return api.SetupRoutes(api.NewHandler(a.Ingest, a.QA, a.Hub, a.Config.MaxUploadMB))
}

// Shutdown drains the ingestion queue, disconnects subscribers and closes
// the stores, in that order.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	log.Printf("Draining ingestion queue (%d queued)...", a.Ingest.QueueLength())
	if err := a.Ingest.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ingestion shutdown: %w", err))
	}
	a.Hub.Shutdown()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newEmbeddingProvider(cfg *config.Config) (embedding.Provider, func(error) bool, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		client := openai.NewClient(openai.Options{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.EmbeddingBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
			HTTPTimeout:    cfg.EmbeddingTimeout,
		})
		return client, openai.IsPermanent, nil
	case "ollama":
		client, err := ollama.NewClient(ollama.Options{
			Host:           firstNonEmpty(cfg.EmbeddingBaseURL, cfg.OllamaHost),
			EmbeddingModel: cfg.EmbeddingModel,
			HTTPTimeout:    cfg.EmbeddingTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, ollama.IsPermanent, nil
	case "local":
		return embedding.NewHashProvider(cfg.EmbeddingDimensions), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported EMBEDDING_PROVIDER %q", cfg.EmbeddingProvider)
	}
}

func newGenerator(cfg *config.Config) (services.Generator, func(error) bool, error) {
	switch cfg.GenerationProvider {
	case "openai":
		client := openai.NewClient(openai.Options{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.GenerationBaseURL,
			ChatModel:   cfg.GenerationModel,
			Temperature: cfg.GenerationTemperature,
		})
		return client, openai.IsPermanent, nil
	case "ollama":
		client, err := ollama.NewClient(ollama.Options{
			Host:        firstNonEmpty(cfg.GenerationBaseURL, cfg.OllamaHost),
			ChatModel:   cfg.GenerationModel,
			Temperature: cfg.GenerationTemperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, ollama.IsPermanent, nil
	default:
		return nil, nil, fmt.Errorf("unsupported GENERATION_PROVIDER %q", cfg.GenerationProvider)
	}
}

func newIndex(cfg *config.Config, gdb *db.GormDB) (services.VectorIndex, func() error, error) {
	switch cfg.VectorIndex {
	case "memory":
		return vectorindex.NewMemory(), nil, nil
	case "pgvector":
		return repository.NewVectorRepository(gdb.DB), nil, nil
	case "qdrant":
		q, err := vectorindex.NewQdrant(vectorindex.QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantUseTLS,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported VECTOR_INDEX %q", cfg.VectorIndex)
	}
}

// retryPolicy starts from the default backoff shape and applies the
// configured attempt count and base delay.
func retryPolicy(cfg *config.Config, name string, attempts int) retry.Policy {
	p := retry.Default(name)
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	if cfg.RetryBaseDelay > 0 {
		p.BaseDelay = cfg.RetryBaseDelay
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
