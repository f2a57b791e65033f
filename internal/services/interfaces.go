package services

import (
	"context"

	"docqa/internal/chunker"
	"docqa/internal/models"
	"docqa/internal/vectorindex"
)

/*
LEARNING: GO INTERFACE BEST PRACTICE

"Accept interfaces, return structs" - Rob Pike

Interfaces are defined where they are USED, not where implemented.
This package is the CONSUMER of repositories, model clients and the
vector index, so their interfaces live here, each with only the
methods the services call. Tests replace any of them with a small fake.
*/

// DocumentRepository defines what the services need from document storage
type DocumentRepository interface {
	Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, statuses ...models.DocumentStatus) ([]*models.Document, error)
	MarkReady(ctx context.Context, id string, result *models.IngestionResult) error
	MarkFailed(ctx context.Context, id, reason string) error
	FailPending(ctx context.Context, reason string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type ChunkRepository interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	ListByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error)
}

type ChatRepository interface {
	Append(ctx context.Context, turn *models.ChatTurn) (*models.ChatTurn, error)
	ListByDocument(ctx context.Context, documentID string) ([]*models.ChatTurn, error)
	Forget(documentID string)
}

// Embedder is satisfied by embedding.Service
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator is satisfied by the openai and ollama clients
type Generator interface {
	Generate(ctx context.Context, messages []models.Message) (string, error)
}

// VectorIndex is satisfied by vectorindex.Memory, vectorindex.Qdrant and
// repository.VectorRepositoryImpl
type VectorIndex interface {
	Add(ctx context.Context, documentID, model string, entries ...vectorindex.Entry) error
	Query(ctx context.Context, documentID string, vector []float32, k int) ([]vectorindex.Match, error)
	Remove(ctx context.Context, documentID string) error
}

type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]models.Page, error)
}

type Chunker interface {
	Split(pages []models.Page) []chunker.Span
}

// EventPublisher is satisfied by events.Hub
type EventPublisher interface {
	Publish(ev models.StatusEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.StatusEvent) {}
