package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"docqa/internal/middleware"
	"docqa/internal/models"
	"docqa/internal/vectorindex"

	"go.opentelemetry.io/otel/attribute"
)

// RetrievalResult is either RelevantContext or NoRelevantContext.
// Learning: a sealed interface (unexported marker method) makes "nothing
// relevant" its own case instead of an empty slice that callers might
// forget to check.
type RetrievalResult interface {
	isRetrievalResult()
}

// RelevantContext holds the chunks above the score threshold, best first
type RelevantContext struct {
	Chunks []models.ScoredChunk
}

// NoRelevantContext reports that nothing passed the threshold
type NoRelevantContext struct {
	Considered int
	BestScore  float32
}

func (RelevantContext) isRetrievalResult()   {}
func (NoRelevantContext) isRetrievalResult() {}

type RetrieverOptions struct {
	TopK     int
	MinScore float32
}

type Retriever struct {
	embedder Embedder
	index    VectorIndex
	chunks   ChunkRepository
	opts     RetrieverOptions
}

func NewRetriever(embedder Embedder, index VectorIndex, chunks ChunkRepository, opts RetrieverOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Retriever{embedder: embedder, index: index, chunks: chunks, opts: opts}
}

// Retrieve finds the passages of one document closest to the question
func (r *Retriever) Retrieve(ctx context.Context, documentID, question string) (RetrievalResult, error) {
	ctx, span := middleware.StartSpan(ctx, "Retriever.Retrieve",
		attribute.String("document.id", documentID),
		attribute.Int("top_k", r.opts.TopK),
	)
	defer span.End()

	// Step 1: Convert question to same vector space as the chunks
	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	// Step 2: Nearest neighbours inside the document's partition only
	matches, err := r.index.Query(ctx, documentID, vector, r.opts.TopK)
	if errors.Is(err, vectorindex.ErrPartitionNotFound) {
		log.Printf("⚠️  Ready document %s has no index partition", documentID)
		return NoRelevantContext{}, nil
	}
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	none := NoRelevantContext{Considered: len(matches)}
	if len(matches) > 0 {
		none.BestScore = matches[0].Score
	}

	// Step 3: Threshold
	kept := make([]vectorindex.Match, 0, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score < r.opts.MinScore {
			continue
		}
		kept = append(kept, m)
		ids = append(ids, m.ChunkID)
	}
	if len(kept) == 0 {
		middleware.AddSpanEvent(ctx, "no_relevant_context", attribute.Float64("best_score", float64(none.BestScore)))
		return none, nil
	}

	// Step 4: Load text and provenance, keeping the ranking
	byID, err := r.chunks.GetByIDs(ctx, ids)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	scored := make([]models.ScoredChunk, 0, len(kept))
	for _, m := range kept {
		c, ok := byID[m.ChunkID]
		if !ok {
			log.Printf("⚠️  Index returned unknown chunk %s", m.ChunkID)
			continue
		}
		scored = append(scored, models.ScoredChunk{Chunk: c, Score: m.Score})
	}
	if len(scored) == 0 {
		return none, nil
	}

	middleware.AddSpanEvent(ctx, "retrieved", attribute.Int("chunks", len(scored)))
	return RelevantContext{Chunks: scored}, nil
}
