package repository

import (
	"context"
	"fmt"

	"docqa/internal/models"

	"gorm.io/gorm"
)

// ChunkRepositoryImpl reads the chunks written by DocumentRepositoryImpl.MarkReady
type ChunkRepositoryImpl struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepositoryImpl {
	return &ChunkRepositoryImpl{db: db}
}

// GetByIDs loads chunk text and provenance keyed by chunk id. Vectors are
// not loaded. Unknown ids are simply absent from the map.
func (r *ChunkRepositoryImpl) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var chunks []*models.Chunk
	err := r.db.WithContext(ctx).
		Omit("vector").
		Where("id IN ?", ids).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	for _, c := range chunks {
		out[c.ID] = c
	}
	return out, nil
}

// ListByDocument returns a document's chunks in reading order, with vectors.
// Used to rebuild the in-memory index on startup.
func (r *ChunkRepositoryImpl) ListByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	chunks := []*models.Chunk{}

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("seq").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	return chunks, nil
}
