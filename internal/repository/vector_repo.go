package repository

import (
	"context"
	"errors"
	"fmt"

	"docqa/internal/models"
	"docqa/internal/vectorindex"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VectorRepositoryImpl is the pgvector backend of the vector index.
// Learning: every query is restricted by document_id before ranking, so a
// document's answer can never be built from another document's chunks.
type VectorRepositoryImpl struct {
	db *gorm.DB
}

// NewVectorRepository creates a new vector repository
// Returns concrete type - consumer will use interface
func NewVectorRepository(db *gorm.DB) *VectorRepositoryImpl {
	return &VectorRepositoryImpl{db: db}
}

// Add upserts chunk vectors. Re-adding a chunk id replaces its row.
func (r *VectorRepositoryImpl) Add(ctx context.Context, documentID, model string, entries ...vectorindex.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]*models.ChunkVector, len(entries))
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("%w: chunk %s", vectorindex.ErrEmptyVector, e.ChunkID)
		}
		if len(e.Vector) != len(entries[0].Vector) {
			return fmt.Errorf("%w: chunk %s", vectorindex.ErrDimensionMismatch, e.ChunkID)
		}
		rows[i] = &models.ChunkVector{
			ChunkID:    e.ChunkID,
			DocumentID: documentID,
			Seq:        e.Seq,
			Model:      model,
			Embedding:  pgvector.NewVector(vectorindex.Normalize(e.Vector)),
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ChunkVector
		err := tx.Where("document_id = ?", documentID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("failed to read partition: %w", err)
		case existing.Model != model:
			return fmt.Errorf("%w: partition %s uses %s, got %s", vectorindex.ErrModelMismatch, documentID, existing.Model, model)
		case len(existing.Embedding.Slice()) != len(entries[0].Vector):
			return fmt.Errorf("%w: partition %s has %d, got %d", vectorindex.ErrDimensionMismatch,
				documentID, len(existing.Embedding.Slice()), len(entries[0].Vector))
		}

		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			UpdateAll: true,
		}).CreateInBatches(rows, 100).Error
		if err != nil {
			return fmt.Errorf("failed to store vectors: %w", err)
		}
		return nil
	})
}

// Query performs an exact cosine scan over one document's vectors
// Learning: The <=> operator from pgvector calculates cosine distance,
// so similarity is 1 - distance
func (r *VectorRepositoryImpl) Query(ctx context.Context, documentID string, vector []float32, k int) ([]vectorindex.Match, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChunkVector{}).
		Where("document_id = ?", documentID).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read partition: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", vectorindex.ErrPartitionNotFound, documentID)
	}
	if k <= 0 {
		return []vectorindex.Match{}, nil
	}

	vec := pgvector.NewVector(vectorindex.Normalize(vector))

	var rows []struct {
		ChunkID string
		Seq     int
		Score   float32
	}
	err = r.db.WithContext(ctx).Raw(`
		SELECT chunk_id, seq, 1 - (embedding <=> ?) AS score
		FROM chunk_vectors
		WHERE document_id = ?
		ORDER BY embedding <=> ?, seq
		LIMIT ?
	`, vec, documentID, vec, k).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}

	matches := make([]vectorindex.Match, len(rows))
	for i, row := range rows {
		matches[i] = vectorindex.Match{ChunkID: row.ChunkID, Seq: row.Seq, Score: row.Score}
	}
	return vectorindex.TopK(matches, k), nil
}

// Remove drops a document's vectors in one statement
func (r *VectorRepositoryImpl) Remove(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&models.ChunkVector{}).Error; err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}
