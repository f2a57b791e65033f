package repository

import (
	"context"
	"errors"
	"fmt"

	"docqa/internal/models"

	"gorm.io/gorm"
)

// DocumentRepositoryImpl handles all database operations for documents using GORM
// Learning: This is the IMPLEMENTATION. It doesn't know about any interface.
// The services package will declare the interface it needs.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
// Returns concrete type - "Accept interfaces, return structs"
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a pending document.
// The KSUID and upload time are generated in the BeforeCreate hook
func (r *DocumentRepositoryImpl) Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error) {
	document := &models.Document{
		Filename:  doc.Filename,
		SizeBytes: doc.SizeBytes,
		Checksum:  doc.Checksum,
		Status:    models.StatusPending,
	}

	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return document, nil
}

// GetByID retrieves a document by its KSUID, whatever its status
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// List returns documents in the given states, most recent upload first.
// No states means every state.
// Learning: KSUID allows natural time-based ordering, the id breaks ties
// between uploads with the same timestamp
func (r *DocumentRepositoryImpl) List(ctx context.Context, statuses ...models.DocumentStatus) ([]*models.Document, error) {
	documents := []*models.Document{}

	q := r.db.WithContext(ctx).Order("uploaded_at DESC").Order("id DESC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}

	if err := q.Find(&documents).Error; err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// MarkReady stores the chunks and flips the document to ready in one
// transaction. Either both happen or neither does.
func (r *DocumentRepositoryImpl) MarkReady(ctx context.Context, id string, result *models.IngestionResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-ingestion replaces whatever an earlier attempt left behind
		if err := tx.Where("document_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}

		if len(result.Chunks) > 0 {
			if err := tx.CreateInBatches(result.Chunks, 100).Error; err != nil {
				return fmt.Errorf("failed to store chunks: %w", err)
			}
		}

		res := tx.Model(&models.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":          models.StatusReady,
			"page_count":      result.PageCount,
			"chunk_count":     len(result.Chunks),
			"embedding_model": result.EmbeddingModel,
			"error":           "",
		})
		if res.Error != nil {
			return fmt.Errorf("failed to mark document ready: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil
	})
}

// MarkFailed records why ingestion failed. The document keeps no chunks.
func (r *DocumentRepositoryImpl) MarkFailed(ctx context.Context, id, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to clear chunks: %w", err)
		}

		res := tx.Model(&models.Document{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":      models.StatusFailed,
			"chunk_count": 0,
			"error":       reason,
		})
		if res.Error != nil {
			return fmt.Errorf("failed to mark document failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil
	})
}

// FailPending marks every pending document failed. Used on startup for
// uploads whose ingestion was interrupted by a crash.
func (r *DocumentRepositoryImpl) FailPending(ctx context.Context, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Document{}).
		Where("status = ?", models.StatusPending).
		Updates(map[string]interface{}{"status": models.StatusFailed, "error": reason})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail pending documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes the document with its chunks and chat history.
// Learning: the cascade is spelled out so it does not depend on the
// driver enforcing foreign keys (SQLite has them off by default)
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&models.ChatTurn{}).Error; err != nil {
			return fmt.Errorf("failed to delete chats: %w", err)
		}
		if err := tx.Where("document_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}

		res := tx.Delete(&models.Document{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
		}
		return nil
	})
}
