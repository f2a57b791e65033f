package repository

import (
	"context"
	"fmt"
	"sync"

	"docqa/internal/models"

	"gorm.io/gorm"
)

/*
LEARNING: SERIALIZED APPENDS

Two asks on the same document may finish at the same time. Seq is
max(seq)+1 read inside a transaction, and the per-document mutex makes
the read-then-insert atomic within this process. The unique index on
(document_id, seq) catches anything that slips past, such as a second
process writing to the same database.
*/

// ChatRepositoryImpl stores the append-only chat history
type ChatRepositoryImpl struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewChatRepository(db *gorm.DB) *ChatRepositoryImpl {
	return &ChatRepositoryImpl{db: db, locks: make(map[string]*sync.Mutex)}
}

func (r *ChatRepositoryImpl) lockFor(documentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[documentID] = l
	}
	return l
}

// Forget drops the append lock of a deleted document.
func (r *ChatRepositoryImpl) Forget(documentID string) {
	r.mu.Lock()
	delete(r.locks, documentID)
	r.mu.Unlock()
}

// Append stores a turn and assigns its per-document seq (1-based)
func (r *ChatRepositoryImpl) Append(ctx context.Context, turn *models.ChatTurn) (*models.ChatTurn, error) {
	l := r.lockFor(turn.DocumentID)
	l.Lock()
	defer l.Unlock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		err := tx.Model(&models.ChatTurn{}).
			Where("document_id = ?", turn.DocumentID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error
		if err != nil {
			return fmt.Errorf("failed to read chat seq: %w", err)
		}

		turn.Seq = last + 1
		if err := tx.Create(turn).Error; err != nil {
			return fmt.Errorf("failed to append chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return turn, nil
}

// ListByDocument returns the chat history in the order it was asked
func (r *ChatRepositoryImpl) ListByDocument(ctx context.Context, documentID string) ([]*models.ChatTurn, error) {
	turns := []*models.ChatTurn{}

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("seq").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	return turns, nil
}
