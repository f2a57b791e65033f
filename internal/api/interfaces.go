package api

import (
	"context"

	"docqa/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

The handlers are the CONSUMER of the services, so the interfaces live HERE
and list only the methods a handler calls. *services.IngestionService and
*services.QAService satisfy them implicitly, and handler tests swap in
small fakes without a database or a model endpoint.
*/

// IngestionService is what the document endpoints need
type IngestionService interface {
	Upload(ctx context.Context, filename string, data []byte, wait bool) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, includePending bool) ([]*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// QAService is what /ask and /chats need
type QAService interface {
	Ask(ctx context.Context, documentID, question string) (*models.Answer, error)
	History(ctx context.Context, documentID string) ([]*models.ChatTurn, error)
}
