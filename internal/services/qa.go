package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"docqa/internal/middleware"
	"docqa/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: RAG (Retrieval Augmented Generation)

  Question
    ↓
  Embed question, nearest chunks of THIS document
    ↓
  Nothing above threshold? → fixed "not enough information" answer
    ↓
  Prompt with numbered passages → LLM → citations become page labels
    ↓
  Append the turn to the document's chat history
*/

// MaxQuestionLength bounds a question in runes
const MaxQuestionLength = 2000

// QAService answers questions against one ready document
type QAService struct {
	docs      DocumentRepository
	chats     ChatRepository
	embedder  Embedder
	retriever *Retriever
	synth     *Synthesizer
}

func NewQAService(
	docs DocumentRepository,
	chats ChatRepository,
	embedder Embedder,
	retriever *Retriever,
	synth *Synthesizer,
) *QAService {
	return &QAService{docs: docs, chats: chats, embedder: embedder, retriever: retriever, synth: synth}
}

// Ask answers and records the exchange. The document must be ready and
// embedded with the active model; otherwise the index is never touched.
func (s *QAService) Ask(ctx context.Context, documentID, question string) (*models.Answer, error) {
	ctx, span := middleware.StartSpan(ctx, "QA.Ask",
		attribute.String("document.id", documentID),
		attribute.Int("question_length", len(question)),
	)
	defer span.End()

	question = strings.TrimSpace(question)
	documentID = strings.TrimSpace(documentID)
	switch {
	case documentID == "":
		return nil, fmt.Errorf("%w: document_id is required", models.ErrInvalidInput)
	case question == "":
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidInput)
	case utf8.RuneCountInString(question) > MaxQuestionLength:
		return nil, fmt.Errorf("%w: question longer than %d characters", models.ErrInvalidInput, MaxQuestionLength)
	}

	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Queryable() {
		return nil, fmt.Errorf("%w: document %s is %s", models.ErrDocumentNotReady, doc.ID, doc.Status)
	}
	if model := s.embedder.Model(); doc.EmbeddingModel != model {
		return nil, fmt.Errorf("%w: document %s was embedded with %s, active model is %s",
			models.ErrDocumentNotReady, doc.ID, doc.EmbeddingModel, model)
	}

	result, err := s.retriever.Retrieve(ctx, doc.ID, question)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	answer, err := s.synth.Synthesize(ctx, question, result)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	_, err = s.chats.Append(ctx, &models.ChatTurn{
		DocumentID: doc.ID,
		Question:   question,
		Answer:     answer.Text,
		Sources:    answer.Sources,
	})
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	return answer, nil
}

// History returns a document's chat turns in the order they were asked
func (s *QAService) History(ctx context.Context, documentID string) ([]*models.ChatTurn, error) {
	if _, err := s.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.chats.ListByDocument(ctx, documentID)
}
