package services

import (
	"context"
	"strings"
	"testing"

	"docqa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsk_CitesRetrievedPages(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	doc := h.ingestHandbook(t)

	answer, err := h.qa.Ask(context.Background(), doc.ID, "How fast do orders ship?")
	require.NoError(t, err)
	assert.Equal(t, "Orders ship within three days [Page 1].", answer.Text)
	assert.Equal(t, []string{"Page 1"}, answer.Sources)

	require.Equal(t, 1, h.gen.Calls())
	prompt := h.gen.prompts[0][1].Content
	assert.Contains(t, prompt, "[S1] (Page 1)")
	assert.Contains(t, prompt, "Question: How fast do orders ship?")
	assert.NotContains(t, prompt, "vacation", "only retrieved passages are sent")
}

func TestAsk_NoRelevantContextFallsBack(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	doc := h.ingestHandbook(t)

	answer, err := h.qa.Ask(context.Background(), doc.ID, "What is the refund policy?")
	require.NoError(t, err)
	assert.Equal(t, InsufficientAnswer, answer.Text)
	assert.NotNil(t, answer.Sources)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, h.gen.Calls(), "the model is not asked without context")
}

func TestAsk_TwoSequentialAsksAreRecordedInOrder(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	doc := h.ingestHandbook(t)
	ctx := context.Background()

	_, err := h.qa.Ask(ctx, doc.ID, "How fast do orders ship?")
	require.NoError(t, err)
	_, err = h.qa.Ask(ctx, doc.ID, "What is the refund policy?")
	require.NoError(t, err)

	turns, err := h.qa.History(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "How fast do orders ship?", turns[0].Question)
	assert.Equal(t, []string{"Page 1"}, []string(turns[0].Sources))
	assert.Equal(t, "What is the refund policy?", turns[1].Question)
	assert.Equal(t, InsufficientAnswer, turns[1].Answer)
	assert.Empty(t, turns[1].Sources)
	assert.Less(t, turns[0].Seq, turns[1].Seq)
}

func TestAsk_Validation(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	ctx := context.Background()
	doc := h.ingestHandbook(t)

	pending, err := h.docs.Create(ctx, &models.DocumentCreate{Filename: "pending.pdf"})
	require.NoError(t, err)
	failed, err := h.docs.Create(ctx, &models.DocumentCreate{Filename: "failed.pdf"})
	require.NoError(t, err)
	require.NoError(t, h.docs.MarkFailed(ctx, failed.ID, "unreadable PDF"))

	tests := []struct {
		name     string
		doc      string
		question string
		want     error
	}{
		{name: "empty question", doc: doc.ID, question: "   ", want: models.ErrInvalidInput},
		{name: "missing document id", doc: "", question: "hi?", want: models.ErrInvalidInput},
		{name: "question too long", doc: doc.ID, question: strings.Repeat("a", MaxQuestionLength+1), want: models.ErrInvalidInput},
		{name: "unknown document", doc: "2VnTq9ocJ3cTwYLQ0kQ1Ntkhr1A", question: "hi?", want: models.ErrDocumentNotFound},
		{name: "pending document", doc: pending.ID, question: "hi?", want: models.ErrDocumentNotReady},
		{name: "failed document", doc: failed.ID, question: "hi?", want: models.ErrDocumentNotReady},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.qa.Ask(ctx, tc.doc, tc.question)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.EqualValues(t, 0, h.gen.Calls())
	turns, err := h.qa.History(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, turns, "rejected asks are not recorded")
}

func TestAsk_GenerationOutage(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	doc := h.ingestHandbook(t)
	h.gen.reply = func(int, []models.Message) (string, error) {
		return "", assert.AnError
	}

	_, err := h.qa.Ask(context.Background(), doc.ID, "How fast do orders ship?")
	assert.ErrorIs(t, err, models.ErrGenerationServiceUnavailable)
	assert.Equal(t, 2, h.gen.Calls(), "retried once")

	turns, err := h.qa.History(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAsk_EmbeddedWithAnotherModel(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	ctx := context.Background()
	doc := h.ingestHandbook(t)

	require.NoError(t, h.db.Model(&models.Document{}).Where("id = ?", doc.ID).Update("embedding_model", "openai/old").Error)

	_, err := h.qa.Ask(ctx, doc.ID, "How fast do orders ship?")
	assert.ErrorIs(t, err, models.ErrDocumentNotReady)
}

func TestRetriever_ThresholdYieldsNoRelevantContext(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	doc := h.ingestHandbook(t)

	r := NewRetriever(h.embedder, h.index, h.chunks, RetrieverOptions{TopK: 3, MinScore: 0.5})

	res, err := r.Retrieve(context.Background(), doc.ID, "Is there a warranty?")
	require.NoError(t, err)
	relevant, ok := res.(RelevantContext)
	require.True(t, ok)
	require.NotEmpty(t, relevant.Chunks)
	assert.Equal(t, 2, relevant.Chunks[0].Chunk.Page)
	for i := 1; i < len(relevant.Chunks); i++ {
		assert.LessOrEqual(t, relevant.Chunks[i].Score, relevant.Chunks[i-1].Score)
	}

	res, err = r.Retrieve(context.Background(), doc.ID, "refund?")
	require.NoError(t, err)
	none, ok := res.(NoRelevantContext)
	require.True(t, ok)
	assert.Equal(t, 3, none.Considered)
	assert.Less(t, none.BestScore, float32(0.5))
}

func TestRetriever_PartitionsNeverLeak(t *testing.T) {
	h := newHarness(t, IngestionOptions{})
	ctx := context.Background()

	a := h.ingestHandbook(t)
	b := h.ingestHandbook(t)

	res, err := h.qa.retriever.Retrieve(ctx, a.ID, "How fast do orders ship?")
	require.NoError(t, err)
	for _, sc := range res.(RelevantContext).Chunks {
		assert.Equal(t, a.ID, sc.Chunk.DocumentID)
		assert.NotEqual(t, b.ID, sc.Chunk.DocumentID)
	}
}
