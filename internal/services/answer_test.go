package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"docqa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passages(pages ...int) []models.ScoredChunk {
	out := make([]models.ScoredChunk, len(pages))
	for i, p := range pages {
		out[i] = models.ScoredChunk{
			Chunk: &models.Chunk{ID: models.ChunkID("doc", i), Seq: i, Page: p, EndPage: p, Text: "passage text"},
			Score: 0.9,
		}
	}
	return out
}

func TestCite(t *testing.T) {
	chunks := passages(3, 5, 3)

	tests := []struct {
		name    string
		reply   string
		text    string
		sources []string
	}{
		{
			name:    "markers become page labels in order of first citation",
			reply:   "Refunds take 5 days [S2]. They are issued to the card [S1].",
			text:    "Refunds take 5 days [Page 5]. They are issued to the card [Page 3].",
			sources: []string{"Page 5", "Page 3"},
		},
		{
			name:    "same page cited twice is reported once",
			reply:   "A [S1]. B [S3]. C [S1].",
			text:    "A [Page 3]. B [Page 3]. C [Page 3].",
			sources: []string{"Page 3"},
		},
		{
			name:    "grouped markers",
			reply:   "Both apply [S1, S2].",
			text:    "Both apply [Page 3, Page 5].",
			sources: []string{"Page 3", "Page 5"},
		},
		{
			name:    "unknown marker dropped",
			reply:   "Something [S9].",
			text:    "Something.",
			sources: []string{},
		},
		{
			name:    "uncited answer has no sources",
			reply:   "  Plain answer.  ",
			text:    "Plain answer.",
			sources: []string{},
		},
		{
			name:    "insufficient answer never has sources",
			reply:   InsufficientAnswer + " [S1]",
			text:    InsufficientAnswer,
			sources: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Cite(tc.reply, chunks)
			assert.Equal(t, tc.text, got.Text)
			assert.Equal(t, tc.sources, got.Sources)
		})
	}
}

func TestBuildPrompt_NumbersPassages(t *testing.T) {
	msgs := BuildPrompt(" What about refunds? ", passages(2, 7))
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, InsufficientAnswer)
	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "[S1] (Page 2)\npassage text")
	assert.Contains(t, msgs[1].Content, "[S2] (Page 7)\npassage text")
	assert.Contains(t, msgs[1].Content, "Question: What about refunds?\n")
}

func TestSynthesize_NoRelevantContextSkipsModel(t *testing.T) {
	gen := &fakeGenerator{}
	s := NewSynthesizer(gen, SynthesizerOptions{Retry: fastRetry(2)})

	for _, res := range []RetrievalResult{NoRelevantContext{Considered: 3, BestScore: 0.1}, RelevantContext{}} {
		answer, err := s.Synthesize(context.Background(), "q", res)
		require.NoError(t, err)
		assert.Equal(t, InsufficientAnswer, answer.Text)
		assert.Equal(t, []string{}, answer.Sources)
	}
	assert.Zero(t, gen.Calls())
}

func TestSynthesize_RetriesOnce(t *testing.T) {
	gen := &fakeGenerator{reply: func(call int, _ []models.Message) (string, error) {
		if call == 1 {
			return "", errors.New("502 bad gateway")
		}
		return "It is covered [S1].", nil
	}}
	s := NewSynthesizer(gen, SynthesizerOptions{Retry: fastRetry(2)})

	answer, err := s.Synthesize(context.Background(), "q", RelevantContext{Chunks: passages(4)})
	require.NoError(t, err)
	assert.Equal(t, "It is covered [Page 4].", answer.Text)
	assert.Equal(t, []string{"Page 4"}, answer.Sources)
	assert.Equal(t, 2, gen.Calls())
}

func TestSynthesize_EmptyCompletionIsRetried(t *testing.T) {
	gen := &fakeGenerator{reply: func(int, []models.Message) (string, error) { return "   ", nil }}
	s := NewSynthesizer(gen, SynthesizerOptions{Retry: fastRetry(2)})

	_, err := s.Synthesize(context.Background(), "q", RelevantContext{Chunks: passages(1)})
	assert.ErrorIs(t, err, models.ErrGenerationServiceUnavailable)
	assert.Equal(t, 2, gen.Calls())
}

func TestSynthesize_PermanentErrorNotRetried(t *testing.T) {
	badKey := errors.New("401 unauthorized")
	gen := &fakeGenerator{reply: func(int, []models.Message) (string, error) { return "", badKey }}
	s := NewSynthesizer(gen, SynthesizerOptions{
		Retry:       fastRetry(2),
		IsPermanent: func(err error) bool { return errors.Is(err, badKey) },
	})

	_, err := s.Synthesize(context.Background(), "q", RelevantContext{Chunks: passages(1)})
	assert.ErrorIs(t, err, models.ErrGenerationServiceUnavailable)
	assert.Equal(t, 1, gen.Calls())
}

func TestSynthesize_AttemptTimeout(t *testing.T) {
	gen := &fakeGenerator{reply: func(int, []models.Message) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "", context.DeadlineExceeded
	}}
	s := NewSynthesizer(gen, SynthesizerOptions{Timeout: 10 * time.Millisecond, Retry: fastRetry(2)})

	_, err := s.Synthesize(context.Background(), "q", RelevantContext{Chunks: passages(1)})
	assert.ErrorIs(t, err, models.ErrGenerationServiceUnavailable)
	assert.Equal(t, 2, gen.Calls())
}

func TestSynthesize_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{reply: func(int, []models.Message) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	s := NewSynthesizer(gen, SynthesizerOptions{Retry: fastRetry(2)})

	_, err := s.Synthesize(ctx, "q", RelevantContext{Chunks: passages(1)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrGenerationServiceUnavailable)
}
