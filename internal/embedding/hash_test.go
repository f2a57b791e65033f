package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider_Deterministic(t *testing.T) {
	p := NewHashProvider(128)
	a, err := p.Embed(context.Background(), []string{"Refunds are issued within 14 days."})
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"Refunds are issued within 14 days."})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a[0], 128)
	assert.Equal(t, "local/hash-128", p.EmbeddingModel())
}

func TestHashProvider_SharedVocabularyScoresHigher(t *testing.T) {
	p := NewHashProvider(DefaultHashDimensions)
	vs, err := p.Embed(context.Background(), []string{
		"What is the refund policy?",
		"Our refund policy allows refunds within 30 days of purchase.",
		"The warehouse ships parcels on weekdays using ground freight.",
	})
	require.NoError(t, err)

	related := cosine(vs[0], vs[1])
	unrelated := cosine(vs[0], vs[2])
	assert.Greater(t, related, unrelated)
	assert.Greater(t, related, 0.3)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"refund", "policy", "shipp", "box"}, Terms("The Refunds, policies; shipped the box!"))
	assert.Empty(t, Terms("the and of"))
}

func TestHashProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashProvider(16).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
