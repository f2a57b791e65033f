package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"docqa/internal/models"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{Host: srv.URL, EmbeddingModel: "embed-test", ChatModel: "chat-test", Temperature: 0.1})
	require.NoError(t, err)
	return c
}

func TestEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req api.EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-test", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"embed-test","embeddings":[[0.6,0.8],[1,0]]}`))
	})

	c := newTestClient(t, mux)
	vectors, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.6, 0.8}, {1, 0}}, vectors)
	assert.Equal(t, "ollama/embed-test", c.EmbeddingModel())
}

func TestEmbed_CountMismatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"embed-test","embeddings":[[1,0]]}`))
	})

	_, err := newTestClient(t, mux).Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 1 vectors for 2 inputs")
}

func TestGenerate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "chat-test", req.Model)
		require.NotNil(t, req.Stream)
		assert.False(t, *req.Stream)
		require.Len(t, req.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintln(w, `{"model":"chat-test","message":{"role":"assistant","content":"It ships in 3 days [S2]."},"done":true}`)
	})

	reply, err := newTestClient(t, mux).Generate(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "When does it ship?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "It ships in 3 days [S2].", reply)
}

func TestIsPermanent(t *testing.T) {
	wrap := func(code int) error {
		return fmt.Errorf("ollama embed: %w", api.StatusError{StatusCode: code, ErrorMessage: "x"})
	}

	assert.True(t, IsPermanent(wrap(http.StatusNotFound)))
	assert.True(t, IsPermanent(wrap(http.StatusBadRequest)))
	assert.False(t, IsPermanent(wrap(http.StatusTooManyRequests)))
	assert.False(t, IsPermanent(wrap(http.StatusInternalServerError)))
	assert.False(t, IsPermanent(context.DeadlineExceeded))
}

func TestNewClient_InvalidHost(t *testing.T) {
	_, err := NewClient(Options{Host: "://bad"})
	assert.Error(t, err)
}
