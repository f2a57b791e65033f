package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"docqa/internal/config"
	"docqa/internal/db"
	"docqa/internal/extractor/pdftest"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer speaks just enough of the OpenAI chat completion API
func chatServer(t *testing.T, calls *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"chat-test","choices":[
			{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Orders ship within three days [S1]."}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func testConfig(generationURL string) *config.Config {
	return &config.Config{
		MaxUploadMB:          4,
		DBDriver:             "sqlite",
		VectorIndex:          "memory",
		OpenAIAPIKey:         "test-key",
		EmbeddingProvider:    "local",
		EmbeddingBatchSize:   8,
		EmbeddingConcurrency: 2,
		EmbeddingTimeout:     time.Second,
		GenerationProvider:   "openai",
		GenerationModel:      "chat-test",
		GenerationBaseURL:    generationURL,
		GenerationTimeout:    time.Second,
		RetryMaxAttempts:     2,
		RetryBaseDelay:       time.Millisecond,
		ChunkSize:            500,
		ChunkOverlap:         0.1,
		RetrievalTopK:        3,
		RetrievalMinScore:    0.2,
		IngestWorkers:        1,
		IngestQueueSize:      4,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *db.GormDB) {
	t.Helper()
	gdb, err := db.Open(sqlite.Open(":memory:"), db.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })

	a, err := NewWithDB(cfg, gdb)
	require.NoError(t, err)
	return a, gdb
}

func handbook() []byte {
	ship := strings.Repeat("Orders ship within three days of payment and shipping is tracked online. ", 9)
	warranty := strings.Repeat("The warranty covers manufacturing defects for two years after delivery. ", 9)
	vacation := strings.Repeat("Staff vacation requests need approval from a manager two weeks ahead. ", 9)
	return pdftest.New().Page(ship).Page(warranty).Page(vacation).Bytes()
}

func TestApp_EndToEnd(t *testing.T) {
	var calls atomic.Int32
	a, _ := newTestApp(t, testConfig(chatServer(t, &calls)))
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	// upload and wait for ingestion
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "handbook.pdf")
	require.NoError(t, err)
	_, err = part.Write(handbook())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/upload?wait=true", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		PageCount  int    `json:"page_count"`
		ChunkCount int    `json:"chunk_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "ready", doc.Status)
	assert.Equal(t, 3, doc.PageCount)
	assert.GreaterOrEqual(t, doc.ChunkCount, 3)

	ask := func(question string) map[string]interface{} {
		payload, _ := json.Marshal(map[string]string{"question": question, "document_id": doc.ID})
		resp, err := http.Post(srv.URL+"/ask", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	got := ask("How fast do orders ship?")
	assert.Equal(t, "Orders ship within three days [Page 1].", got["answer"])
	assert.Equal(t, []interface{}{"Page 1"}, got["sources"])
	assert.Equal(t, doc.ID, got["document_id"])
	assert.EqualValues(t, 1, calls.Load())

	got = ask("What is the refund policy?")
	assert.Equal(t, []interface{}{}, got["sources"])
	assert.EqualValues(t, 1, calls.Load(), "no relevant context, no model call")

	resp, err = http.Get(srv.URL + "/chats/" + doc.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	var chats struct {
		Chats []struct {
			Question string   `json:"question"`
			Sources  []string `json:"sources"`
		} `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chats))
	require.Len(t, chats.Chats, 2)
	assert.Equal(t, "How fast do orders ship?", chats.Chats[0].Question)
	assert.Equal(t, "What is the refund policy?", chats.Chats[1].Question)
	assert.Empty(t, chats.Chats[1].Sources)
}

func TestApp_RestartRebuildsMemoryIndex(t *testing.T) {
	var calls atomic.Int32
	cfg := testConfig(chatServer(t, &calls))
	first, gdb := newTestApp(t, cfg)

	doc, err := first.Ingest.IngestSync(context.Background(), "handbook.pdf", handbook())
	require.NoError(t, err)

	// a second process on the same database starts with an empty index
	second, err := NewWithDB(cfg, gdb)
	require.NoError(t, err)
	require.NoError(t, second.Start(context.Background()))
	t.Cleanup(func() { _ = second.Shutdown(context.Background()) })

	answer, err := second.QA.Ask(context.Background(), doc.ID, "How fast do orders ship?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Page 1"}, answer.Sources)
}

func TestNewWithDB_RejectsUnknownBackends(t *testing.T) {
	gdb, err := db.Open(sqlite.Open(":memory:"), db.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })

	cfg := testConfig("http://localhost:1/v1")
	cfg.VectorIndex = "faiss"
	_, err = NewWithDB(cfg, gdb)
	assert.ErrorContains(t, err, "VECTOR_INDEX")

	cfg = testConfig("http://localhost:1/v1")
	cfg.EmbeddingProvider = "cohere"
	_, err = NewWithDB(cfg, gdb)
	assert.ErrorContains(t, err, "EMBEDDING_PROVIDER")
}

func TestRetryPolicy_OverridesDefaults(t *testing.T) {
	cfg := testConfig("http://localhost:1/v1")
	cfg.RetryBaseDelay = 50 * time.Millisecond

	p := retryPolicy(cfg, "generation", generationAttempts)
	assert.Equal(t, "generation", p.Name)
	assert.Equal(t, 2, p.Attempts())
	assert.Equal(t, 50*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 5*time.Second, p.MaxDelay, "cap comes from the default policy")

	cfg.RetryBaseDelay = 0
	p = retryPolicy(cfg, "embedding", 0)
	assert.Equal(t, 3, p.Attempts())
	assert.Equal(t, 500*time.Millisecond, p.BaseDelay)
}
