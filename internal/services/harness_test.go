package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"docqa/internal/chunker"
	"docqa/internal/db"
	"docqa/internal/embedding"
	"docqa/internal/extractor"
	"docqa/internal/extractor/pdftest"
	"docqa/internal/models"
	"docqa/internal/repository"
	"docqa/internal/retry"
	"docqa/internal/vectorindex"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// keywordAxes gives the fake embedder one dimension per topic word so test
// similarities are predictable.
var keywordAxes = []string{"ship", "warranty", "vacation", "refund"}

type keywordProvider struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (p *keywordProvider) EmbeddingModel() string { return "test/keywords" }

func (p *keywordProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	if p.fail.Load() {
		return nil, errors.New("connection refused")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		v := make([]float32, len(keywordAxes)+1)
		for j, axis := range keywordAxes {
			v[j] = float32(strings.Count(lower, axis))
		}
		v[len(keywordAxes)] = 0.05
		out[i] = v
	}
	return out, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts [][]models.Message
	reply   func(call int, messages []models.Message) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, messages []models.Message) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, messages)
	call := len(g.prompts)
	g.mu.Unlock()

	if g.reply == nil {
		return "Orders ship within three days [S1].", nil
	}
	return g.reply(call, messages)
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (r *eventRecorder) Publish(ev models.StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) All() []models.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StatusEvent(nil), r.events...)
}

type harness struct {
	db       *gorm.DB
	docs     *repository.DocumentRepositoryImpl
	chunks   *repository.ChunkRepositoryImpl
	chats    *repository.ChatRepositoryImpl
	index    *vectorindex.Memory
	provider *keywordProvider
	embedder *embedding.Service
	gen      *fakeGenerator
	events   *eventRecorder
	ingest   *IngestionService
	qa       *QAService
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{Name: "test", MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newHarness(t *testing.T, opts IngestionOptions) *harness {
	t.Helper()

	gdb, err := db.Open(sqlite.Open(":memory:"), db.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gdb.Close() })

	h := &harness{
		db:       gdb.DB,
		docs:     repository.NewDocumentRepository(gdb.DB),
		chunks:   repository.NewChunkRepository(gdb.DB),
		chats:    repository.NewChatRepository(gdb.DB),
		index:    vectorindex.NewMemory(),
		provider: &keywordProvider{},
		gen:      &fakeGenerator{},
		events:   &eventRecorder{},
	}
	h.embedder = embedding.NewService(h.provider, embedding.Options{BatchSize: 2, Concurrency: 2, Retry: fastRetry(2)})

	h.ingest = NewIngestionService(
		h.docs, h.chunks, h.chats,
		extractor.New(0),
		chunker.New(chunker.WithSize(500), chunker.WithOverlap(0.1)),
		h.embedder, h.index, h.events, opts,
	)

	retriever := NewRetriever(h.embedder, h.index, h.chunks, RetrieverOptions{TopK: 3, MinScore: 0.5})
	synth := NewSynthesizer(h.gen, SynthesizerOptions{Timeout: time.Second, Retry: fastRetry(2)})
	h.qa = NewQAService(h.docs, h.chats, h.embedder, retriever, synth)
	return h
}

func repeat(sentence string, n int) string {
	return strings.TrimSpace(strings.Repeat(sentence+" ", n))
}

// handbookPDF is three pages on three topics, none of them refunds.
func handbookPDF() []byte {
	return pdftest.New().
		Page(repeat("Orders ship within three days of payment and shipping is tracked online.", 9)).
		Page(repeat("The warranty covers manufacturing defects for two years after delivery.", 9)).
		Page(repeat("Staff vacation requests need approval from a manager two weeks ahead.", 9)).
		Bytes()
}

func (h *harness) ingestHandbook(t *testing.T) *models.Document {
	t.Helper()
	doc, err := h.ingest.IngestSync(context.Background(), "handbook.pdf", handbookPDF())
	require.NoError(t, err)
	require.Equal(t, models.StatusReady, doc.Status)
	return doc
}
