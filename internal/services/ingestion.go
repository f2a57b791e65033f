package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"docqa/internal/extractor"
	"docqa/internal/middleware"
	"docqa/internal/models"
	"docqa/internal/vectorindex"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: INGESTION WORKER POOL

Uploads are handed to a fixed number of workers through a bounded
channel:
  - a full queue rejects the upload instead of piling up memory
  - each document runs start to finish on one worker
  - Shutdown closes the queue and waits, so queued uploads are finished
    (drained) rather than abandoned

The pipeline for one document:
  extract -> chunk -> embed -> index -> commit (chunks + status in one tx)
Any failure removes the partially written partition and marks the
document failed with the reason.
*/

// ReasonInterrupted is recorded on documents left pending by a crash
const ReasonInterrupted = "interrupted: the server stopped before ingestion finished"

type ingestJob struct {
	documentID string
	data       []byte
	done       chan error // nil unless the uploader waits
}

type IngestionOptions struct {
	Workers   int
	QueueSize int
	// RebuildIndex reloads stored vectors into the index on Restore. Only
	// the in-memory index needs it.
	RebuildIndex bool
}

// IngestionService owns the document lifecycle: upload, ingestion,
// listing and deletion
type IngestionService struct {
	docs      DocumentRepository
	chunks    ChunkRepository
	chats     ChatRepository
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	index     VectorIndex
	events    EventPublisher
	opts      IngestionOptions

	// Worker pool components
	jobs    chan ingestJob
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewIngestionService(
	docs DocumentRepository,
	chunks ChunkRepository,
	chats ChatRepository,
	extractor Extractor,
	chunker Chunker,
	embedder Embedder,
	index VectorIndex,
	events EventPublisher,
	opts IngestionOptions,
) *IngestionService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if events == nil {
		events = noopPublisher{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &IngestionService{
		docs:      docs,
		chunks:    chunks,
		chats:     chats,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		events:    events,
		opts:      opts,
		jobs:      make(chan ingestJob, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start spawns the workers
func (s *IngestionService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	log.Printf("🔧 Starting ingestion worker pool with %d workers", s.opts.Workers)
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	log.Println("✓ Ingestion worker pool started")
}

func (s *IngestionService) worker(id int) {
	defer s.wg.Done()

	for job := range s.jobs {
		log.Printf("  Worker %d processing document %s", id, job.documentID)
		err := s.process(s.ctx, job.documentID, job.data)
		if job.done != nil {
			job.done <- err
		}
	}

	log.Printf("  Worker %d: jobs channel closed", id)
}

// Shutdown stops accepting uploads and waits for queued ones to finish.
// If ctx ends first, running model calls are cancelled.
func (s *IngestionService) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down ingestion service...")

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.cancel()
		log.Println("✓ Ingestion service shutdown complete")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-finished
		return fmt.Errorf("ingestion drain interrupted: %w", ctx.Err())
	}
}

// QueueLength returns current number of queued uploads
func (s *IngestionService) QueueLength() int {
	return len(s.jobs)
}

// Upload validates and registers a PDF, then queues its ingestion. With
// wait set it blocks until ingestion finished and returns the final state
// together with the ingestion error, if any.
func (s *IngestionService) Upload(ctx context.Context, filename string, data []byte, wait bool) (*models.Document, error) {
	ctx, span := middleware.StartSpan(ctx, "Ingestion.Upload",
		attribute.String("filename", filename),
		attribute.Int("size_bytes", len(data)),
		attribute.Bool("wait", wait),
	)
	defer span.End()

	doc, err := s.register(ctx, filename, data)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	job := ingestJob{documentID: doc.ID, data: data}
	if wait {
		job.done = make(chan error, 1)
	}

	if err := s.enqueue(job); err != nil {
		// Nothing will ever process it; do not leave a pending row behind
		if delErr := s.docs.Delete(context.WithoutCancel(ctx), doc.ID); delErr != nil {
			log.Printf("⚠️  Failed to remove unqueued document %s: %v", doc.ID, delErr)
		}
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	if !wait {
		return doc, nil
	}

	select {
	case ingestErr := <-job.done:
		final, err := s.docs.GetByID(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		return final, ingestErr
	case <-ctx.Done():
		// The worker keeps going; the client can poll the document
		return doc, ctx.Err()
	}
}

// IngestSync registers and ingests a PDF on the caller's goroutine,
// bypassing the queue. Used by the CLI.
func (s *IngestionService) IngestSync(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	doc, err := s.register(ctx, filename, data)
	if err != nil {
		return nil, err
	}

	ingestErr := s.process(ctx, doc.ID, data)

	final, err := s.docs.GetByID(context.WithoutCancel(ctx), doc.ID)
	if err != nil {
		return nil, err
	}
	return final, ingestErr
}

func (s *IngestionService) register(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", models.ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", models.ErrInvalidInput)
	}
	if !extractor.IsPDF(data) {
		return nil, fmt.Errorf("%w: %s is not a PDF", models.ErrUnreadablePDF, filename)
	}

	sum := sha256.Sum256(data)
	return s.docs.Create(ctx, &models.DocumentCreate{
		Filename:  filename,
		SizeBytes: int64(len(data)),
		Checksum:  hex.EncodeToString(sum[:]),
	})
}

func (s *IngestionService) enqueue(job ingestJob) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("%w: service is shutting down", models.ErrQueueFull)
	}

	select {
	case s.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%w: %d uploads waiting", models.ErrQueueFull, len(s.jobs))
	}
}

// process runs the pipeline for one document and records the outcome.
func (s *IngestionService) process(ctx context.Context, documentID string, data []byte) (err error) {
	ctx, span := middleware.StartSpan(ctx, "Ingestion.Process",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	defer func() {
		if err != nil {
			middleware.AddSpanError(ctx, err)
			s.fail(ctx, documentID, err)
		}
	}()

	pages, err := s.extractor.Extract(ctx, data)
	if err != nil {
		return err
	}
	middleware.AddSpanEvent(ctx, "extracted", attribute.Int("pages", len(pages)))

	spans := s.chunker.Split(pages)
	if len(spans) == 0 {
		return fmt.Errorf("%w: no extractable text", models.ErrUnreadablePDF)
	}

	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = sp.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(spans) {
		return fmt.Errorf("%w: %d vectors for %d chunks", models.ErrEmbeddingServiceUnavailable, len(vectors), len(spans))
	}
	middleware.AddSpanEvent(ctx, "embedded", attribute.Int("chunks", len(spans)))

	model := s.embedder.Model()
	chunks := make([]*models.Chunk, len(spans))
	entries := make([]vectorindex.Entry, len(spans))
	for i, sp := range spans {
		id := models.ChunkID(documentID, sp.Seq)
		chunks[i] = &models.Chunk{
			ID:             id,
			DocumentID:     documentID,
			Seq:            sp.Seq,
			Page:           sp.Page,
			EndPage:        sp.EndPage,
			Start:          sp.Start,
			End:            sp.End,
			Text:           sp.Text,
			Vector:         vectors[i],
			EmbeddingModel: model,
		}
		entries[i] = vectorindex.Entry{ChunkID: id, Seq: sp.Seq, Vector: vectors[i]}
	}

	// A partition never mixes models; start from an empty one
	if err := s.index.Remove(ctx, documentID); err != nil {
		return fmt.Errorf("failed to reset index partition: %w", err)
	}
	if err := s.index.Add(ctx, documentID, model, entries...); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}

	err = s.docs.MarkReady(ctx, documentID, &models.IngestionResult{
		PageCount:      len(pages),
		EmbeddingModel: model,
		Chunks:         chunks,
	})
	if err != nil {
		return err
	}

	log.Printf("✓ Document %s ready: %d pages, %d chunks (%s)", documentID, len(pages), len(chunks), model)
	s.events.Publish(models.StatusEvent{
		Type:       models.EventDocumentStatus,
		DocumentID: documentID,
		Status:     models.StatusReady,
		ChunkCount: len(chunks),
	})
	return nil
}

// fail rolls back the partition and records the reason. It runs even when
// ctx was cancelled, so it uses a context that outlives it.
func (s *IngestionService) fail(ctx context.Context, documentID string, cause error) {
	ctx = context.WithoutCancel(ctx)

	if err := s.index.Remove(ctx, documentID); err != nil {
		log.Printf("⚠️  Failed to remove partition of %s: %v", documentID, err)
	}

	reason := cause.Error()
	if err := s.docs.MarkFailed(ctx, documentID, reason); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			// deleted while it was being ingested
			return
		}
		log.Printf("❌ Failed to mark document %s failed: %v", documentID, err)
		return
	}

	log.Printf("❌ Ingestion of %s failed: %s", documentID, reason)
	s.events.Publish(models.StatusEvent{
		Type:       models.EventDocumentStatus,
		DocumentID: documentID,
		Status:     models.StatusFailed,
		Error:      reason,
	})
}

// Get returns a document in any state
func (s *IngestionService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.docs.GetByID(ctx, id)
}

// List returns ready and failed documents, most recent first; pending
// ones are included on request.
func (s *IngestionService) List(ctx context.Context, includePending bool) ([]*models.Document, error) {
	statuses := []models.DocumentStatus{models.StatusReady, models.StatusFailed}
	if includePending {
		statuses = append(statuses, models.StatusPending)
	}
	return s.docs.List(ctx, statuses...)
}

// Delete removes the partition first, then the rows. A document whose
// partition could not be removed is kept so the delete can be retried.
func (s *IngestionService) Delete(ctx context.Context, id string) error {
	ctx, span := middleware.StartSpan(ctx, "Ingestion.Delete", attribute.String("document.id", id))
	defer span.End()

	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return err
	}

	if err := s.index.Remove(ctx, id); err != nil {
		middleware.AddSpanError(ctx, err)
		return fmt.Errorf("failed to remove index partition: %w", err)
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}
	s.chats.Forget(id)

	log.Printf("✓ Document %s deleted", id)
	return nil
}

// Restore prepares state after a restart: uploads interrupted by a crash
// are marked failed and, for the in-memory index, stored vectors of ready
// documents are loaded back.
func (s *IngestionService) Restore(ctx context.Context) error {
	n, err := s.docs.FailPending(ctx, ReasonInterrupted)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("⚠️  Marked %d interrupted uploads as failed", n)
	}

	if !s.opts.RebuildIndex {
		return nil
	}
	return s.LoadIndex(ctx)
}

// LoadIndex adds the stored vectors of every ready document to the index.
// Documents embedded with another model are skipped with a warning.
func (s *IngestionService) LoadIndex(ctx context.Context) error {
	docs, err := s.docs.List(ctx, models.StatusReady)
	if err != nil {
		return err
	}

	model := s.embedder.Model()
	loaded := 0
	for _, doc := range docs {
		if doc.EmbeddingModel != model {
			log.Printf("⚠️  Document %s was embedded with %s, active model is %s; re-upload it to query", doc.ID, doc.EmbeddingModel, model)
			continue
		}

		chunks, err := s.chunks.ListByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		entries := make([]vectorindex.Entry, 0, len(chunks))
		for _, c := range chunks {
			entries = append(entries, vectorindex.Entry{ChunkID: c.ID, Seq: c.Seq, Vector: c.Vector})
		}
		if err := s.index.Add(ctx, doc.ID, doc.EmbeddingModel, entries...); err != nil {
			return fmt.Errorf("failed to restore partition %s: %w", doc.ID, err)
		}
		loaded++
	}

	log.Printf("✓ Vector index rebuilt for %d documents", loaded)
	return nil
}
