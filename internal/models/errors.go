package models

import "errors"

// Error taxonomy shared by the engine and the HTTP layer.
// Wrap with fmt.Errorf("...: %w", Err...) and match with errors.Is.
var (
	// ErrUnreadablePDF means the upload is not a PDF we can read: not a PDF,
	// corrupt, encrypted without a password, or without extractable text.
	ErrUnreadablePDF = errors.New("unreadable PDF")

	// ErrInvalidInput indicates malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingServiceUnavailable is returned after the embedding retry policy gave up.
	ErrEmbeddingServiceUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationServiceUnavailable is returned after the single generation retry failed.
	ErrGenerationServiceUnavailable = errors.New("generation service unavailable")

	// ErrDocumentNotReady is returned when asking a pending or failed document.
	ErrDocumentNotReady = errors.New("document not ready")

	// ErrDocumentNotFound indicates the document id is unknown.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrQueueFull means the ingestion queue cannot take more work right now.
	ErrQueueFull = errors.New("ingestion queue full")
)
