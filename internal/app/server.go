package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

/*
LEARNING: GRACEFUL SHUTDOWN

  signal → ctx cancelled
    ↓
  http.Server.Shutdown: stop accepting, finish in-flight requests
    ↓
  ingestion drain: queued uploads still reach ready or failed
    ↓
  websocket hub, index client, database
*/

const shutdownTimeout = 30 * time.Second

// Serve runs the HTTP API until ctx is cancelled, then shuts everything down
func (a *App) Serve(ctx context.Context) error {
	addr := a.Config.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // large uploads
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /upload             - Upload a PDF (?wait=true blocks until ingested)")
		log.Printf("   GET    /documents          - List documents (?include_pending=true)")
		log.Printf("   GET    /documents/{id}     - Document status")
		log.Printf("   DELETE /documents/{id}     - Delete a document and its chats")
		log.Printf("   POST   /ask                - Ask a question about a document")
		log.Printf("   GET    /chats/{id}         - Chat history of a document")
		log.Printf("   GET    /ws/updates         - Document status stream")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case listenErr = <-serveErr:
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(listenErr, err)
	}
	return listenErr
}
