package api

import (
	"net/http"

	"docqa/internal/middleware"

	"github.com/gorilla/mux"
)

// SetupRoutes wires the endpoints and wraps the router in the middleware chain.
// Learning: the chain sits outside the router so unmatched routes and CORS
// preflights are traced and answered too (mux.Use only runs on a match).
func SetupRoutes(h *Handler) http.Handler {
	r := mux.NewRouter()

	// Documents
	r.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)
	r.HandleFunc("/documents", h.ListDocuments).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", h.GetDocument).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}", h.DeleteDocument).Methods(http.MethodDelete)

	// Q&A
	r.HandleFunc("/ask", h.Ask).Methods(http.MethodPost)
	r.HandleFunc("/chats/{document_id}", h.ListChats).Methods(http.MethodGet)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// WebSocket status stream
	r.HandleFunc("/ws/updates", h.Updates)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	// Learning: outermost runs first - tracing, then recovery, then CORS
	var handler http.Handler = r
	handler = middleware.CORSMiddleware(handler)
	handler = middleware.ErrorRecoveryMiddleware(handler)
	handler = middleware.TracingMiddleware(handler)
	return handler
}
