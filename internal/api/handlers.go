package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"docqa/internal/middleware"
	"docqa/internal/models"

	"github.com/gorilla/mux"
)

const (
	maxAskBody = 64 << 10
	// multipart framing on top of the file itself
	multipartSlack = 1 << 20
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	ingest    IngestionService
	qa        QAService
	updates   http.Handler // websocket status stream
	maxUpload int64
}

func NewHandler(ingest IngestionService, qa QAService, updates http.Handler, maxUploadMB int) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Handler{
		ingest:    ingest,
		qa:        qa,
		updates:   updates,
		maxUpload: int64(maxUploadMB) << 20,
	}
}

type uploadResponse struct {
	Message    string                `json:"message"`
	DocumentID string                `json:"document_id"`
	Status     models.DocumentStatus `json:"status"`
}

type askRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id"`
}

type askResponse struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	DocumentID string   `json:"document_id"`
}

type chatResponse struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Error      string `json:"error"`
	DocumentID string `json:"document_id,omitempty"`
}

// Document handlers

// Upload accepts a PDF in the multipart field "file". Ingestion runs in the
// background unless ?wait=true, in which case the final state is returned.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeTooLarge(w)
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required", models.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: failed to read upload: %v", models.ErrInvalidInput, err))
		return
	}
	if int64(len(data)) > h.maxUpload {
		h.writeTooLarge(w)
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	doc, err := h.ingest.Upload(r.Context(), header.Filename, data, wait)
	if err != nil {
		h.writeError(w, r, err, doc)
		return
	}

	if wait {
		writeJSON(w, http.StatusOK, doc)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		Message:    fmt.Sprintf("%s uploaded, processing in background", doc.Filename),
		DocumentID: doc.ID,
		Status:     doc.Status,
	})
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	includePending, _ := strconv.ParseBool(r.URL.Query().Get("include_pending"))

	documents, err := h.ingest.List(r.Context(), includePending)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if documents == nil {
		documents = []*models.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ingest.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.ingest.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Q&A handlers

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBody)).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", models.ErrInvalidInput, err))
		return
	}

	answer, err := h.qa.Ask(r.Context(), req.DocumentID, req.Question)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:     answer.Text,
		Sources:    sources,
		DocumentID: req.DocumentID,
	})
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	turns, err := h.qa.History(r.Context(), mux.Vars(r)["document_id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	chats := make([]chatResponse, 0, len(turns))
	for _, t := range turns {
		sources := []string(t.Sources)
		if sources == nil {
			sources = []string{}
		}
		chats = append(chats, chatResponse{
			Question:  t.Question,
			Answer:    t.Answer,
			Sources:   sources,
			CreatedAt: t.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chats": chats,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Updates streams document status events over a websocket
func (h *Handler) Updates(w http.ResponseWriter, r *http.Request) {
	h.updates.ServeHTTP(w, r)
}

// Response helpers

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnreadablePDF), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDocumentNotReady):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbeddingServiceUnavailable),
		errors.Is(err, models.ErrGenerationServiceUnavailable),
		errors.Is(err, models.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError is the one place request errors are logged. Internal errors are
// not echoed to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, doc ...*models.Document) {
	status := statusFor(err)
	middleware.AddSpanError(r.Context(), err)

	body := errorResponse{Error: err.Error()}
	if status == http.StatusInternalServerError {
		log.Printf("[%s] ❌ %s %s: %v", middleware.GetRequestID(r.Context()), r.Method, r.URL.Path, err)
		body.Error = "internal server error"
	} else if status >= 500 {
		log.Printf("[%s] ⚠️  %s %s: %v", middleware.GetRequestID(r.Context()), r.Method, r.URL.Path, err)
	}
	if len(doc) > 0 && doc[0] != nil {
		body.DocumentID = doc[0].ID
	}

	writeJSON(w, status, body)
}

func (h *Handler) writeTooLarge(w http.ResponseWriter) {
	writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
		Error: fmt.Sprintf("upload exceeds %d MB", h.maxUpload>>20),
	})
}
