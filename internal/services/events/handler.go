package events

import (
	"log"
	"net/http"

	"docqa/internal/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.
CheckOrigin accepts everything, matching the CORS policy of the REST API.
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades GET /ws/updates. ?document_id= narrows the stream to
// one document.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Subscribe",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Printf("⚠️  Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	h.Subscribe(conn, documentID)
}
