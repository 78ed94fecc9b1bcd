package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hsc/registry-server/pkg/api/response"
	"github.com/hsc/registry-server/pkg/discovery"
	"github.com/hsc/registry-server/pkg/engine"
)

const sseKeepAliveInterval = 15 * time.Second

// EventsHandler streams registry change events over Server-Sent Events.
type EventsHandler struct {
	engine *engine.Engine
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(eng *engine.Engine) *EventsHandler {
	return &EventsHandler{engine: eng}
}

// StreamService handles GET /api/v1/events/services/{serviceId}/stream,
// an SSE stream of events scoped to one service id.
func (h *EventsHandler) StreamService(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	if !discovery.ValidServiceID(serviceID) {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, "invalid service id")
		return
	}

	sub := h.engine.Discovery().WatchService(serviceID)
	defer sub.Close()

	streamSSE(w, r, sub.C())
}

// StreamCluster handles GET /api/v1/cluster/events/stream, an SSE
// stream of every replicated event, catalog-wide.
func (h *EventsHandler) StreamCluster(w http.ResponseWriter, r *http.Request) {
	sub := h.engine.Bus().WatchAll()
	defer sub.Close()

	streamSSE(w, r, sub.C())
}

func streamSSE[T any](w http.ResponseWriter, r *http.Request, events <-chan T) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
