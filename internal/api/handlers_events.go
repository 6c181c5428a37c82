package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rewindlabs/rewind/internal/logging"
)

const sseKeepaliveInterval = 30 * time.Second

// handleEvents streams engine events over SSE. Without a query parameter the
// stream carries every event; ?execution_id= narrows it to one execution.
func (s *APIServer) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("X-Accel-Buffering", "no") // Nginx/HAProxy
		w.Header().Set("X-Buffering", "no")       // General proxy buffering
		w.Header().Set("Transfer-Encoding", "chunked")

		var events <-chan logging.Event
		var subID string
		if executionID := r.URL.Query().Get("execution_id"); executionID != "" {
			events, subID = s.broker.SubscribeExecution(executionID)
		} else {
			events, subID = s.broker.SubscribeGeneral()
		}
		defer s.broker.Unsubscribe(subID)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		// Send initial keepalive to establish connection
		if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
			return
		}
		flusher.Flush()

		ctx := r.Context()
		keepaliveTicker := time.NewTicker(sseKeepaliveInterval)
		defer keepaliveTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return

			case <-keepaliveTicker.C:
				if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
					return
				}
				flusher.Flush()

			case event, ok := <-events:
				if !ok {
					// Broker closed, the daemon is shutting down.
					return
				}
				if err := writeSSEMessage(w, event); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// writeSSEMessage writes one event as a Server-Sent Event.
func writeSSEMessage(w http.ResponseWriter, event logging.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
