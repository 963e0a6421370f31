package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"svchub/pkg/logging"
)

const heartbeatInterval = 30 * time.Second

// handleEvents is the long-lived push endpoint: a Server-Sent Events stream
// carrying a connected event, every lifecycle event, and a periodic
// heartbeat so intermediaries keep the connection open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.checkAccess(r, ""); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, "connected", map[string]interface{}{
		"time": time.Now().UTC().Format(time.RFC3339),
	})
	flusher.Flush()

	events := s.registry.Subscribe()
	defer s.registry.Unsubscribe(events)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logging.Debug("Gateway", "Event stream closed by client")
			return

		case event, ok := <-events:
			if !ok {
				// Registry shut down; end the stream.
				return
			}
			writeSSE(w, "service", event)
			flusher.Flush()

		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]interface{}{
				"time": time.Now().UTC().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
