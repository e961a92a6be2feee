package web

import (
	"fmt"
	"net/http"
)

// handleEventStream streams run progress over Server-Sent Events. The
// optional ?run= query parameter narrows the stream to one run; without
// it every run's events are delivered. Clients re-fetch the status or
// live-status endpoint on each event.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	follow := r.URL.Query().Get("run")
	if follow != "" {
		if _, found := s.lookupRun(follow); !found {
			s.jsonError(w, "Run not found", http.StatusNotFound)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	messageChan := make(chan string, 10)

	s.sseMu.Lock()
	s.sseClients[messageChan] = follow
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, messageChan)
		s.sseMu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	s.logger.Debug("Event stream client connected", "run", follow)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("Event stream client disconnected", "run", follow)
			return
		case msg, ok := <-messageChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: run-update\ndata: {\"message\":%q}\n\n", msg)
			flusher.Flush()
		}
	}
}
