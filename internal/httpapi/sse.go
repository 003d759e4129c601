package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamInterval = 1 * time.Second

// handleJobsStream pushes the job list over SSE until the client disconnects.
func (s *Server) handleJobsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := beginStream(w)
	if !ok {
		return
	}

	send := func() bool {
		return sendEvent(w, flusher, jobListJSON(s.svc.Jobs("", defaultJobListLimit)))
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// handleJobStream pushes one job's snapshots over SSE and closes after the
// terminal snapshot has been sent, so clients need no polling fallback.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rec, err := s.svc.Job(jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	flusher, ok := beginStream(w)
	if !ok {
		return
	}

	if !sendEvent(w, flusher, jobJSON(rec)) || rec.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			rec, err := s.svc.Job(jobID)
			if err != nil {
				// Swept mid-stream; nothing more to say.
				return
			}
			if !sendEvent(w, flusher, jobJSON(rec)) || rec.Status.Terminal() {
				return
			}
		}
	}
}

func beginStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, data any) bool {
	payload, err := json.Marshal(data)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
