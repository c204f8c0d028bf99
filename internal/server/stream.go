package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"chaseline/internal/engine"
)

const streamHeartbeat = 15 * time.Second

// registerStream exposes the live activity feed as server-sent events. The
// bus drops records for subscribers that fall behind, so the stream is a
// monitor, not an audit source; the activity log is the replayable record.
func registerStream(r chi.Router, basePath string, e engine.Engine) {
	streamPath := path.Join(basePath, "stream")
	r.Get(streamPath, func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch, cancel := e.Bus.Subscribe(64)
		defer cancel()
		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-req.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case a, open := <-ch:
				if !open {
					return
				}
				data, err := json.Marshal(activityResponse(a))
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: activity\ndata: %s\n\n", a.ID, data)
				flusher.Flush()
			}
		}
	})
}
