package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coah80/reelup/internal/config"
)

const keepAliveInterval = 15 * time.Second

func CoreRoutes(r chi.Router, d *Deps) {
	r.Get("/health", d.handleHealth)
}

func (d *Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := d.Manager.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": config.Version,
		"queue": map[string]int{
			"queued":    s.Queued,
			"active":    s.Active,
			"completed": s.Completed,
			"errored":   s.Errored,
		},
	})
}

// handleProgress streams the upload control's progress as server-sent events.
func (d *Deps) handleProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	updates, unsubscribe := d.Reporter.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case p, ok := <-updates:
			if !ok {
				return
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
