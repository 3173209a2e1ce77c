package server

import (
	"encoding/json"
	"net/http"
	"sort"
)

// HandleHealthz responds to liveness probe requests. The process is alive as
// long as it can serve HTTP.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready only while every link is connected.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	states := h.links.States()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	links := make(map[string]string, len(states))
	for _, name := range names {
		links[name] = states[name].String()
	}

	w.Header().Set("Content-Type", "application/json")
	if !h.links.Ready() {
		failed := ""
		for _, name := range names {
			if links[name] != "connected" {
				failed = name
				break
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "not_ready",
			"failed_check": failed,
			"links":        links,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready", "links": links})
}
