package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/onnwee/obs-commander/supervisor"
	"github.com/onnwee/obs-commander/telemetry"
)

type linkStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// HandleAdminLinks lists every link with its connection state.
func (h *Handlers) HandleAdminLinks(w http.ResponseWriter, r *http.Request) {
	states := h.links.States()
	out := make([]linkStatus, 0, len(states))
	for name, st := range states {
		out = append(out, linkStatus{Name: name, State: st.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"links": out})
}

// HandleAdminReconnect runs one connection attempt for a link. A link that is
// already connected is left alone.
func (h *Handlers) HandleAdminReconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	log := telemetry.LoggerWithCorr(r.Context())

	err := h.links.Connect(r.Context(), name)
	switch {
	case err == nil:
		log.Info("manual reconnect", slog.String("link", name))
		telemetry.ObserveReconnect(name, nil)
		writeJSON(w, http.StatusOK, linkStatus{Name: name, State: h.links.States()[name].String()})
	case errors.Is(err, supervisor.ErrUnknownLink):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown link"})
	case errors.Is(err, supervisor.ErrConnectInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Warn("manual reconnect failed", slog.String("link", name), slog.Any("err", err))
		telemetry.ObserveReconnect(name, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
