package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// router builds the status API: a JSON view of connected clients and
// channels, a health probe and the WebSocket endpoint.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/clients", s.handleClients)
	r.Get("/api/channels", s.handleChannels)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"clients": s.registry.Len(),
	})
}

func (s *Server) handleClients(w http.ResponseWriter, _ *http.Request) {
	type clientInfo struct {
		Handle   string   `json:"handle"`
		Remote   string   `json:"remote_addr"`
		Channels []string `json:"channels"`
	}
	sessions := s.registry.List()
	out := make([]clientInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, clientInfo{
			Handle:   sess.Handle,
			Remote:   sess.RemoteAddr(),
			Channels: sess.Channels(),
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.broker.Channels())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
