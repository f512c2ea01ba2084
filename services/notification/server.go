package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Server exposes the live SSE stream and the persisted history.
type Server struct {
	repo *Repository
	hub  *Hub
	log  zerolog.Logger
}

func NewServer(repo *Repository, hub *Hub, log zerolog.Logger) *Server {
	return &Server{repo: repo, hub: hub, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/notifications", s.handleHistory)
	mux.HandleFunc("GET /api/notifications/stream", s.handleStream)
	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.List(r.Context(), r.URL.Query().Get("orderId"))
	if err != nil {
		s.log.Error().Err(err).Msg("list notifications failed")
		writeError(w, http.StatusInternalServerError, "could not list notifications")
		return
	}
	out := make([]Notification, 0, len(records))
	for _, rec := range records {
		out = append(out, Notification{
			Type:      rec.EventType,
			Source:    source,
			OrderId:   rec.OrderID,
			Message:   rec.Message,
			Timestamp: time.Unix(rec.SentUnix, 0).UTC(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStream serves Server-Sent Events: one JSON notification per event.
// No replay — the client catches up via the history endpoint.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.hub.Subscribe()
	defer cancel()
	s.log.Info().Msg("observer connected")

	for {
		select {
		case <-r.Context().Done():
			s.log.Info().Msg("observer disconnected")
			return
		case n := <-ch:
			body, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(body) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
