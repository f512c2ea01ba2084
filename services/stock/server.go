package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Server exposes stock administration and the chaos toggles.
type Server struct {
	repo  *Repository
	chaos *Chaos
	log   zerolog.Logger
}

func NewServer(repo *Repository, chaos *Chaos, log zerolog.Logger) *Server {
	return &Server{repo: repo, chaos: chaos, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stocks", s.handleList)
	mux.HandleFunc("POST /api/stocks", s.handleUpsert)
	mux.HandleFunc("POST /api/chaos/latency", s.handleToggleLatency)
	mux.HandleFunc("POST /api/chaos/failure", s.handleToggleFailure)
	mux.HandleFunc("GET /api/chaos", s.handleChaosStatus)
	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.repo.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list stocks failed")
		writeError(w, http.StatusInternalServerError, "could not list stocks")
		return
	}
	out := make([]map[string]any, 0, len(stocks))
	for _, st := range stocks {
		out = append(out, map[string]any{
			"ProductId": st.ProductID,
			"Count":     st.Count,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type upsertRequest struct {
	ProductId string `json:"ProductId"`
	Count     int32  `json:"Count"`
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ProductId == "" || req.Count < 0 {
		writeError(w, http.StatusBadRequest, "ProductId is required and Count must not be negative")
		return
	}
	if err := s.repo.Upsert(r.Context(), req.ProductId, req.Count); err != nil {
		s.log.Error().Err(err).Msg("upsert stock failed")
		writeError(w, http.StatusInternalServerError, "could not update stock")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ProductId": req.ProductId})
}

func (s *Server) handleToggleLatency(w http.ResponseWriter, r *http.Request) {
	enable := r.URL.Query().Get("enable") == "true"
	s.chaos.SetLatency(enable)
	s.log.Warn().Bool("enabled", enable).Msg("chaos latency toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"LatencyEnabled": enable})
}

func (s *Server) handleToggleFailure(w http.ResponseWriter, r *http.Request) {
	enable := r.URL.Query().Get("enable") == "true"
	s.chaos.SetFailure(enable)
	s.log.Warn().Bool("enabled", enable).Msg("chaos failure toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"FailureEnabled": enable})
}

func (s *Server) handleChaosStatus(w http.ResponseWriter, r *http.Request) {
	latency, failure := s.chaos.Snapshot()
	writeJSON(w, http.StatusOK, map[string]bool{
		"LatencyEnabled": latency,
		"FailureEnabled": failure,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
