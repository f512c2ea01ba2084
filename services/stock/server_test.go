package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServer_UpsertAndList(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	srv := NewServer(repo, NewChaos(), zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stocks",
		strings.NewReader(`{"ProductId":"P1","Count":42}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stocks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var out []struct {
		ProductId string
		Count     int32
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ProductId != "P1" || out[0].Count != 42 {
		t.Fatalf("unexpected list %v", out)
	}
}

func TestServer_UpsertRejectsNegativeCount(t *testing.T) {
	t.Parallel()

	srv := NewServer(newTestRepo(t), NewChaos(), zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stocks",
		strings.NewReader(`{"ProductId":"P1","Count":-1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServer_ChaosToggles(t *testing.T) {
	t.Parallel()

	chaos := NewChaos()
	srv := NewServer(newTestRepo(t), chaos, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chaos/failure?enable=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", rec.Code)
	}
	if _, failure := chaos.Snapshot(); !failure {
		t.Fatal("failure mode must be enabled")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chaos", nil))
	var status map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status["FailureEnabled"] || status["LatencyEnabled"] {
		t.Fatalf("unexpected status %v", status)
	}
}
