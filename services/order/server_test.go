package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"ordersaga/internal/tracelog"
)

func newTestServer(t *testing.T) (*Server, *Repository) {
	t.Helper()
	repo := newTestRepo(t)
	return NewServer(repo, zerolog.Nop(), tracelog.Nop{}), repo
}

const validBody = `{
  "BuyerId": "buyer-1",
  "Address": {"Line": "Main St 1", "Province": "Istanbul", "District": "Kadikoy"},
  "OrderItems": [{"ProductId": "prod-1", "Count": 2, "Price": 9.99}]
}`

func TestHandleCreate_ReturnsOrderID(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(validBody))
	req.Header.Set("X-Request-ID", "corr-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "corr-42" {
		t.Fatalf("correlation id not echoed, got %q", got)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["OrderId"] == "" {
		t.Fatal("expected OrderId in response")
	}

	o, err := repo.GetOrder(req.Context(), resp["OrderId"])
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != OrderStatusSuspended {
		t.Fatalf("new order must be suspended, got %s", o.Status)
	}
	if o.TotalCents != 1998 {
		t.Fatalf("expected 1998 cents, got %d", o.TotalCents)
	}

	var outboxCorr string
	if err := repo.DB().QueryRow(`SELECT correlation_id FROM outbox`).Scan(&outboxCorr); err != nil {
		t.Fatalf("outbox row missing: %v", err)
	}
	if outboxCorr != "corr-42" {
		t.Fatalf("correlation id not staged, got %q", outboxCorr)
	}
}

func TestHandleCreate_Validation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing buyer", `{"Address":{"Line":"l","Province":"p","District":"d"},"OrderItems":[{"ProductId":"x","Count":1,"Price":1}]}`},
		{"no items", `{"BuyerId":"b","Address":{"Line":"l","Province":"p","District":"d"},"OrderItems":[]}`},
		{"zero count", `{"BuyerId":"b","Address":{"Line":"l","Province":"p","District":"d"},"OrderItems":[{"ProductId":"x","Count":0,"Price":1}]}`},
		{"negative price", `{"BuyerId":"b","Address":{"Line":"l","Province":"p","District":"d"},"OrderItems":[{"ProductId":"x","Count":1,"Price":-1}]}`},
		{"missing address", `{"BuyerId":"b","Address":{"Line":"","Province":"p","District":"d"},"OrderItems":[{"ProductId":"x","Count":1,"Price":1}]}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(c.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleGet_StatusQuery(t *testing.T) {
	t.Parallel()

	srv, repo := newTestServer(t)
	o := createTestOrder(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/"+o.ID, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		OrderId    string
		Status     string
		TotalPrice float64
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderId != o.ID || resp.Status != OrderStatusSuspended || resp.TotalPrice != 25 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/orders/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
