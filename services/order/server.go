package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"ordersaga/internal/events"
	"ordersaga/internal/tracelog"
)

// Server is the order-creation boundary. The caller gets an OrderId back
// immediately; the final outcome is only observable asynchronously.
type Server struct {
	repo *Repository
	log  zerolog.Logger
	sink tracelog.Sink
}

func NewServer(repo *Repository, log zerolog.Logger, sink tracelog.Sink) *Server {
	return &Server{repo: repo, log: log, sink: sink}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", s.handleCreate)
	mux.HandleFunc("GET /api/orders/{id}", s.handleGet)
	return cors.AllowAll().Handler(mux)
}

type createAddress struct {
	Line     string `json:"Line"`
	Province string `json:"Province"`
	District string `json:"District"`
}

type createItem struct {
	ProductId string  `json:"ProductId"`
	Count     int32   `json:"Count"`
	Price     float64 `json:"Price"`
}

type createRequest struct {
	BuyerId    string        `json:"BuyerId"`
	Address    createAddress `json:"Address"`
	OrderItems []createItem  `json:"OrderItems"`
}

func (r createRequest) validate() error {
	if r.BuyerId == "" {
		return errors.New("BuyerId is required")
	}
	if r.Address.Line == "" || r.Address.Province == "" || r.Address.District == "" {
		return errors.New("Address.Line, Address.Province and Address.District are required")
	}
	if len(r.OrderItems) == 0 {
		return errors.New("at least one order item is required")
	}
	for _, it := range r.OrderItems {
		if it.ProductId == "" {
			return errors.New("OrderItems[].ProductId is required")
		}
		if it.Count < 1 {
			return errors.New("OrderItems[].Count must be at least 1")
		}
		if it.Price < 0 {
			return errors.New("OrderItems[].Price must not be negative")
		}
	}
	return nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(events.HeaderRequestID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.validate(); err != nil {
		// Validation failures never enter the saga.
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	o := &Order{
		ID:      uuid.NewString(),
		BuyerID: req.BuyerId,
		Status:  OrderStatusSuspended,
		Address: Address{
			Line:     req.Address.Line,
			Province: req.Address.Province,
			District: req.Address.District,
		},
		CreatedUnix: now.Unix(),
		UpdatedUnix: now.Unix(),
	}
	evtItems := make([]events.OrderItem, 0, len(req.OrderItems))
	for _, it := range req.OrderItems {
		cents := events.Cents(it.Price)
		o.Items = append(o.Items, OrderItem{
			ProductID:  it.ProductId,
			Count:      it.Count,
			PriceCents: cents,
		})
		o.TotalCents += cents * int64(it.Count)
		evtItems = append(evtItems, events.OrderItem{
			ProductId: it.ProductId,
			Count:     it.Count,
			Price:     events.Price(cents),
		})
	}

	evt := events.OrderCreated{
		OrderId:     o.ID,
		BuyerId:     o.BuyerID,
		OrderItems:  evtItems,
		TotalPrice:  events.Price(o.TotalCents),
		CreatedDate: now,
	}

	if err := s.repo.CreateOrder(r.Context(), o, evt, correlationID); err != nil {
		s.log.Error().Err(err).Msg("create order failed")
		writeError(w, http.StatusInternalServerError, "could not create order")
		return
	}

	s.sink.Log(r.Context(), correlationID, consumerGroup, "order created "+o.ID, tracelog.SeverityInfo)
	w.Header().Set(events.HeaderRequestID, correlationID)
	writeJSON(w, http.StatusOK, map[string]string{"OrderId": o.ID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	o, err := s.repo.GetOrder(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get order failed")
		writeError(w, http.StatusInternalServerError, "could not load order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"OrderId":     o.ID,
		"Status":      o.Status,
		"FailMessage": o.FailMessage,
		"TotalPrice":  events.Price(o.TotalCents),
		"CreatedDate": time.Unix(o.CreatedUnix, 0).UTC(),
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
