package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"momentum/internal/store"
)

// JournalServer serves the journal HTTP API.
type JournalServer struct {
	bars    store.BarStore
	orders  store.OrderStore
	signals store.SignalStore
	log     *slog.Logger
}

// NewJournalServer creates a new journal HTTP server.
func NewJournalServer(bars store.BarStore, orders store.OrderStore, signals store.SignalStore) *JournalServer {
	return &JournalServer{
		bars:    bars,
		orders:  orders,
		signals: signals,
		log:     slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *JournalServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dates", s.handleDates)
	mux.HandleFunc("GET /api/bars/{date}", s.handleBars)
	mux.HandleFunc("GET /api/orders/{date}", s.handleOrders)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
}

// Handler returns an http.Handler with CORS middleware.
func (s *JournalServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// validDate accepts YYYYMMDD.
func validDate(d string) bool {
	if len(d) != 8 {
		return false
	}
	_, err := strconv.Atoi(d)
	return err == nil
}

func (s *JournalServer) handleDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.bars.ListDates(r.Context())
	if err != nil {
		s.log.Error("listing dates", "error", err)
		writeError(w, http.StatusInternalServerError, "listing dates failed")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, dates)
}

func (s *JournalServer) handleBars(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYYMMDD")
		return
	}
	recs, err := s.bars.Read(r.Context(), date)
	if err != nil {
		s.log.Error("reading bars", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "reading bars failed")
		return
	}
	code := r.URL.Query().Get("code")
	resp := BarsResponse{Date: date, Records: []RecordJSON{}}
	for _, rec := range recs {
		if code != "" && rec.Code != code {
			continue
		}
		resp.Records = append(resp.Records, convertRecord(rec))
	}
	writeJSON(w, resp)
}

func (s *JournalServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYYMMDD")
		return
	}
	orders, err := s.orders.ListOrders(r.Context(), date)
	if err != nil {
		s.log.Error("listing orders", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "listing orders failed")
		return
	}
	out := make([]OrderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, convertOrder(o))
	}
	writeJSON(w, out)
}

func (s *JournalServer) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.signals.ListSignals(r.Context(), limit)
	if err != nil {
		s.log.Error("listing signals", "error", err)
		writeError(w, http.StatusInternalServerError, "listing signals failed")
		return
	}
	out := make([]SignalJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, convertSignal(rec))
	}
	writeJSON(w, out)
}
