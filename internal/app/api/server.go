// Package api exposes the crawled rate records over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/app/scraper"
)

// Server serves rate records produced by the scraper service.
type Server struct {
	service *scraper.Service
	logger  *zap.Logger
	router  chi.Router
}

func NewServer(service *scraper.Service, logger *zap.Logger) *Server {
	s := &Server{service: service, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Get("/banks", s.handleBanks)
		r.Get("/rates", s.handleRates)
		r.Get("/rates/refresh", s.handleRefresh)
		r.Get("/health", s.handleHealth)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

type ratePayload struct {
	Bank      string          `json:"bank"`
	Rates     json.RawMessage `json:"rates"`
	SourceURL string          `json:"source_url,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Cached    bool            `json:"cached"`
}

func (s *Server) handleBanks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"banks": s.service.BankIDs()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRates returns one bank's record when ?bank= is given, otherwise every
// bank's record.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	s.serveRates(w, r, false)
}

// handleRefresh is handleRates with caches bypassed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.serveRates(w, r, true)
}

func (s *Server) serveRates(w http.ResponseWriter, r *http.Request, forceRefresh bool) {
	bankID := r.URL.Query().Get("bank")

	if bankID != "" {
		if !s.knownBank(bankID) {
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":           "unknown bank: " + bankID,
				"available_banks": s.service.BankIDs(),
			})
			return
		}
		res, err := s.service.GetRates(r.Context(), bankID, forceRefresh)
		if err != nil {
			s.logger.Error("rate lookup failed", zap.String("bank", bankID), zap.Error(err))
			s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, toPayload(bankID, res))
		return
	}

	payloads := make([]ratePayload, 0, len(s.service.BankIDs()))
	for _, id := range s.service.BankIDs() {
		res, err := s.service.GetRates(r.Context(), id, forceRefresh)
		if err != nil {
			s.logger.Warn("skipping bank in listing", zap.String("bank", id), zap.Error(err))
			continue
		}
		payloads = append(payloads, toPayload(id, res))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rates": payloads})
}

func (s *Server) knownBank(bankID string) bool {
	for _, id := range s.service.BankIDs() {
		if id == bankID {
			return true
		}
	}
	return false
}

func toPayload(bankID string, res scraper.Result) ratePayload {
	raw, _ := json.Marshal(res.Record)
	return ratePayload{
		Bank:      bankID,
		Rates:     raw,
		SourceURL: res.SourceURL,
		FetchedAt: res.FetchedAt,
		Cached:    res.Cached,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}
