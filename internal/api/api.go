// Package api exposes geocoding over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/osm-geocoder/internal/metrics"
	"github.com/sells-group/osm-geocoder/internal/resilience"
	"github.com/sells-group/osm-geocoder/pkg/geocode"
)

// maxBodyBytes caps request bodies; a record is a handful of short strings.
const maxBodyBytes = 64 << 10

// Enricher enriches one record. *geocode.Enricher implements it.
type Enricher interface {
	EnrichDetail(ctx context.Context, rec *geocode.Record) (bool, error)
}

// Locator geocodes a free-form address. *geocode.Client implements it.
type Locator interface {
	Coordinates(ctx context.Context, address string) (*geocode.Result, error)
}

// Server holds the HTTP handlers.
type Server struct {
	enricher Enricher
	locator  Locator
}

// New creates a Server.
func New(e Enricher, l Locator) *Server {
	return &Server{enricher: e, locator: l}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/enrich", s.enrich)
		r.Get("/coordinates", s.coordinates)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		zap.L().Info("api: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enrichResponse struct {
	Geocoded bool            `json:"geocoded"`
	Record   *geocode.Record `json:"record"`
}

// enrich always answers with the record; provider failures are carried in
// its geo_code_error field. Only an open circuit is a 503, since the record
// was not attempted.
func (s *Server) enrich(w http.ResponseWriter, r *http.Request) {
	var rec geocode.Record
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	orig := rec
	ok, err := s.enricher.EnrichDetail(r.Context(), &rec)
	if err != nil && errors.Is(err, resilience.ErrCircuitOpen) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusServiceUnavailable, enrichResponse{Record: &orig})
		return
	}
	writeJSON(w, http.StatusOK, enrichResponse{Geocoded: ok, Record: &rec})
}

func (s *Server) coordinates(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	res, err := s.locator.Coordinates(r.Context(), address)
	report := geocode.NewReport(res, err)
	switch {
	case err != nil:
		status, msg := errorStatus(err)
		writeJSON(w, status, geocode.Report{Error: msg})
	case !report.Found():
		writeJSON(w, http.StatusNotFound, report)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

// errorStatus maps a provider error to an HTTP status and the message a
// record would carry.
func errorStatus(err error) (int, string) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return http.StatusServiceUnavailable, "provider unavailable, retry later"
	}
	var ge *geocode.Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError, "internal error"
	}
	if ge.Kind == geocode.KindRateLimited {
		return http.StatusTooManyRequests, ge.Message()
	}
	return http.StatusBadGateway, ge.Message()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
