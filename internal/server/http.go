// Package server exposes the enrichment and market analysis services over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/nycvalue/enrichment-server/internal/enrichment"
	"github.com/nycvalue/enrichment-server/internal/geocode"
	"github.com/nycvalue/enrichment-server/internal/market"
)

// Enricher runs the full scoring pipeline for a location.
type Enricher interface {
	EnrichLocation(ctx context.Context, loc enrichment.Location) (*enrichment.Result, error)
}

// MarketAnalyzer runs the comparables analysis.
type MarketAnalyzer interface {
	Analyze(ctx context.Context, req *market.Request) (*market.Result, error)
}

// Geocoder resolves free-text addresses. A miss is (nil, nil).
type Geocoder interface {
	Search(ctx context.Context, query string) (*geocode.Match, error)
}

type Router struct {
	enricher Enricher
	analyzer MarketAnalyzer
	geocoder Geocoder
}

// errBadRequest wraps validation failures so wrap maps them to 400.
type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return e.err.Error() }

// errNotFound maps to 404.
type errNotFound struct{ msg string }

func (e errNotFound) Error() string { return e.msg }

func NewRouter(enricher Enricher, analyzer MarketAnalyzer, geocoder Geocoder, allowedOrigins []string) http.Handler {
	r := &Router{enricher: enricher, analyzer: analyzer, geocoder: geocoder}
	mux := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding"},
	}))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/geocode", r.wrap(r.handleGeocode))
		rt.Post("/enrich", r.wrap(r.handleEnrich))
		rt.Post("/market", r.wrap(r.handleMarket))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var badReq errBadRequest
			if errors.As(err, &badReq) {
				http.Error(w, badReq.Error(), http.StatusBadRequest)
				return
			}
			var notFound errNotFound
			if errors.As(err, &notFound) {
				http.Error(w, notFound.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// GET /v1/geocode?q=350+5th+Ave
func (r *Router) handleGeocode(w http.ResponseWriter, req *http.Request) error {
	query := req.URL.Query().Get("q")
	if query == "" {
		return errBadRequest{fmt.Errorf("q is required")}
	}

	match, err := r.geocoder.Search(req.Context(), query)
	if err != nil {
		return err
	}
	if match == nil {
		return errNotFound{"address not found"}
	}
	return writeJSON(w, match)
}

// POST /v1/enrich
// Body: {"lat": 40.75, "lng": -73.98, "address": "...", "borough": "..."}
func (r *Router) handleEnrich(w http.ResponseWriter, req *http.Request) error {
	var loc enrichment.Location
	if err := json.NewDecoder(req.Body).Decode(&loc); err != nil {
		return errBadRequest{fmt.Errorf("invalid request body: %w", err)}
	}
	if loc.Lat == 0 && loc.Lng == 0 {
		return errBadRequest{fmt.Errorf("lat and lng are required")}
	}

	result, err := r.enricher.EnrichLocation(req.Context(), loc)
	if err != nil {
		if errors.Is(err, enrichment.ErrInvalidCoordinates) {
			return errBadRequest{err}
		}
		return err
	}
	return writeJSON(w, result)
}

// POST /v1/market
func (r *Router) handleMarket(w http.ResponseWriter, req *http.Request) error {
	var body market.Request
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errBadRequest{fmt.Errorf("invalid request body: %w", err)}
	}

	result, err := r.analyzer.Analyze(req.Context(), &body)
	if err != nil {
		if errors.Is(err, market.ErrMissingCoordinates) || errors.Is(err, market.ErrInvalidCoordinates) {
			return errBadRequest{err}
		}
		return err
	}
	return writeJSON(w, result)
}
