package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nycvalue/enrichment-server/internal/enrichment"
	"github.com/nycvalue/enrichment-server/internal/geocode"
	"github.com/nycvalue/enrichment-server/internal/market"
)

type fakeEnricher struct {
	result *enrichment.Result
	err    error
}

func (f *fakeEnricher) EnrichLocation(_ context.Context, loc enrichment.Location) (*enrichment.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Location = loc
	return &r, nil
}

type fakeAnalyzer struct {
	result *market.Result
	err    error
}

func (f *fakeAnalyzer) Analyze(context.Context, *market.Request) (*market.Result, error) {
	return f.result, f.err
}

type fakeGeocoder struct {
	match *geocode.Match
	err   error
}

func (f *fakeGeocoder) Search(context.Context, string) (*geocode.Match, error) {
	return f.match, f.err
}

func testRouter() http.Handler {
	return NewRouter(
		&fakeEnricher{result: &enrichment.Result{
			Scores:  enrichment.Scores{Overall: 72},
			AuditID: "a-1",
		}},
		&fakeAnalyzer{result: &market.Result{
			PropertyAddress: "X",
			MarketScore:     61,
			Comparables:     []market.Comparable{},
		}},
		&fakeGeocoder{match: &geocode.Match{Label: "350 5th Avenue", Lat: 40.7484, Lng: -73.9857, Borough: "Manhattan"}},
		nil,
	)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestGeocode(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=350+5th+Ave", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var match geocode.Match
	if err := json.Unmarshal(rec.Body.Bytes(), &match); err != nil {
		t.Fatal(err)
	}
	if match.Borough != "Manhattan" {
		t.Errorf("unexpected payload: %+v", match)
	}
}

func TestGeocode_MissingQuery(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/geocode", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGeocode_Miss(t *testing.T) {
	router := NewRouter(&fakeEnricher{}, &fakeAnalyzer{}, &fakeGeocoder{match: nil}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=nowhere", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "address not found") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEnrich(t *testing.T) {
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"lat": 40.75, "lng": -73.98, "address": "Midtown"}`)
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/enrich", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var result enrichment.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Scores.Overall != 72 || result.Location.Address != "Midtown" {
		t.Errorf("unexpected payload: %+v", result)
	}
}

func TestEnrich_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing coordinates", `{"address": "no coords"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/enrich", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestEnrich_InvalidCoordinates(t *testing.T) {
	router := NewRouter(&fakeEnricher{err: enrichment.ErrInvalidCoordinates}, &fakeAnalyzer{}, &fakeGeocoder{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/enrich",
		strings.NewReader(`{"lat": 91, "lng": 0.1}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMarket(t *testing.T) {
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"address": "X", "lat": 40.75, "lng": -73.98}`)
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/market", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var result market.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.MarketScore != 61 {
		t.Errorf("unexpected payload: %+v", result)
	}
	// Zero comps must serialize as [], not null.
	if !strings.Contains(rec.Body.String(), `"comparables":[]`) {
		t.Errorf("expected empty comparables array in %s", rec.Body.String())
	}
}

func TestMarket_ValidationErrors(t *testing.T) {
	router := NewRouter(&fakeEnricher{}, &fakeAnalyzer{err: market.ErrMissingCoordinates}, &fakeGeocoder{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/market",
		strings.NewReader(`{"address": "X"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpstreamErrorIs500(t *testing.T) {
	router := NewRouter(&fakeEnricher{}, &fakeAnalyzer{}, &fakeGeocoder{err: errors.New("upstream down")}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/geocode?q=x", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
