// Package opendata wraps the NYC Open Data (Socrata) API: dataset queries
// with SoQL parameters, a redis-backed response cache, and helpers for
// probing the inconsistent field names the city datasets use.
package opendata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Record is one row from a dataset. Socrata returns loosely-typed JSON, so
// values are probed by candidate field name rather than unmarshalled into
// fixed structs.
type Record map[string]any

// Client is the query surface the scoring services depend on. Tests inject
// fakes; production uses SocrataClient.
type Client interface {
	Query(ctx context.Context, datasetID string, params url.Values) ([]Record, error)
}

// Dataset identifiers on data.cityofnewyork.us. Grouped here so the probing
// order used by the services is visible in one place.
const (
	DatasetSubwayStations   = "kk4q-3rt2" // subway station entrances
	DatasetBusStops         = "qafz-7myz"
	DatasetBikeStations     = "vafk-rfid"
	DatasetBusinesses       = "w7w3-xahh" // legally operating businesses
	DatasetPointsOfInterest = "t95h-5fsr"
	DatasetTrafficCounts    = "7ym2-wayt"
	DatasetDOBPermits       = "ipu4-2q9a"
	DatasetParkingFacility  = "5jhd-shqp"
	DatasetParkingMeters    = "693u-uax6"
	DatasetRollingSales     = "usep-8jbt"
	DatasetSchoolZonesK5    = "ghq4-ydq4"
	DatasetSchoolZonesMS    = "jkvm-9nhh"
	DatasetSchoolQuality    = "g8q5-9ahr"
	DatasetSchoolQualityAlt = "mDataQualityReports"
)

// SocrataClient queries data.cityofnewyork.us with an app token and a
// bounded per-request timeout, caching raw payloads in redis.
type SocrataClient struct {
	baseURL    string
	appToken   string
	httpClient *http.Client
	cache      *ResponseCache
	cacheTTL   time.Duration
}

// NewSocrataClient builds a client. cache may be nil.
func NewSocrataClient(baseURL, appToken string, timeout time.Duration, cache *ResponseCache, cacheTTL time.Duration) *SocrataClient {
	return &SocrataClient{
		baseURL:    baseURL,
		appToken:   appToken,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

const maxResponseBytes = 4 << 20 // 4 MB

// Query fetches rows from a dataset. Responses are cached by full URL so
// repeated point lookups within the TTL hit redis instead of the API.
func (c *SocrataClient) Query(ctx context.Context, datasetID string, params url.Values) ([]Record, error) {
	u := fmt.Sprintf("%s/resource/%s.json?%s", c.baseURL, datasetID, params.Encode())

	body, ok := c.cache.Get(ctx, u)
	if !ok {
		var err error
		body, err = c.fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ctx, u, body, c.cacheTTL)
	}

	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("opendata %s decode: %w", datasetID, err)
	}
	return records, nil
}

func (c *SocrataClient) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("opendata request: %w", err)
	}
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opendata fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opendata fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("opendata read %s: %w", u, err)
	}
	return body, nil
}

// IntersectsPoint builds the SoQL predicate matching polygons that contain
// the point. WKT puts longitude first.
func IntersectsPoint(field string, lat, lng float64) string {
	return fmt.Sprintf("intersects(%s, 'POINT (%f %f)')", field, lng, lat)
}

// WithinCircle builds the SoQL within_circle predicate for a point field.
func WithinCircle(field string, lat, lng, radiusMeters float64) string {
	return fmt.Sprintf("within_circle(%s, %f, %f, %f)", field, lat, lng, radiusMeters)
}

// PointParams builds the common query parameters for a radius search.
func PointParams(where string, limit int) url.Values {
	params := url.Values{}
	params.Set("$where", where)
	params.Set("$limit", fmt.Sprintf("%d", limit))
	return params
}

// CountWithin returns the number of rows within radiusMeters of the point,
// trying each candidate location field name in order until one query
// succeeds with results. Schemas vary across datasets, so the caller passes
// every plausible field name.
func CountWithin(ctx context.Context, client Client, datasetID string, lat, lng, radiusMeters float64, locationFields []string, limit int) (int, error) {
	var lastErr error
	for _, field := range locationFields {
		records, err := client.Query(ctx, datasetID, PointParams(WithinCircle(field, lat, lng, radiusMeters), limit))
		if err != nil {
			lastErr = err
			continue
		}
		if len(records) > 0 {
			return len(records), nil
		}
	}
	if lastErr != nil {
		return 0, lastErr
	}
	return 0, nil
}
