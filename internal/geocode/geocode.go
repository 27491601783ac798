// Package geocode resolves free-text NYC addresses to coordinates via the
// Planning Labs GeoSearch API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nycvalue/enrichment-server/internal/geo"
)

const searchURL = "https://geosearch.planninglabs.nyc/v2/search"

// Match is a resolved address.
type Match struct {
	Label   string  `json:"label"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Borough string  `json:"borough"`
}

type searchResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lng, lat]
		} `json:"geometry"`
		Properties struct {
			Label   string `json:"label"`
			Borough string `json:"borough"`
		} `json:"properties"`
	} `json:"features"`
}

// Client queries the GeoSearch API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    searchURL,
	}
}

// NewClientWithBase is used by tests to point at a local server.
func NewClientWithBase(httpClient *http.Client, baseURL string) *Client {
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Search resolves the query to its best NYC match. A miss returns
// (nil, nil): not finding an address is a lookup outcome, not an error.
func (c *Client) Search(ctx context.Context, query string) (*Match, error) {
	u := fmt.Sprintf("%s?text=%s&size=1", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "enrichment-server/1.0 github.com/nycvalue")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: status %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("geocode decode: %w", err)
	}

	for _, f := range result.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		lng, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if !geo.ValidNYC(lat, lng) {
			continue
		}
		borough := f.Properties.Borough
		if borough == "" {
			borough = geo.DeriveBorough(lat, lng)
		}
		return &Match{
			Label:   f.Properties.Label,
			Lat:     lat,
			Lng:     lng,
			Borough: borough,
		}, nil
	}
	return nil, nil
}
