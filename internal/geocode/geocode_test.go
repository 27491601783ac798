package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithBase(srv.Client(), srv.URL)
}

func TestSearch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("text"); got != "350 5th Ave" {
			t.Errorf("unexpected query %q", got)
		}
		w.Write([]byte(`{"features":[{
			"geometry":{"coordinates":[-73.9857,40.7484]},
			"properties":{"label":"350 5th Avenue, New York, NY","borough":"Manhattan"}
		}]}`))
	})

	match, err := client.Search(context.Background(), "350 5th Ave")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.Lat != 40.7484 || match.Lng != -73.9857 {
		t.Errorf("coordinates swapped or wrong: %+v", match)
	}
	if match.Borough != "Manhattan" {
		t.Errorf("borough = %q", match.Borough)
	}
}

func TestSearch_NoMatchIsNil(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[]}`))
	})

	match, err := client.Search(context.Background(), "nowhere at all")
	if err != nil {
		t.Fatalf("a miss is not an error: %v", err)
	}
	if match != nil {
		t.Errorf("expected nil match, got %+v", match)
	}
}

func TestSearch_SkipsOutOfCityResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[
			{"geometry":{"coordinates":[-118.24,34.05]},"properties":{"label":"Los Angeles"}},
			{"geometry":{"coordinates":[-73.95,40.78]},"properties":{"label":"Upper East Side"}}
		]}`))
	})

	match, err := client.Search(context.Background(), "ambiguous")
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Label != "Upper East Side" {
		t.Errorf("expected the in-city result, got %+v", match)
	}
	// Borough derived geographically when the upstream omits it.
	if match.Borough != "Manhattan" {
		t.Errorf("borough = %q", match.Borough)
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := client.Search(context.Background(), "anything"); err == nil {
		t.Error("expected error for non-200 status")
	}
}
