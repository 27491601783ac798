package scoring

import (
	"context"
	"strings"
	"testing"

	"github.com/nycvalue/enrichment-server/internal/database"
)

func TestSubway_AtStation(t *testing.T) {
	// 86th St (Lexington Av) is in the fallback set at these coordinates.
	svc := NewSubwayService(newFakeStationStore(), failingClient())

	result, err := svc.CalculateScore(context.Background(), 40.7794, -73.9554)
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}

	if result.DistanceMiles > 0.01 {
		t.Errorf("expected ~0 distance, got %f", result.DistanceMiles)
	}
	if result.Score < 90 || result.Score > 100 {
		t.Errorf("expected score in [90,100], got %d", result.Score)
	}
	if !strings.Contains(result.NearestStation, "86th St") {
		t.Errorf("unexpected nearest station %q", result.NearestStation)
	}
}

func TestSubway_DistanceMonotonicity(t *testing.T) {
	distances := []float64{0, 0.1, 0.25, 0.3, 0.5, 0.6, 1.0, 1.2, 1.5, 2.0, 3.5, 5.0, 6.0}

	prev := 101
	for _, d := range distances {
		score := subwayDistanceScore(d)
		if score < 0 || score > 100 {
			t.Fatalf("score out of bounds at %f miles: %d", d, score)
		}
		if score > prev {
			t.Errorf("score increased with distance: %d at %f miles after %d", score, d, prev)
		}
		prev = score
	}
}

func TestSubway_NoNearbyStations(t *testing.T) {
	store := newFakeStationStore()
	// Single station far outside the 5-mile cutoff from the query point.
	store.stations["x"] = database.SubwayStation{ID: "x", Name: "Far Away", Lat: 42.0, Lng: -71.0}
	svc := NewSubwayService(store, failingClient())

	result, err := svc.CalculateScore(context.Background(), 40.75, -73.98)
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}
	if result.Score != 0 {
		t.Errorf("expected terminal score 0, got %d", result.Score)
	}
	if !strings.Contains(result.Explanation, "No subway stations") {
		t.Errorf("expected terminal explanation, got %q", result.Explanation)
	}
}

func TestSubway_ColdCacheLoadsFallbackOnce(t *testing.T) {
	store := newFakeStationStore()
	svc := NewSubwayService(store, failingClient())

	if _, err := svc.CalculateScore(context.Background(), 40.75, -73.98); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := svc.CalculateScore(context.Background(), 40.68, -73.95); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if store.upserts != 1 {
		t.Errorf("expected exactly one upsert on a cold cache, got %d", store.upserts)
	}
	if len(store.stations) != 20 {
		t.Errorf("expected 20 fallback stations upserted, got %d", len(store.stations))
	}
}

func TestSubway_WarmStoreSkipsFetch(t *testing.T) {
	store := newFakeStationStore()
	store.stations["s1"] = database.SubwayStation{ID: "s1", Name: "Cached St", Lat: 40.75, Lng: -73.98}

	client := failingClient()
	svc := NewSubwayService(store, client)

	result, err := svc.CalculateScore(context.Background(), 40.75, -73.98)
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}
	if result.NearestStation != "Cached St" {
		t.Errorf("expected cached station, got %q", result.NearestStation)
	}
	if client.calls != 0 {
		t.Errorf("expected no dataset fetch with a warm store, got %d calls", client.calls)
	}
	if store.upserts != 0 {
		t.Errorf("expected no upsert with a warm store, got %d", store.upserts)
	}
}

func TestSubway_FallbackCoversAllBoroughs(t *testing.T) {
	seen := make(map[string]bool)
	for _, s := range fallbackStations() {
		seen[s.Borough] = true
	}
	for _, b := range []string{"Manhattan", "Brooklyn", "Queens", "Bronx", "Staten Island"} {
		if !seen[b] {
			t.Errorf("fallback set missing %s", b)
		}
	}
}
