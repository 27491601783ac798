package scoring

import (
	"context"
	"net/url"
	"testing"

	"github.com/nycvalue/enrichment-server/internal/opendata"
)

func TestWalkability_AllSourcesDown(t *testing.T) {
	subway := NewSubwayService(newFakeStationStore(), failingClient())
	svc := NewWalkabilityService(failingClient(), subway)

	result, err := svc.CalculateScore(context.Background(), 40.7557, -73.9871, "Times Square")
	if err != nil {
		t.Fatalf("walkability must degrade, not fail: %v", err)
	}

	if result.Score < 0 || result.Score > 100 {
		t.Errorf("score out of bounds: %d", result.Score)
	}
	// Amenities degrades to the neutral default when both sources fail.
	if result.AmenitiesNearby != walkComponentFallback {
		t.Errorf("expected amenity fallback %d, got %d", walkComponentFallback, result.AmenitiesNearby)
	}
	// Transit still works off the subway fallback station set.
	if result.TransitAccess <= 0 {
		t.Errorf("expected transit points from fallback stations, got %d", result.TransitAccess)
	}
}

func TestWalkability_AmenityBands(t *testing.T) {
	tests := []struct {
		count    int
		min, max int
	}{
		{0, 0, 30},
		{5, 0, 30},
		{6, 31, 60},
		{15, 31, 60},
		{16, 61, 85},
		{30, 61, 85},
		{31, 86, 100},
		{200, 86, 100},
	}
	for _, tt := range tests {
		got := amenityCountScore(tt.count)
		if got < tt.min || got > tt.max {
			t.Errorf("amenityCountScore(%d) = %d, want in [%d,%d]", tt.count, got, tt.min, tt.max)
		}
	}
}

func TestWalkability_PedestrianGeography(t *testing.T) {
	midtown := pedestrianScore(40.755, -73.985, "")
	uptown := pedestrianScore(40.80, -73.96, "")
	brooklyn := pedestrianScore(40.65, -73.95, "")

	if !(midtown > uptown && uptown > brooklyn) {
		t.Errorf("expected midtown > manhattan > outer, got %d / %d / %d", midtown, uptown, brooklyn)
	}

	plain := pedestrianScore(40.65, -73.95, "123 E 18th St")
	avenue := pedestrianScore(40.65, -73.95, "456 Bedford Ave")
	if avenue <= plain {
		t.Errorf("expected avenue address bonus, got %d vs %d", avenue, plain)
	}
}

func TestNoise_AllSourcesDown(t *testing.T) {
	svc := NewNoiseService(failingClient())

	result, err := svc.CalculateScore(context.Background(), 40.68, -73.97, "")
	if err != nil {
		t.Fatalf("noise must degrade, not fail: %v", err)
	}

	if result.Score < 0 || result.Score > 100 {
		t.Errorf("score out of bounds: %d", result.Score)
	}
	// Construction needs permit data, so it falls back; its displayed risk
	// is the inverted default.
	if result.ConstructionRisk != 100-constructionFallback {
		t.Errorf("expected inverted construction fallback, got %d", result.ConstructionRisk)
	}
}

func TestNoise_AirportProximity(t *testing.T) {
	nearLGA := airportScore(40.7769, -73.8740)
	forestHills := airportScore(40.72, -73.84)
	uws := airportScore(40.787, -73.975)

	if nearLGA >= forestHills || forestHills >= uws {
		t.Errorf("airport score should rise with distance: %d / %d / %d", nearLGA, forestHills, uws)
	}
	if nearLGA < 30 {
		t.Errorf("airport score floor is 30, got %d", nearLGA)
	}
}

func TestNoise_InvertedFieldsConsistent(t *testing.T) {
	client := emptyClient()
	svc := NewNoiseService(client)

	result, err := svc.CalculateScore(context.Background(), 40.60, -74.10, "")
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]int{
		"trafficLevel":     result.TrafficLevel,
		"airportProximity": result.AirportProximity,
		"constructionRisk": result.ConstructionRisk,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s out of bounds: %d", name, v)
		}
	}
}

func TestParking_ZoneClassifier(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		kind     string
	}{
		{"midtown", 40.755, -73.985, "midtown"},
		{"upper manhattan", 40.80, -73.96, "commercial"},
		{"inner brooklyn", 40.70, -73.95, "mixed"},
		{"staten island", 40.58, -74.15, "residential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zone := classifyParkingZone(tt.lat, tt.lng)
			if zone.kind != tt.kind {
				t.Errorf("classifyParkingZone(%f,%f) = %s, want %s", tt.lat, tt.lng, zone.kind, tt.kind)
			}
			if zone.score < 0 || zone.score > 100 {
				t.Errorf("zone score out of bounds: %d", zone.score)
			}
			if zone.description == "" {
				t.Error("zone missing description")
			}
		})
	}
}

func TestParking_AllSourcesDown(t *testing.T) {
	svc := NewParkingService(failingClient())

	result, err := svc.CalculateScore(context.Background(), 40.755, -73.985, "")
	if err != nil {
		t.Fatalf("parking must degrade, not fail: %v", err)
	}

	if result.Score < 0 || result.Score > 100 {
		t.Errorf("score out of bounds: %d", result.Score)
	}
	if result.StreetParking != streetFallback {
		t.Errorf("expected street fallback %d, got %d", streetFallback, result.StreetParking)
	}
	// Garage estimates geographically instead of failing: Manhattan → 60.
	if result.GarageProximity != 60 {
		t.Errorf("expected Manhattan garage estimate 60, got %d", result.GarageProximity)
	}
}

func TestParking_ResidentialBeatsMidtown(t *testing.T) {
	client := emptyClient()
	svc := NewParkingService(client)

	ctx := context.Background()
	midtown, err := svc.CalculateScore(ctx, 40.755, -73.985, "")
	if err != nil {
		t.Fatal(err)
	}
	residential, err := svc.CalculateScore(ctx, 40.58, -74.15, "")
	if err != nil {
		t.Fatal(err)
	}

	if residential.Score <= midtown.Score {
		t.Errorf("expected residential (%d) > midtown (%d)", residential.Score, midtown.Score)
	}
}

// Sanity check that the parking facility query path parses coordinates.
func TestParking_GarageWithFacilities(t *testing.T) {
	client := &fakeClient{handler: func(datasetID string, params url.Values) ([]opendata.Record, error) {
		if datasetID == opendata.DatasetParkingFacility {
			return []opendata.Record{
				{"latitude": "40.756", "longitude": "-73.986"},
				{"latitude": "40.754", "longitude": "-73.984"},
			}, nil
		}
		return nil, nil
	}}
	svc := NewParkingService(client)

	result, err := svc.CalculateScore(context.Background(), 40.755, -73.985, "")
	if err != nil {
		t.Fatal(err)
	}
	// Two facilities within a block: count and distance bonuses apply.
	if result.GarageProximity <= 30 {
		t.Errorf("expected garage bonuses above base 30, got %d", result.GarageProximity)
	}
}
