package scoring

import (
	"context"
	"fmt"
	"log"

	"github.com/nycvalue/enrichment-server/internal/fanout"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/opendata"
)

// NoiseResult is the outcome of a noise calculation. The sub-fields are
// inverted for display: a high TrafficLevel means a noisy street even
// though the internal component scores treat higher as quieter.
type NoiseResult struct {
	Score             int    `json:"score"`
	Explanation       string `json:"explanation"`
	DataSource        string `json:"dataSource"`
	TrafficLevel      int    `json:"trafficLevel"`
	AirportProximity  int    `json:"airportProximity"`
	ConstructionRisk  int    `json:"constructionRisk"`
}

const (
	noiseTrafficWeight      = 0.5
	noiseAirportWeight      = 0.3
	noiseConstructionWeight = 0.2
)

// Defaults substituted when a component fails.
const (
	trafficFallback      = 70
	airportFallback      = 85
	constructionFallback = 80
)

// noiseCorridor is a known loud highway or bridge approach.
type noiseCorridor struct {
	name     string
	lat, lng float64
	penalty  float64
}

var noiseCorridors = []noiseCorridor{
	{"FDR Drive", 40.7614, -73.9586, 20},
	{"West Side Highway", 40.7680, -73.9931, 18},
	{"Brooklyn-Queens Expressway", 40.6950, -73.9870, 22},
	{"Cross Bronx Expressway", 40.8430, -73.9070, 25},
	{"Brooklyn Bridge approach", 40.7061, -73.9969, 15},
	{"Williamsburg Bridge approach", 40.7134, -73.9724, 15},
	{"Queensboro Bridge approach", 40.7570, -73.9544, 15},
	{"Manhattan Bridge approach", 40.7075, -73.9903, 14},
	{"RFK Bridge approach", 40.7800, -73.9270, 14},
	{"Gowanus Expressway", 40.6600, -74.0050, 18},
}

// noiseAirport applies full impact within 3 miles and 30% between 3 and 8.
type noiseAirport struct {
	name     string
	lat, lng float64
}

var noiseAirports = []noiseAirport{
	{"JFK", 40.6413, -73.7781},
	{"LaGuardia", 40.7769, -73.8740},
	{"Newark", 40.6895, -74.1745},
	{"Teterboro", 40.8499, -74.0608},
}

// developmentZone is a known high-construction area.
type developmentZone struct {
	name     string
	lat, lng float64
}

var developmentZones = []developmentZone{
	{"Hudson Yards", 40.7540, -74.0010},
	{"Long Island City", 40.7447, -73.9485},
	{"Downtown Brooklyn", 40.6930, -73.9860},
	{"Williamsburg waterfront", 40.7210, -73.9620},
}

// NoiseService estimates how quiet a location is from traffic, airport,
// and construction proximity. Higher is quieter.
type NoiseService struct {
	client opendata.Client
}

func NewNoiseService(client opendata.Client) *NoiseService {
	return &NoiseService{client: client}
}

// CalculateScore computes the weighted noise composite.
func (s *NoiseService) CalculateScore(ctx context.Context, lat, lng float64, address string) (*NoiseResult, error) {
	traffic := trafficFallback
	airport := airportFallback
	construction := constructionFallback

	outcomes := fanout.SettleAll(ctx,
		fanout.Task{Name: "traffic", Run: func(ctx context.Context) error {
			v, err := s.trafficScore(ctx, lat, lng)
			if err != nil {
				return err
			}
			traffic = v
			return nil
		}},
		fanout.Task{Name: "airport", Run: func(ctx context.Context) error {
			airport = airportScore(lat, lng)
			return nil
		}},
		fanout.Task{Name: "construction", Run: func(ctx context.Context) error {
			v, err := s.constructionScore(ctx, lat, lng)
			if err != nil {
				return err
			}
			construction = v
			return nil
		}},
	)

	for _, o := range fanout.Failed(outcomes) {
		log.Printf("noise: %s component failed, using default: %v", o.Name, o.Err)
	}

	score := geo.Clamp(float64(traffic)*noiseTrafficWeight +
		float64(airport)*noiseAirportWeight +
		float64(construction)*noiseConstructionWeight)

	return &NoiseResult{
		Score:            score,
		Explanation:      noiseExplanation(score),
		DataSource:       "NYC Open Data traffic and permit datasets",
		TrafficLevel:     100 - traffic,
		AirportProximity: 100 - airport,
		ConstructionRisk: 100 - construction,
	}, nil
}

const corridorRadiusMiles = 0.3

// trafficScore starts at 85 and subtracts proximity-weighted corridor
// penalties, an intersection-volume penalty, and a midtown penalty.
func (s *NoiseService) trafficScore(ctx context.Context, lat, lng float64) (int, error) {
	score := 85.0

	corridorPenalty := 0.0
	for _, c := range noiseCorridors {
		d := geo.Haversine(lat, lng, c.lat, c.lng)
		if d < corridorRadiusMiles {
			corridorPenalty += (1 - d/corridorRadiusMiles) * c.penalty
		}
	}
	if corridorPenalty > 40 {
		corridorPenalty = 40
	}
	score -= corridorPenalty

	score -= s.intersectionPenalty(ctx, lat, lng)

	if geo.InMidtown(lat, lng) {
		score -= 10
	}

	return geo.Clamp(score), nil
}

// intersectionPenalty uses traffic count data when available and falls
// back to a geographic estimate otherwise.
func (s *NoiseService) intersectionPenalty(ctx context.Context, lat, lng float64) float64 {
	records, err := s.client.Query(ctx, opendata.DatasetTrafficCounts,
		opendata.PointParams(opendata.WithinCircle("the_geom", lat, lng, 300), 25))
	if err != nil || len(records) == 0 {
		// Geographic heuristic when counts are unavailable.
		switch {
		case geo.InMidtown(lat, lng):
			return 12
		case geo.InManhattan(lat, lng):
			return 8
		default:
			return 4
		}
	}

	maxVolume := 0.0
	for _, rec := range records {
		if v, ok := opendata.ProbeFloat(rec, "vol", "volume", "aadt", "count"); ok && v > maxVolume {
			maxVolume = v
		}
	}

	switch {
	case maxVolume > 50000:
		return 15
	case maxVolume > 20000:
		return 10
	case maxVolume > 8000:
		return 5
	default:
		return 2
	}
}

// airportScore starts at 100 and applies inverse-distance penalties within
// tiered radii per airport. Floor 30.
func airportScore(lat, lng float64) int {
	score := 100.0

	for _, a := range noiseAirports {
		d := geo.Haversine(lat, lng, a.lat, a.lng)
		switch {
		case d <= 3:
			score -= (1 - d/3) * 45
		case d <= 8:
			score -= (1 - (d-3)/5) * 45 * 0.3
		}
	}

	if score < 30 {
		score = 30
	}
	return geo.Clamp(score)
}

const developmentZoneRadiusMiles = 1.0

// constructionScore starts near 90 and subtracts banded permit-count and
// development-zone penalties. Floor 40.
func (s *NoiseService) constructionScore(ctx context.Context, lat, lng float64) (int, error) {
	score := 90.0

	permits, err := opendata.CountWithin(ctx, s.client, opendata.DatasetDOBPermits,
		lat, lng, 400, []string{"the_geom", "location", "gis_nta_name"}, 100)
	if err != nil {
		return 0, fmt.Errorf("noise: permit query: %w", err)
	}

	switch {
	case permits >= 50:
		score -= 30
	case permits >= 20:
		score -= 20
	case permits >= 8:
		score -= 10
	case permits >= 1:
		score -= 5
	}

	for _, z := range developmentZones {
		d := geo.Haversine(lat, lng, z.lat, z.lng)
		if d < developmentZoneRadiusMiles {
			score -= (1 - d/developmentZoneRadiusMiles) * 15
		}
	}

	if score < 40 {
		score = 40
	}
	return geo.Clamp(score), nil
}

func noiseExplanation(score int) string {
	switch {
	case score >= 80:
		return "Quiet for New York — little highway, airport, or construction noise nearby."
	case score >= 60:
		return "Moderate noise levels, typical for a residential NYC block."
	case score >= 40:
		return "Noticeable noise from nearby traffic corridors or construction."
	default:
		return "High noise exposure — major traffic, flight paths, or heavy construction close by."
	}
}
