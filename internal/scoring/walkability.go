package scoring

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nycvalue/enrichment-server/internal/fanout"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/opendata"
)

// WalkabilityResult is the outcome of a walkability calculation.
type WalkabilityResult struct {
	Score              int    `json:"score"`
	Explanation        string `json:"explanation"`
	DataSource         string `json:"dataSource"`
	AmenitiesNearby    int    `json:"amenitiesNearby"`
	TransitAccess      int    `json:"transitAccess"`
	PedestrianFriendly int    `json:"pedestrianFriendly"`
}

// Component weights. Hand-tuned in the original system; kept as-is.
const (
	walkAmenityWeight    = 0.40
	walkTransitWeight    = 0.35
	walkPedestrianWeight = 0.25
)

// Neutral default substituted for any component whose computation fails.
const walkComponentFallback = 50

// WalkabilityService scores amenity density, transit access, and
// pedestrian infrastructure, each computed independently so a failure in
// one never aborts the others.
type WalkabilityService struct {
	client opendata.Client
	subway *SubwayService
}

func NewWalkabilityService(client opendata.Client, subway *SubwayService) *WalkabilityService {
	return &WalkabilityService{client: client, subway: subway}
}

// CalculateScore computes the weighted walkability composite.
func (s *WalkabilityService) CalculateScore(ctx context.Context, lat, lng float64, address string) (*WalkabilityResult, error) {
	amenities := walkComponentFallback
	transit := walkComponentFallback
	pedestrian := walkComponentFallback

	outcomes := fanout.SettleAll(ctx,
		fanout.Task{Name: "amenities", Run: func(ctx context.Context) error {
			v, err := s.amenityScore(ctx, lat, lng)
			if err != nil {
				return err
			}
			amenities = v
			return nil
		}},
		fanout.Task{Name: "transit", Run: func(ctx context.Context) error {
			v, err := s.transitScore(ctx, lat, lng)
			if err != nil {
				return err
			}
			transit = v
			return nil
		}},
		fanout.Task{Name: "pedestrian", Run: func(ctx context.Context) error {
			pedestrian = pedestrianScore(lat, lng, address)
			return nil
		}},
	)

	for _, o := range fanout.Failed(outcomes) {
		log.Printf("walkability: %s component failed, using neutral default: %v", o.Name, o.Err)
	}

	score := geo.Clamp(float64(amenities)*walkAmenityWeight +
		float64(transit)*walkTransitWeight +
		float64(pedestrian)*walkPedestrianWeight)

	return &WalkabilityResult{
		Score:              score,
		Explanation:        walkabilityExplanation(score, amenities, transit),
		DataSource:         "NYC Open Data business and transit datasets",
		AmenitiesNearby:    amenities,
		TransitAccess:      transit,
		PedestrianFriendly: pedestrian,
	}, nil
}

const amenityRadiusMeters = 500

// amenityScore counts nearby businesses/POIs from two independent sources
// and maps the total onto banded thresholds.
func (s *WalkabilityService) amenityScore(ctx context.Context, lat, lng float64) (int, error) {
	total := 0
	sources := 0

	businesses, err := opendata.CountWithin(ctx, s.client, opendata.DatasetBusinesses,
		lat, lng, amenityRadiusMeters,
		[]string{"location", "location_1", "the_geom"}, 200)
	if err != nil {
		log.Printf("walkability: business dataset query failed: %v", err)
	} else {
		total += businesses
		sources++
	}

	pois, err := opendata.CountWithin(ctx, s.client, opendata.DatasetPointsOfInterest,
		lat, lng, amenityRadiusMeters,
		[]string{"the_geom", "location", "georeference"}, 200)
	if err != nil {
		log.Printf("walkability: POI dataset query failed: %v", err)
	} else {
		total += pois
		sources++
	}

	if sources == 0 {
		return 0, fmt.Errorf("walkability: no amenity source reachable")
	}

	return amenityCountScore(total), nil
}

// amenityCountScore interpolates within the count bands.
func amenityCountScore(count int) int {
	switch {
	case count <= 5:
		return geo.Clamp(float64(count) * 6) // 0-30
	case count <= 15:
		return geo.Clamp(31 + float64(count-6)*2.9) // 31-60
	case count <= 30:
		return geo.Clamp(61 + float64(count-16)*1.7) // 61-85
	default:
		return geo.Clamp(86 + float64(count-31)*0.5) // 86-100
	}
}

// transitScore combines subway proximity (max 40), bus stop density
// (max 30), and bike share density (max 15), capped at 100.
func (s *WalkabilityService) transitScore(ctx context.Context, lat, lng float64) (int, error) {
	points := 0.0

	subway, err := s.subway.CalculateScore(ctx, lat, lng)
	if err != nil {
		return 0, err
	}
	switch {
	case subway.DistanceMiles <= 0.25:
		points += 40
	case subway.DistanceMiles <= 0.5:
		points += 30
	case subway.DistanceMiles <= 1.0:
		points += 18
	case subway.DistanceMiles <= 2.0:
		points += 8
	}

	busStops, err := opendata.CountWithin(ctx, s.client, opendata.DatasetBusStops,
		lat, lng, 400, []string{"the_geom", "location", "point"}, 100)
	if err != nil {
		log.Printf("walkability: bus stop query failed: %v", err)
	} else {
		switch {
		case busStops >= 10:
			points += 30
		case busStops >= 5:
			points += 20
		case busStops >= 2:
			points += 12
		case busStops >= 1:
			points += 6
		}
	}

	bikeStations, err := opendata.CountWithin(ctx, s.client, opendata.DatasetBikeStations,
		lat, lng, 400, []string{"the_geom", "location"}, 50)
	if err != nil {
		log.Printf("walkability: bike share query failed: %v", err)
	} else {
		switch {
		case bikeStations >= 5:
			points += 15
		case bikeStations >= 2:
			points += 10
		case bikeStations >= 1:
			points += 5
		}
	}

	if points > 100 {
		points = 100
	}
	return int(points), nil
}

// majorAvenues boosts addresses on known pedestrian corridors.
var majorAvenues = []string{
	"broadway", "park ave", "5th ave", "fifth ave", "madison ave",
	"lexington ave", "amsterdam ave", "columbus ave", "7th ave",
	"bedford ave", "court st", "queens blvd",
}

// pedestrianScore is a heuristic: base 60 plus geographic and
// address-pattern bonuses. No external data involved.
func pedestrianScore(lat, lng float64, address string) int {
	score := 60.0

	switch {
	case geo.InMidtown(lat, lng):
		score += 25
	case geo.InManhattan(lat, lng):
		score += 18
	default:
		score += 5
	}

	lower := strings.ToLower(address)
	for _, avenue := range majorAvenues {
		if strings.Contains(lower, avenue) {
			score += 8
			break
		}
	}

	return geo.Clamp(score)
}

func walkabilityExplanation(score, amenities, transit int) string {
	var label string
	switch {
	case score >= 85:
		label = "a walker's paradise"
	case score >= 70:
		label = "very walkable"
	case score >= 50:
		label = "somewhat walkable"
	default:
		label = "car-dependent"
	}
	return fmt.Sprintf("This area is %s (amenities %d/100, transit %d/100).", label, amenities, transit)
}
