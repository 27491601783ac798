package scoring

import (
	"context"
	"fmt"
	"log"

	"github.com/nycvalue/enrichment-server/internal/fanout"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/opendata"
)

// ParkingResult is the outcome of a parking availability calculation.
type ParkingResult struct {
	Score              int    `json:"score"`
	Explanation        string `json:"explanation"`
	DataSource         string `json:"dataSource"`
	StreetParking      int    `json:"streetParking"`
	GarageProximity    int    `json:"garageProximity"`
	ParkingRegulations int    `json:"parkingRegulations"`
}

const (
	parkingStreetWeight     = 0.40
	parkingGarageWeight     = 0.35
	parkingRegulationWeight = 0.25
)

// Defaults substituted when a component fails.
const (
	streetFallback     = 45
	garageFallback     = 40
	regulationFallback = 50
)

// parkingZone classifies the regulatory environment.
type parkingZone struct {
	kind        string
	score       int
	description string
}

// classifyParkingZone walks a fixed predicate table, top to bottom.
func classifyParkingZone(lat, lng float64) parkingZone {
	switch {
	case geo.InMidtown(lat, lng):
		return parkingZone{"midtown", 25,
			"Midtown commercial district: heavy metering, commercial loading zones, and frequent no-standing rules."}
	case geo.InManhattan(lat, lng):
		return parkingZone{"commercial", 40,
			"Dense Manhattan streets: alternate-side rules and metered commercial strips dominate."}
	case lat > 40.65 && lat < 40.78 && lng > -74.0 && lng < -73.85:
		return parkingZone{"mixed", 55,
			"Mixed residential-commercial area: metered avenues with residential side streets."}
	default:
		return parkingZone{"residential", 70,
			"Primarily residential streets: alternate-side cleaning rules but little metering."}
	}
}

// ParkingService estimates parking availability from street conditions,
// garage access, and the regulatory environment.
type ParkingService struct {
	client opendata.Client
}

func NewParkingService(client opendata.Client) *ParkingService {
	return &ParkingService{client: client}
}

// CalculateScore computes the weighted parking composite.
func (s *ParkingService) CalculateScore(ctx context.Context, lat, lng float64, address string) (*ParkingResult, error) {
	zone := classifyParkingZone(lat, lng)

	street := streetFallback
	garage := garageFallback
	regulations := zone.score

	outcomes := fanout.SettleAll(ctx,
		fanout.Task{Name: "street", Run: func(ctx context.Context) error {
			v, err := s.streetScore(ctx, lat, lng, zone)
			if err != nil {
				return err
			}
			street = v
			return nil
		}},
		fanout.Task{Name: "garage", Run: func(ctx context.Context) error {
			garage = s.garageScore(ctx, lat, lng)
			return nil
		}},
	)

	for _, o := range fanout.Failed(outcomes) {
		log.Printf("parking: %s component failed, using default: %v", o.Name, o.Err)
	}

	score := geo.Clamp(float64(street)*parkingStreetWeight +
		float64(garage)*parkingGarageWeight +
		float64(regulations)*parkingRegulationWeight)

	return &ParkingResult{
		Score:              score,
		Explanation:        fmt.Sprintf("%s Overall parking availability %d/100.", zone.description, score),
		DataSource:         "NYC Open Data parking datasets",
		StreetParking:      street,
		GarageProximity:    garage,
		ParkingRegulations: regulations,
	}, nil
}

// streetScore: base 50, Manhattan penalty scaled by sub-area, outer-borough
// bonus, meter-density penalty, regulation-severity penalty.
func (s *ParkingService) streetScore(ctx context.Context, lat, lng float64, zone parkingZone) (int, error) {
	score := 50.0

	if geo.InManhattan(lat, lng) {
		if geo.InMidtown(lat, lng) {
			score -= 25
		} else {
			score -= 15
		}
	} else {
		score += 10
	}

	meters, err := opendata.CountWithin(ctx, s.client, opendata.DatasetParkingMeters,
		lat, lng, 300, []string{"the_geom", "location", "lat_long"}, 100)
	if err != nil {
		return 0, fmt.Errorf("parking: meter query: %w", err)
	}
	switch {
	case meters >= 40:
		score -= 15
	case meters >= 15:
		score -= 10
	case meters >= 5:
		score -= 5
	}

	// Stricter zones make street spots scarcer.
	score -= float64(70-zone.score) / 5

	return geo.Clamp(score), nil
}

// garageScore: base 30 plus banded facility-count, distance, and
// affordability bonuses, capped at 100. Falls back to a geographic
// estimate if the facility search errors.
func (s *ParkingService) garageScore(ctx context.Context, lat, lng float64) int {
	records, err := s.client.Query(ctx, opendata.DatasetParkingFacility,
		opendata.PointParams(opendata.WithinCircle("location_1", lat, lng, 800), 50))
	if err != nil {
		log.Printf("parking: facility query failed, using geographic estimate: %v", err)
		return garageEstimate(lat, lng)
	}

	score := 30.0

	switch {
	case len(records) >= 10:
		score += 40
	case len(records) >= 5:
		score += 28
	case len(records) >= 2:
		score += 16
	case len(records) >= 1:
		score += 8
	}

	nearest := -1.0
	for _, rec := range records {
		rlat, rlng, ok := opendata.ProbeCoordinates(rec)
		if !ok {
			continue
		}
		d := geo.Haversine(lat, lng, rlat, rlng)
		if nearest < 0 || d < nearest {
			nearest = d
		}
	}
	switch {
	case nearest >= 0 && nearest <= 0.1:
		score += 15
	case nearest >= 0 && nearest <= 0.25:
		score += 10
	case nearest >= 0 && nearest <= 0.5:
		score += 5
	}

	// Garages outside Manhattan tend to be affordable enough to use daily.
	if !geo.InManhattan(lat, lng) {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return geo.Clamp(score)
}

// garageEstimate is the no-data fallback: Manhattan has garages everywhere
// but at a price; outer boroughs have fewer facilities.
func garageEstimate(lat, lng float64) int {
	if geo.InManhattan(lat, lng) {
		return 60
	}
	return 40
}
