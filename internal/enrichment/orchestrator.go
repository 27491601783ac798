// Package enrichment orchestrates the scoring services: it fans the five
// sub-score calculations out concurrently, substitutes fixed fallbacks
// for any that fail, and combines the rest into a weighted overall score.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/fanout"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/protocol"
	"github.com/nycvalue/enrichment-server/internal/scoring"
)

// ErrInvalidCoordinates is returned for out-of-range input. This is the
// only error EnrichLocation propagates.
var ErrInvalidCoordinates = errors.New("coordinates out of range")

// FallbackAuditID marks a result produced by the geographic fallback.
const FallbackAuditID = "FALLBACK"

// Location is the immutable input to an enrichment call.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
	Borough string  `json:"borough,omitempty"`
}

// Scores holds the component scores and the derived overall.
type Scores struct {
	Subway      int  `json:"subway"`
	Walkability int  `json:"walkability"`
	Noise       int  `json:"noise"`
	Parking     int  `json:"parking"`
	School      *int `json:"school,omitempty"`
	Overall     int  `json:"overall"`
}

// Details carries each service's full result for the caller.
type Details struct {
	Subway      *scoring.SubwayResult      `json:"subway,omitempty"`
	Walkability *scoring.WalkabilityResult `json:"walkability,omitempty"`
	Noise       *scoring.NoiseResult       `json:"noise,omitempty"`
	Parking     *scoring.ParkingResult     `json:"parking,omitempty"`
	School      *scoring.SchoolResult      `json:"school,omitempty"`
}

// Result is the consolidated enrichment payload.
type Result struct {
	Location    Location  `json:"location"`
	Scores      Scores    `json:"scores"`
	Details     Details   `json:"details"`
	Explanation string    `json:"explanation"`
	DataSource  string    `json:"dataSource"`
	AuditID     string    `json:"auditId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Scorer interfaces, defined here so tests can substitute any service.
type SubwayScorer interface {
	CalculateScore(ctx context.Context, lat, lng float64) (*scoring.SubwayResult, error)
}

type WalkabilityScorer interface {
	CalculateScore(ctx context.Context, lat, lng float64, address string) (*scoring.WalkabilityResult, error)
}

type NoiseScorer interface {
	CalculateScore(ctx context.Context, lat, lng float64, address string) (*scoring.NoiseResult, error)
}

type ParkingScorer interface {
	CalculateScore(ctx context.Context, lat, lng float64, address string) (*scoring.ParkingResult, error)
}

type SchoolScorer interface {
	CalculateScore(ctx context.Context, lat, lng float64, borough string) (*scoring.SchoolResult, error)
}

// AuditStore persists enrichment audit rows.
type AuditStore interface {
	InsertEnrichmentAudit(audit *database.EnrichmentAudit) error
}

// EventPublisher emits score events. Nil disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Component weights. Hand-tuned in the original system; kept as-is. A
// component that failed is excluded from both numerator and denominator,
// never treated as zero.
var componentWeights = struct {
	subway, walkability, noise, parking, school float64
}{0.25, 0.25, 0.20, 0.15, 0.15}

// Orchestrator wires the five scoring services together.
type Orchestrator struct {
	subway      SubwayScorer
	walkability WalkabilityScorer
	noise       NoiseScorer
	parking     ParkingScorer
	school      SchoolScorer
	store       AuditStore
	publisher   EventPublisher
}

func NewOrchestrator(
	subway SubwayScorer,
	walkability WalkabilityScorer,
	noise NoiseScorer,
	parking ParkingScorer,
	school SchoolScorer,
	store AuditStore,
	publisher EventPublisher,
) *Orchestrator {
	return &Orchestrator{
		subway:      subway,
		walkability: walkability,
		noise:       noise,
		parking:     parking,
		school:      school,
		store:       store,
		publisher:   publisher,
	}
}

// EnrichLocation runs all scoring services for the location and returns
// the consolidated result. Callers never see an error for upstream-data
// problems: any unexpected failure of the orchestration itself degrades to
// the geographic fallback result.
func (o *Orchestrator) EnrichLocation(ctx context.Context, loc Location) (result *Result, err error) {
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return nil, ErrInvalidCoordinates
	}
	if loc.Borough == "" {
		loc.Borough = geo.DeriveBorough(loc.Lat, loc.Lng)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("enrichment: orchestration panic, using geographic fallback: %v", r)
			result, err = o.fallbackEnrichment(loc), nil
		}
	}()

	var (
		subway      *scoring.SubwayResult
		walkability *scoring.WalkabilityResult
		noise       *scoring.NoiseResult
		parking     *scoring.ParkingResult
		school      *scoring.SchoolResult
	)

	outcomes := fanout.SettleAll(ctx,
		fanout.Task{Name: "subway", Run: func(ctx context.Context) error {
			r, err := o.subway.CalculateScore(ctx, loc.Lat, loc.Lng)
			if err != nil {
				return err
			}
			subway = r
			return nil
		}},
		fanout.Task{Name: "walkability", Run: func(ctx context.Context) error {
			r, err := o.walkability.CalculateScore(ctx, loc.Lat, loc.Lng, loc.Address)
			if err != nil {
				return err
			}
			walkability = r
			return nil
		}},
		fanout.Task{Name: "noise", Run: func(ctx context.Context) error {
			r, err := o.noise.CalculateScore(ctx, loc.Lat, loc.Lng, loc.Address)
			if err != nil {
				return err
			}
			noise = r
			return nil
		}},
		fanout.Task{Name: "parking", Run: func(ctx context.Context) error {
			r, err := o.parking.CalculateScore(ctx, loc.Lat, loc.Lng, loc.Address)
			if err != nil {
				return err
			}
			parking = r
			return nil
		}},
		fanout.Task{Name: "school", Run: func(ctx context.Context) error {
			r, err := o.school.CalculateScore(ctx, loc.Lat, loc.Lng, loc.Borough)
			if err != nil {
				return err
			}
			school = r
			return nil
		}},
	)
	for _, failed := range fanout.Failed(outcomes) {
		log.Printf("enrichment: %s service failed, substituting fallback: %v", failed.Name, failed.Err)
	}

	// Weighted average over whichever services actually produced a score.
	sum, weight := 0.0, 0.0
	if subway != nil {
		sum += float64(subway.Score) * componentWeights.subway
		weight += componentWeights.subway
	}
	if walkability != nil {
		sum += float64(walkability.Score) * componentWeights.walkability
		weight += componentWeights.walkability
	}
	if noise != nil {
		sum += float64(noise.Score) * componentWeights.noise
		weight += componentWeights.noise
	}
	if parking != nil {
		sum += float64(parking.Score) * componentWeights.parking
		weight += componentWeights.parking
	}
	if school != nil {
		sum += float64(school.Score) * componentWeights.school
		weight += componentWeights.school
	}

	if weight == 0 {
		return o.fallbackEnrichment(loc), nil
	}
	overall := geo.Clamp(sum / weight)

	// Failed services still get a detail object: the fixed neutral fallback
	// shape, excluded from the overall above.
	subwayDetail := subway
	if subwayDetail == nil {
		subwayDetail = fallbackSubway()
	}
	walkabilityDetail := walkability
	if walkabilityDetail == nil {
		walkabilityDetail = fallbackWalkability()
	}
	noiseDetail := noise
	if noiseDetail == nil {
		noiseDetail = fallbackNoise()
	}
	parkingDetail := parking
	if parkingDetail == nil {
		parkingDetail = fallbackParking()
	}

	scores := Scores{
		Subway:      subwayDetail.Score,
		Walkability: walkabilityDetail.Score,
		Noise:       noiseDetail.Score,
		Parking:     parkingDetail.Score,
		Overall:     overall,
	}
	var schoolScore *int
	if school != nil {
		schoolScore = &school.Score
		scores.School = schoolScore
	}

	result = &Result{
		Location: loc,
		Scores:   scores,
		Details: Details{
			Subway:      subwayDetail,
			Walkability: walkabilityDetail,
			Noise:       noiseDetail,
			Parking:     parkingDetail,
			School:      school,
		},
		Explanation: explain(overall, scores),
		DataSource:  "neighborhood enrichment pipeline",
		Timestamp:   time.Now().UTC(),
	}

	result.AuditID = o.persistAudit(loc, result, subwayDetail)
	o.publishEvent(ctx, loc, overall)

	return result, nil
}

// explain builds the tiered summary with component strengths (>=70) and
// concerns (<40).
func explain(overall int, scores Scores) string {
	var tier string
	switch {
	case overall >= 85:
		tier = "an exceptional"
	case overall >= 70:
		tier = "an excellent"
	case overall >= 55:
		tier = "a good"
	case overall >= 40:
		tier = "a fair"
	default:
		tier = "a challenging"
	}

	components := []struct {
		name  string
		score int
	}{
		{"subway access", scores.Subway},
		{"walkability", scores.Walkability},
		{"quiet", scores.Noise},
		{"parking", scores.Parking},
	}
	if scores.School != nil {
		components = append(components, struct {
			name  string
			score int
		}{"schools", *scores.School})
	}

	var strengths, concerns []string
	for _, c := range components {
		switch {
		case c.score >= 70:
			strengths = append(strengths, c.name)
		case c.score < 40:
			concerns = append(concerns, c.name)
		}
	}

	msg := fmt.Sprintf("This is %s location (%d/100).", tier, overall)
	if len(strengths) > 0 {
		msg += fmt.Sprintf(" Strengths: %s.", strings.Join(strengths, ", "))
	}
	if len(concerns) > 0 {
		msg += fmt.Sprintf(" Concerns: %s.", strings.Join(concerns, ", "))
	}
	return msg
}

func (o *Orchestrator) persistAudit(loc Location, result *Result, subway *scoring.SubwayResult) string {
	auditID := uuid.NewString()
	if o.store == nil {
		return auditID
	}

	audit := &database.EnrichmentAudit{
		ID:                  auditID,
		Lat:                 loc.Lat,
		Lng:                 loc.Lng,
		Address:             loc.Address,
		Borough:             loc.Borough,
		SubwayScore:         result.Scores.Subway,
		WalkabilityScore:    result.Scores.Walkability,
		NoiseScore:          result.Scores.Noise,
		ParkingScore:        result.Scores.Parking,
		SchoolScore:         result.Scores.School,
		OverallScore:        result.Scores.Overall,
		NearestStation:      subway.NearestStation,
		NearestStationMiles: subway.DistanceMiles,
		DataSource:          result.DataSource,
	}
	if err := o.store.InsertEnrichmentAudit(audit); err != nil {
		log.Printf("enrichment: audit persist failed: %v", err)
	}
	return auditID
}

func (o *Orchestrator) publishEvent(ctx context.Context, loc Location, overall int) {
	if o.publisher == nil {
		return
	}
	event := &protocol.ScoreEvent{
		Version:      protocol.EventVersion,
		Kind:         protocol.EventKindEnrichment,
		Borough:      loc.Borough,
		OverallScore: overall,
		Lat:          loc.Lat,
		Lng:          loc.Lng,
		Timestamp:    time.Now().UTC(),
	}
	data, err := protocol.EncodeScoreEvent(event)
	if err != nil {
		log.Printf("enrichment: event encode failed: %v", err)
		return
	}
	if err := o.publisher.Publish(ctx, loc.Borough, data); err != nil {
		log.Printf("enrichment: event publish failed: %v", err)
	}
}

// fallbackEnrichment is the terminal geographic heuristic: Manhattan box
// scores a 65 base, everywhere else 50, with parking penalized.
func (o *Orchestrator) fallbackEnrichment(loc Location) *Result {
	base := 50
	if geo.InManhattan(loc.Lat, loc.Lng) {
		base = 65
	}
	parking := base - 20
	if parking < 0 {
		parking = 0
	}

	overall := geo.Clamp(float64(base)*0.25 + float64(base)*0.25 + float64(base)*0.20 + float64(parking)*0.15 + float64(base)*0.15)
	schoolScore := base

	return &Result{
		Location: loc,
		Scores: Scores{
			Subway:      base,
			Walkability: base,
			Noise:       base,
			Parking:     parking,
			School:      &schoolScore,
			Overall:     overall,
		},
		Details: Details{
			Subway:      fallbackSubway(),
			Walkability: fallbackWalkability(),
			Noise:       fallbackNoise(),
			Parking:     fallbackParking(),
		},
		Explanation: "Neighborhood data is unavailable; scores are geographic estimates.",
		DataSource:  "geographic fallback",
		AuditID:     FallbackAuditID,
		Timestamp:   time.Now().UTC(),
	}
}

// Fixed fallback shapes for individual service failures.

func fallbackSubway() *scoring.SubwayResult {
	return &scoring.SubwayResult{
		Score:       50,
		Explanation: "Subway data unavailable; assuming average transit access.",
		DataSource:  "fallback",
	}
}

func fallbackWalkability() *scoring.WalkabilityResult {
	return &scoring.WalkabilityResult{
		Score:              50,
		Explanation:        "Walkability data unavailable; assuming average walkability.",
		DataSource:         "fallback",
		AmenitiesNearby:    50,
		TransitAccess:      50,
		PedestrianFriendly: 50,
	}
}

func fallbackNoise() *scoring.NoiseResult {
	return &scoring.NoiseResult{
		Score:            60,
		Explanation:      "Noise data unavailable; assuming typical residential noise.",
		DataSource:       "fallback",
		TrafficLevel:     40,
		AirportProximity: 40,
		ConstructionRisk: 40,
	}
}

func fallbackParking() *scoring.ParkingResult {
	return &scoring.ParkingResult{
		Score:              45,
		Explanation:        "Parking data unavailable; assuming limited street parking.",
		DataSource:         "fallback",
		StreetParking:      45,
		GarageProximity:    45,
		ParkingRegulations: 45,
	}
}
