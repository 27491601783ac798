package database

import (
	"time"
)

// SubwayStation is one row of the shared station cache. Populated lazily
// from the transit dataset (or the hardcoded fallback set) and upserted
// by id, so concurrent cold-start races are harmless.
type SubwayStation struct {
	ID          string
	Name        string
	Lat         float64
	Lng         float64
	Lines       string // comma-separated route list
	Borough     string
	LastUpdated time.Time
}

// Listing is a property in the internal comparable store.
type Listing struct {
	ID           int64
	Address      string
	Unit         *string
	Price        float64
	Bedrooms     float64
	Bathrooms    float64
	SquareFeet   *float64
	PropertyType *string
	Lat          float64
	Lng          float64
	SoldDate     *time.Time
	CreatedAt    time.Time
}

// SchoolScoreAudit records one school score calculation.
type SchoolScoreAudit struct {
	ID              string
	Lat             float64
	Lng             float64
	Borough         string
	SchoolDBN       string
	SchoolName      string
	CompositeRating float64
	BoroughMedian   float64
	Score           int
	DataSource      string
	CreatedAt       time.Time
}

// BoroughSchoolMedian is the persisted borough → median composite rating
// lookup backing the school score logistic transform.
type BoroughSchoolMedian struct {
	Borough      string
	MedianRating float64
	UpdatedAt    time.Time
}

// EnrichmentAudit records one orchestrator run with the core sub-scores.
type EnrichmentAudit struct {
	ID                  string
	Lat                 float64
	Lng                 float64
	Address             string
	Borough             string
	SubwayScore         int
	WalkabilityScore    int
	NoiseScore          int
	ParkingScore        int
	SchoolScore         *int
	OverallScore        int
	NearestStation      string
	NearestStationMiles float64
	DataSource          string
	CreatedAt           time.Time
}

// MarketAnalysisAudit is the append-only log of market analysis runs.
type MarketAnalysisAudit struct {
	ID              string
	Address         string
	Lat             float64
	Lng             float64
	Bedrooms        *float64
	Bathrooms       *float64
	SquareFeet      *float64
	PropertyType    *string
	AskingPrice     *float64
	MarketScore     int
	FairValue       float64
	PriceGapPct     *float64
	MarketTrend     string
	ComparableCount int
	Confidence      int
	CreatedAt       time.Time
}

// MarketComparable is a child row of MarketAnalysisAudit.
type MarketComparable struct {
	AuditID         string
	Address         string
	Unit            *string
	Price           float64
	Bedrooms        float64
	Bathrooms       float64
	SquareFeet      *float64
	SoldDate        *time.Time
	DistanceMiles   float64
	Similarity      int
	PriceAdjustment float64
	DataSource      string
}

// BoroughScoreStat is one analytics row written by the event writer.
type BoroughScoreStat struct {
	ID           int64
	Borough      string
	OverallScore int
	Kind         string
	EventTime    time.Time
	CreatedAt    time.Time
}

// BoroughDailySummary aggregates enrichment audits per borough per day.
type BoroughDailySummary struct {
	Borough     string
	Date        time.Time
	AvgOverall  float64
	MinOverall  int
	MaxOverall  int
	SampleCount int
	CreatedAt   time.Time
}
