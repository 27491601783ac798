// Package market implements comparable-property search and fair-value
// estimation over the internal listing store and the city's rolling sales
// records.
package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/fanout"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/opendata"
	"github.com/nycvalue/enrichment-server/internal/protocol"
)

// Invalid-input errors. These are the only errors the service propagates;
// upstream-data and persistence failures degrade in-band.
var (
	ErrMissingCoordinates = errors.New("market analysis requires coordinates")
	ErrInvalidCoordinates = errors.New("coordinates out of range")
)

// Request describes the subject property. Coordinates are required and
// must be resolved upstream (geocoding is a collaborator, not ours).
type Request struct {
	Address      string   `json:"address"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	Bedrooms     *float64 `json:"bedrooms,omitempty"`
	Bathrooms    *float64 `json:"bathrooms,omitempty"`
	SquareFeet   *float64 `json:"squareFeet,omitempty"`
	PropertyType *string  `json:"propertyType,omitempty"`
	AskingPrice  *float64 `json:"askingPrice,omitempty"`
}

// Comparable is one comp in the analysis, ephemeral within a call.
type Comparable struct {
	Address         string     `json:"address"`
	Unit            *string    `json:"unit,omitempty"`
	Price           float64    `json:"price"`
	Bedrooms        float64    `json:"bedrooms"`
	Bathrooms       float64    `json:"bathrooms"`
	SquareFeet      *float64   `json:"squareFeet,omitempty"`
	SoldDate        *time.Time `json:"soldDate,omitempty"`
	DistanceMiles   float64    `json:"distance"`
	Similarity      int        `json:"similarity"`
	PriceAdjustment float64    `json:"priceAdjustment"`
	DataSource      string     `json:"dataSource"`
}

// Result is the full market analysis payload.
type Result struct {
	PropertyAddress    string       `json:"propertyAddress"`
	Lat                float64      `json:"lat"`
	Lng                float64      `json:"lng"`
	MarketScore        int          `json:"marketScore"`
	FairValueEstimate  float64      `json:"fairValueEstimate"`
	PriceGapPct        *float64     `json:"priceGapPercentage,omitempty"`
	MarketTrend        string       `json:"marketTrend"`
	DaysOnMarketAvg    int          `json:"daysOnMarketAvg"`
	PricePerSqftMedian float64      `json:"pricePerSqftMedian"`
	Comparables        []Comparable `json:"comparables"`
	Confidence         int          `json:"confidence"`
	DataQuality        string       `json:"dataQuality"`
	AuditID            string       `json:"auditId"`
}

// Store is the persistence surface the service needs.
type Store interface {
	ListingsInBox(minLat, maxLat, minLng, maxLng float64) ([]database.Listing, error)
	InsertMarketAudit(audit *database.MarketAnalysisAudit) error
	InsertComparables(comps []database.MarketComparable) error
}

// Search tuning. Hand-tuned in the original system; kept as-is.
const (
	internalRadiusMiles   = 2.0
	internalMinSimilarity = 40
	internalKeepTop       = 10
	publicMinSimilarity   = 35
	publicKeepTop         = 12
)

// Trend thresholds and the fixed days-on-market lookup per trend.
const (
	trendHot      = "hot"
	trendCooling  = "cooling"
	trendBalanced = "balanced"
)

var daysOnMarketByTrend = map[string]int{
	trendHot:      25,
	trendBalanced: 45,
	trendCooling:  85,
}

// EventPublisher emits score events. Nil disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Service runs market analysis for a subject property.
type Service struct {
	store     Store
	client    opendata.Client
	publisher EventPublisher
}

func NewService(store Store, client opendata.Client, publisher EventPublisher) *Service {
	return &Service{store: store, client: client, publisher: publisher}
}

// Analyze computes comparables, trend, fair value, price gap, and
// confidence for the subject property.
func (s *Service) Analyze(ctx context.Context, req *Request) (*Result, error) {
	if req.Lat == nil || req.Lng == nil {
		return nil, ErrMissingCoordinates
	}
	lat, lng := *req.Lat, *req.Lng
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, ErrInvalidCoordinates
	}

	var internal, public []Comparable

	outcomes := fanout.SettleAll(ctx,
		fanout.Task{Name: "internal-store", Run: func(ctx context.Context) error {
			comps, err := s.searchInternal(lat, lng, req)
			if err != nil {
				return err
			}
			internal = comps
			return nil
		}},
		fanout.Task{Name: "public-sales", Run: func(ctx context.Context) error {
			comps, err := s.searchPublicSales(ctx, lat, lng, req)
			if err != nil {
				return err
			}
			public = comps
			return nil
		}},
	)
	for _, o := range fanout.Failed(outcomes) {
		log.Printf("market: %s search failed: %v", o.Name, o.Err)
	}

	comps := dedupeByAddress(append(internal, public...))
	if comps == nil {
		comps = []Comparable{}
	}

	contributingSources := 0
	if len(internal) > 0 {
		contributingSources++
	}
	if len(public) > 0 {
		contributingSources++
	}

	avgSim, avgDist := averages(comps)
	marketScore := marketScore(avgSim, avgDist, len(comps))
	trend := classifyTrend(marketScore)
	fairValue := fairValue(comps, req)

	var priceGap *float64
	if req.AskingPrice != nil && fairValue > 0 {
		gap := (*req.AskingPrice - fairValue) / fairValue * 100
		priceGap = &gap
	}

	result := &Result{
		PropertyAddress:    req.Address,
		Lat:                lat,
		Lng:                lng,
		MarketScore:        marketScore,
		FairValueEstimate:  fairValue,
		PriceGapPct:        priceGap,
		MarketTrend:        trend,
		DaysOnMarketAvg:    daysOnMarketByTrend[trend],
		PricePerSqftMedian: medianPricePerSqft(comps),
		Comparables:        comps,
		Confidence:         confidence(len(comps), avgSim, contributingSources),
		DataQuality:        dataQuality(len(comps), avgSim),
	}
	result.AuditID = s.persist(req, result)
	s.publishEvent(ctx, result)

	return result, nil
}

func (s *Service) publishEvent(ctx context.Context, result *Result) {
	if s.publisher == nil {
		return
	}
	borough := geo.DeriveBorough(result.Lat, result.Lng)
	data, err := protocol.EncodeScoreEvent(&protocol.ScoreEvent{
		Version:      protocol.EventVersion,
		Kind:         protocol.EventKindMarket,
		Borough:      borough,
		OverallScore: result.MarketScore,
		Lat:          result.Lat,
		Lng:          result.Lng,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("market: event encode failed: %v", err)
		return
	}
	if err := s.publisher.Publish(ctx, borough, data); err != nil {
		log.Printf("market: event publish failed: %v", err)
	}
}

// searchInternal finds comps in the listing store: bounding-box prefilter,
// exact haversine cutoff, similarity floor, ranked top-N.
func (s *Service) searchInternal(lat, lng float64, req *Request) ([]Comparable, error) {
	if s.store == nil {
		return nil, nil
	}

	minLat, maxLat, minLng, maxLng := geo.BoundingBox(lat, lng, internalRadiusMiles)
	listings, err := s.store.ListingsInBox(minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, fmt.Errorf("market: internal store: %w", err)
	}

	var comps []Comparable
	for _, l := range listings {
		if l.Price <= 0 || l.Bedrooms <= 0 || l.Bathrooms <= 0 {
			continue
		}
		d := geo.Haversine(lat, lng, l.Lat, l.Lng)
		if d > internalRadiusMiles {
			continue
		}

		sim := Similarity(req, l.Bedrooms, l.Bathrooms, l.SquareFeet, l.PropertyType)
		if sim < internalMinSimilarity {
			continue
		}

		comps = append(comps, Comparable{
			Address:       l.Address,
			Unit:          l.Unit,
			Price:         l.Price,
			Bedrooms:      l.Bedrooms,
			Bathrooms:     l.Bathrooms,
			SquareFeet:    l.SquareFeet,
			SoldDate:      l.SoldDate,
			DistanceMiles: d,
			Similarity:    sim,
			DataSource:    "internal listings",
		})
	}

	rankComparables(comps, internalRadiusMiles)
	if len(comps) > internalKeepTop {
		comps = comps[:internalKeepTop]
	}
	return comps, nil
}

// Rolling sales uses numeric borough codes.
var boroughCodes = map[string]string{
	geo.Manhattan:    "1",
	geo.Bronx:        "2",
	geo.Brooklyn:     "3",
	geo.Queens:       "4",
	geo.StatenIsland: "5",
}

// searchPublicSales finds comps in the city rolling sales dataset. Sales
// records carry no coordinates, so zip-code agreement with the subject
// address stands in for distance.
func (s *Service) searchPublicSales(ctx context.Context, lat, lng float64, req *Request) ([]Comparable, error) {
	borough := geo.DeriveBorough(lat, lng)

	params := url.Values{}
	params.Set("$where", fmt.Sprintf("borough = '%s' AND sale_price > '10000'", boroughCodes[borough]))
	params.Set("$limit", "200")

	records, err := s.client.Query(ctx, opendata.DatasetRollingSales, params)
	if err != nil {
		return nil, fmt.Errorf("market: rolling sales: %w", err)
	}

	subjectZip := extractZip(req.Address)

	var comps []Comparable
	for _, rec := range records {
		price, ok := opendata.ProbeFloat(rec, "sale_price", "price")
		if !ok || price < 10000 {
			continue
		}
		address, ok := opendata.ProbeString(rec, "address", "street_address")
		if !ok {
			continue
		}

		// Bed/bath/sqft live in inconsistent fields; best-effort extraction.
		beds, bedsOK := opendata.ProbeFloat(rec, "bedrooms", "residential_units", "total_units")
		baths, bathsOK := opendata.ProbeFloat(rec, "bathrooms", "baths")
		if !bedsOK {
			beds = 2
		}
		if !bathsOK {
			baths = 1
		}

		var sqft *float64
		if v, ok := opendata.ProbeFloat(rec, "gross_square_feet", "gross_sqft", "land_square_feet"); ok && v > 0 {
			sqft = &v
		}
		propType, _ := opendata.ProbeString(rec, "building_class_category", "property_type")

		// Distance proxy: same zip reads as close, same borough as farther.
		distance := 0.9
		if zip, ok := opendata.ProbeString(rec, "zip_code", "zipcode", "zip"); ok && subjectZip != "" && zip == subjectZip {
			distance = 0.3
		}

		var pt *string
		if propType != "" {
			pt = &propType
		}
		sim := Similarity(req, beds, baths, sqft, pt)
		if sim < publicMinSimilarity {
			continue
		}

		var soldDate *time.Time
		if ds, ok := opendata.ProbeString(rec, "sale_date", "sold_date"); ok {
			if t, err := time.Parse("2006-01-02T15:04:05.000", ds); err == nil {
				soldDate = &t
			} else if t, err := time.Parse("2006-01-02", ds); err == nil {
				soldDate = &t
			}
		}

		comps = append(comps, Comparable{
			Address:       address,
			Price:         price,
			Bedrooms:      beds,
			Bathrooms:     baths,
			SquareFeet:    sqft,
			SoldDate:      soldDate,
			DistanceMiles: distance,
			Similarity:    sim,
			DataSource:    "NYC rolling sales",
		})
	}

	rankComparables(comps, 1.0)
	if len(comps) > publicKeepTop {
		comps = comps[:publicKeepTop]
	}
	return comps, nil
}

// rankComparables sorts by similarity×0.7 + (norm−distance)×0.3 descending.
func rankComparables(comps []Comparable, distanceNorm float64) {
	sort.SliceStable(comps, func(i, j int) bool {
		return compRank(comps[i], distanceNorm) > compRank(comps[j], distanceNorm)
	})
}

func compRank(c Comparable, distanceNorm float64) float64 {
	return float64(c.Similarity)*0.7 + (distanceNorm-c.DistanceMiles)*0.3
}

// Similarity scores a candidate against the subject: 100 minus bedroom,
// bathroom, and square-footage mismatch penalties, with a property-type
// adjustment. Clamped to [0,100]; penalties only apply for dimensions the
// subject actually specified.
func Similarity(req *Request, beds, baths float64, sqft *float64, propType *string) int {
	score := 100.0

	if req.Bedrooms != nil {
		score -= 15 * math.Abs(*req.Bedrooms-beds)
	}
	if req.Bathrooms != nil {
		score -= 10 * math.Abs(*req.Bathrooms-baths)
	}
	if req.SquareFeet != nil && *req.SquareFeet > 0 && sqft != nil {
		score -= 30 * math.Abs(*req.SquareFeet-*sqft) / *req.SquareFeet
	}
	if req.PropertyType != nil && propType != nil {
		if propertyTypesMatch(*req.PropertyType, *propType) {
			score += 5
		} else {
			score -= 10
		}
	}

	return geo.Clamp(score)
}

// propertyTypesMatch compares normalized type names, treating the common
// condo and co-op spellings as aliases.
func propertyTypesMatch(a, b string) bool {
	return normalizeType(a) == normalizeType(b)
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case strings.Contains(t, "coop"), strings.Contains(t, "co-op"), strings.Contains(t, "cooperative"):
		return "co-op"
	case strings.Contains(t, "condo"):
		return "condo"
	case strings.Contains(t, "town"):
		return "townhouse"
	case strings.Contains(t, "single"), strings.Contains(t, "one family"):
		return "house"
	default:
		return t
	}
}

func dedupeByAddress(comps []Comparable) []Comparable {
	seen := make(map[string]bool, len(comps))
	out := comps[:0]
	for _, c := range comps {
		key := strings.ToLower(strings.TrimSpace(c.Address))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func averages(comps []Comparable) (avgSim, avgDist float64) {
	if len(comps) == 0 {
		return 0, 0
	}
	for _, c := range comps {
		avgSim += float64(c.Similarity)
		avgDist += c.DistanceMiles
	}
	n := float64(len(comps))
	return avgSim / n, avgDist / n
}

// marketScore: 50 base plus capped similarity, distance, and count bonuses.
func marketScore(avgSim, avgDist float64, count int) int {
	score := 50.0

	simBonus := (avgSim - 60) / 2
	if simBonus < 0 {
		simBonus = 0
	}
	if simBonus > 15 {
		simBonus = 15
	}
	score += simBonus

	if count > 0 {
		distBonus := (1.5 - avgDist) * 6
		if distBonus < 0 {
			distBonus = 0
		}
		if distBonus > 10 {
			distBonus = 10
		}
		score += distBonus
	}

	countBonus := float64(count) * 1.5
	if countBonus > 15 {
		countBonus = 15
	}
	score += countBonus

	return geo.Clamp(score)
}

func classifyTrend(marketScore int) string {
	switch {
	case marketScore > 75:
		return trendHot
	case marketScore < 45:
		return trendCooling
	default:
		return trendBalanced
	}
}

// fairValue is the similarity-and-distance-weighted average comparable
// price per square foot, scaled by subject square footage. Without
// comparables or subject square footage it falls back to the asking price,
// then to the median comparable price, then to zero.
func fairValue(comps []Comparable, req *Request) float64 {
	if len(comps) > 0 && req.SquareFeet != nil && *req.SquareFeet > 0 {
		weightedPpsf := 0.0
		totalWeight := 0.0
		for _, c := range comps {
			if c.SquareFeet == nil || *c.SquareFeet <= 0 {
				continue
			}
			d := c.DistanceMiles
			if d > 2 {
				d = 2
			}
			w := float64(c.Similarity) * (2 - d) * 0.5
			weightedPpsf += (c.Price / *c.SquareFeet) * w
			totalWeight += w
		}
		if totalWeight > 0 {
			return weightedPpsf / totalWeight * *req.SquareFeet
		}
	}

	if req.AskingPrice != nil {
		return *req.AskingPrice
	}
	if len(comps) > 0 {
		prices := make([]float64, len(comps))
		for i, c := range comps {
			prices[i] = c.Price
		}
		sort.Float64s(prices)
		return prices[len(prices)/2]
	}
	return 0
}

func medianPricePerSqft(comps []Comparable) float64 {
	var ppsf []float64
	for _, c := range comps {
		if c.SquareFeet != nil && *c.SquareFeet > 0 {
			ppsf = append(ppsf, c.Price / *c.SquareFeet)
		}
	}
	if len(ppsf) == 0 {
		return 0
	}
	sort.Float64s(ppsf)
	return ppsf[len(ppsf)/2]
}

// confidence: 30 base plus capped count, similarity, and source bonuses.
// Sources count only when they contributed at least one comparable, so a
// zero-comp analysis sits at exactly the base.
func confidence(count int, avgSim float64, contributingSources int) int {
	c := 30.0

	countBonus := float64(count) * 5
	if countBonus > 40 {
		countBonus = 40
	}
	c += countBonus

	simBonus := avgSim * 0.3
	if simBonus > 20 {
		simBonus = 20
	}
	c += simBonus

	sourceBonus := float64(contributingSources) * 5
	if sourceBonus > 10 {
		sourceBonus = 10
	}
	c += sourceBonus

	return geo.Clamp(c)
}

func dataQuality(count int, avgSim float64) string {
	switch {
	case count >= 8 && avgSim >= 70:
		return "high"
	case count >= 3:
		return "medium"
	default:
		return "low"
	}
}

// extractZip pulls a trailing 5-digit zip code out of an address string.
func extractZip(address string) string {
	fields := strings.Fields(address)
	for i := len(fields) - 1; i >= 0; i-- {
		f := strings.Trim(fields[i], ",")
		if len(f) == 5 && strings.IndexFunc(f, func(r rune) bool { return r < '0' || r > '9' }) == -1 {
			return f
		}
	}
	return ""
}

// persist writes the audit row and then its child comparable rows, both
// best-effort. The audit insert must be attempted first since comparables
// reference the audit id.
func (s *Service) persist(req *Request, result *Result) string {
	auditID := uuid.NewString()
	if s.store == nil {
		return auditID
	}

	audit := &database.MarketAnalysisAudit{
		ID:              auditID,
		Address:         req.Address,
		Lat:             result.Lat,
		Lng:             result.Lng,
		Bedrooms:        req.Bedrooms,
		Bathrooms:       req.Bathrooms,
		SquareFeet:      req.SquareFeet,
		PropertyType:    req.PropertyType,
		AskingPrice:     req.AskingPrice,
		MarketScore:     result.MarketScore,
		FairValue:       result.FairValueEstimate,
		PriceGapPct:     result.PriceGapPct,
		MarketTrend:     result.MarketTrend,
		ComparableCount: len(result.Comparables),
		Confidence:      result.Confidence,
	}
	if err := s.store.InsertMarketAudit(audit); err != nil {
		log.Printf("market: audit persist failed: %v", err)
		return auditID
	}

	rows := make([]database.MarketComparable, 0, len(result.Comparables))
	for _, c := range result.Comparables {
		rows = append(rows, database.MarketComparable{
			AuditID:       auditID,
			Address:       c.Address,
			Unit:          c.Unit,
			Price:         c.Price,
			Bedrooms:      c.Bedrooms,
			Bathrooms:     c.Bathrooms,
			SquareFeet:    c.SquareFeet,
			SoldDate:      c.SoldDate,
			DistanceMiles: c.DistanceMiles,
			Similarity:    c.Similarity,
			DataSource:    c.DataSource,
		})
	}
	if err := s.store.InsertComparables(rows); err != nil {
		log.Printf("market: comparable persist failed: %v", err)
	}

	return auditID
}
