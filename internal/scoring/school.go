package scoring

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/opendata"
)

// SchoolStore is the persistence surface the school service needs.
type SchoolStore interface {
	GetBoroughMedian(borough string) (*database.BoroughSchoolMedian, error)
	UpsertBoroughMedian(borough string, median float64) error
	InsertSchoolAudit(audit *database.SchoolScoreAudit) error
}

// SchoolResult is the outcome of a school quality calculation.
type SchoolResult struct {
	Score       int     `json:"score"`
	SchoolDBN   string  `json:"schoolDbn"`
	SchoolName  string  `json:"schoolName"`
	Explanation string  `json:"explanation"`
	DataSource  string  `json:"dataSource"`
	Value       float64 `json:"value"` // composite rating, 0-10
	AuditID     string  `json:"auditId"`
}

// DistrictAverageDBN marks a result computed from the borough median
// because no school zone could be resolved.
const DistrictAverageDBN = "DISTRICT_AVG"

// logisticSteepness centers scores at 50 for a school matching its borough
// median and pushes clearly over/under-median schools toward 100/0.
const logisticSteepness = 0.8

// Static borough median estimates, used to seed the persisted table.
var staticBoroughMedians = map[string]float64{
	geo.Manhattan:    6.8,
	geo.Brooklyn:     6.2,
	geo.Queens:       6.5,
	geo.Bronx:        5.5,
	geo.StatenIsland: 6.4,
}

const defaultBoroughMedian = 6.5

// zoneSource is one school-zone dataset with its field-name candidates.
// Sources are tried in order; the first intersecting zone wins.
type zoneSource struct {
	dataset        string
	geometryFields []string
	dbnFields      []string
	nameFields     []string
	gradeFields    []string
	addressFields  []string
}

var zoneSources = []zoneSource{
	{
		dataset:        opendata.DatasetSchoolZonesK5,
		geometryFields: []string{"the_geom", "geom"},
		dbnFields:      []string{"dbn", "school_dbn", "esid_no"},
		nameFields:     []string{"school_name", "name", "label"},
		gradeFields:    []string{"grades", "grade_range", "remarks"},
		addressFields:  []string{"address", "primary_address"},
	},
	{
		dataset:        opendata.DatasetSchoolZonesMS,
		geometryFields: []string{"the_geom", "geom"},
		dbnFields:      []string{"dbn", "msid_no", "school_dbn"},
		nameFields:     []string{"school_name", "name", "label"},
		gradeFields:    []string{"grades", "grade_range", "remarks"},
		addressFields:  []string{"address", "primary_address"},
	},
}

// qualitySource is one school-quality dataset with its DBN field names.
type qualitySource struct {
	dataset   string
	dbnFields []string
}

var qualitySources = []qualitySource{
	{opendata.DatasetSchoolQuality, []string{"dbn", "school_dbn"}},
	{opendata.DatasetSchoolQualityAlt, []string{"dbn", "school_dbn"}},
}

// schoolZone is the canonical form of a matched zone record.
type schoolZone struct {
	DBN     string
	Name    string
	Grades  string
	Address string
	Source  string
}

// schoolQuality holds whichever quality dimensions the datasets provided.
// Nil means the dimension was absent and is excluded from the composite.
type schoolQuality struct {
	Name           string
	ELA            *float64 // 0-10
	Math           *float64 // 0-10
	Environment    *float64 // 0-10
	AttendanceRate *float64 // 0-10
	Synthesized    bool
}

// SchoolService scores locations by zoned school quality relative to the
// borough median. Medians are cached in-process, backed by the persisted
// table, seeded from static estimates.
type SchoolService struct {
	client opendata.Client
	store  SchoolStore

	mu      sync.Mutex
	medians map[string]float64
}

func NewSchoolService(client opendata.Client, store SchoolStore) *SchoolService {
	return &SchoolService{
		client:  client,
		store:   store,
		medians: make(map[string]float64),
	}
}

// CalculateScore resolves the zoned school for the point and scores it
// against the borough median. Zone-lookup failure and any internal error
// degrade to the district-average terminal state; this method never
// returns an error for upstream-data problems.
func (s *SchoolService) CalculateScore(ctx context.Context, lat, lng float64, borough string) (*SchoolResult, error) {
	if borough == "" {
		borough = geo.DeriveBorough(lat, lng)
	}
	median := s.boroughMedian(borough)

	zone, err := s.lookupZone(ctx, lat, lng)
	if err != nil || zone == nil {
		if err != nil {
			log.Printf("school: zone lookup failed: %v", err)
		}
		return s.districtAverage(lat, lng, borough, median), nil
	}

	quality := s.lookupQuality(ctx, zone.DBN)
	if quality.Name == "" {
		quality.Name = zone.Name
	}

	composite := compositeRating(quality)
	score := logisticScore(composite, median)

	auditID := s.persistAudit(&database.SchoolScoreAudit{
		ID:              uuid.NewString(),
		Lat:             lat,
		Lng:             lng,
		Borough:         borough,
		SchoolDBN:       zone.DBN,
		SchoolName:      quality.Name,
		CompositeRating: composite,
		BoroughMedian:   median,
		Score:           score,
		DataSource:      zone.Source,
	})

	explanation := fmt.Sprintf("%s (DBN %s) rates %.1f/10 against a %s median of %.1f.",
		quality.Name, zone.DBN, composite, borough, median)
	if quality.Synthesized {
		explanation += " No quality report was found, so moderate default metrics were assumed."
	}

	return &SchoolResult{
		Score:       score,
		SchoolDBN:   zone.DBN,
		SchoolName:  quality.Name,
		Explanation: explanation,
		DataSource:  zone.Source,
		Value:       composite,
		AuditID:     auditID,
	}, nil
}

// districtAverage is the fallback terminal state: a score derived solely
// from how the borough median compares to the citywide center.
func (s *SchoolService) districtAverage(lat, lng float64, borough string, median float64) *SchoolResult {
	score := geo.Clamp(50 + (median-defaultBoroughMedian)*10)

	auditID := s.persistAudit(&database.SchoolScoreAudit{
		ID:              uuid.NewString(),
		Lat:             lat,
		Lng:             lng,
		Borough:         borough,
		SchoolDBN:       DistrictAverageDBN,
		SchoolName:      fmt.Sprintf("%s district average", borough),
		CompositeRating: median,
		BoroughMedian:   median,
		Score:           score,
		DataSource:      "borough median estimate",
	})

	return &SchoolResult{
		Score:       score,
		SchoolDBN:   DistrictAverageDBN,
		SchoolName:  fmt.Sprintf("%s district average", borough),
		Explanation: fmt.Sprintf("No school zone found for this point; scored from the %s borough median (%.1f/10).", borough, median),
		DataSource:  "borough median estimate",
		Value:       median,
		AuditID:     auditID,
	}
}

// lookupZone tries each zone dataset in order until one yields an
// intersecting zone for the point.
func (s *SchoolService) lookupZone(ctx context.Context, lat, lng float64) (*schoolZone, error) {
	var lastErr error

	for _, src := range zoneSources {
		for _, geomField := range src.geometryFields {
			params := url.Values{}
			params.Set("$where", opendata.IntersectsPoint(geomField, lat, lng))
			params.Set("$limit", "1")

			records, err := s.client.Query(ctx, src.dataset, params)
			if err != nil {
				lastErr = err
				continue
			}
			if len(records) == 0 {
				break // dataset reachable, point not in any zone
			}

			rec := records[0]
			dbn, ok := opendata.ProbeString(rec, src.dbnFields...)
			if !ok {
				break
			}
			name, _ := opendata.ProbeString(rec, src.nameFields...)
			grades, _ := opendata.ProbeString(rec, src.gradeFields...)
			address, _ := opendata.ProbeString(rec, src.addressFields...)

			return &schoolZone{
				DBN:     strings.ToUpper(dbn),
				Name:    name,
				Grades:  grades,
				Address: address,
				Source:  fmt.Sprintf("NYC school zone dataset %s", src.dataset),
			}, nil
		}
	}

	return nil, lastErr
}

// lookupQuality tries each quality dataset in order; first non-empty match
// wins. With no match anywhere, a placeholder record is synthesized from
// the DBN structure.
func (s *SchoolService) lookupQuality(ctx context.Context, dbn string) schoolQuality {
	for _, src := range qualitySources {
		for _, field := range src.dbnFields {
			params := url.Values{}
			params.Set("$where", fmt.Sprintf("upper(%s) = '%s'", field, dbn))
			params.Set("$limit", "1")

			records, err := s.client.Query(ctx, src.dataset, params)
			if err != nil {
				log.Printf("school: quality dataset %s query failed: %v", src.dataset, err)
				continue
			}
			if len(records) == 0 {
				continue
			}
			return parseQuality(records[0])
		}
	}

	return synthesizeQuality(dbn)
}

func parseQuality(rec opendata.Record) schoolQuality {
	q := schoolQuality{}
	q.Name, _ = opendata.ProbeString(rec, "school_name", "name", "location_name")

	if v, ok := opendata.ProbeFloat(rec, "ela_proficiency", "pct_ela", "ela_pct", "english_proficiency"); ok {
		q.ELA = normalizeToTen(v)
	}
	if v, ok := opendata.ProbeFloat(rec, "math_proficiency", "pct_math", "math_pct"); ok {
		q.Math = normalizeToTen(v)
	}
	if v, ok := opendata.ProbeFloat(rec, "environment_rating", "quality_review_score", "supportive_environment_score"); ok {
		q.Environment = normalizeToTen(v)
	}
	if v, ok := opendata.ProbeFloat(rec, "attendance_rate", "pct_attendance", "student_attendance_rate"); ok {
		q.AttendanceRate = normalizeToTen(v)
	}
	return q
}

// normalizeToTen maps fractions (0-1), percentages (0-100), and native
// 0-10 ratings onto the 0-10 scale.
func normalizeToTen(v float64) *float64 {
	var out float64
	switch {
	case v <= 1:
		out = v * 10
	case v <= 10:
		out = v
	default:
		out = v / 10
	}
	if out > 10 {
		out = 10
	}
	return &out
}

// boroughLetters maps the DBN borough letter to a borough name.
var boroughLetters = map[byte]string{
	'M': geo.Manhattan,
	'K': geo.Brooklyn,
	'Q': geo.Queens,
	'X': geo.Bronx,
	'R': geo.StatenIsland,
}

// synthesizeQuality builds a placeholder record with moderate values and a
// name decoded from the DBN's district/borough/number structure.
func synthesizeQuality(dbn string) schoolQuality {
	name := fmt.Sprintf("School %s", dbn)
	if len(dbn) >= 4 {
		district := strings.TrimLeft(dbn[:2], "0")
		number := strings.TrimLeft(dbn[3:], "0")
		borough, ok := boroughLetters[dbn[2]]
		if !ok {
			borough = "NYC"
		}
		if district == "" {
			district = "0"
		}
		if number == "" {
			number = dbn[3:]
		}
		name = fmt.Sprintf("PS %s (District %s, %s)", number, district, borough)
	}

	mid := 5.0
	return schoolQuality{
		Name:        name,
		ELA:         &mid,
		Math:        &mid,
		Environment: &mid,
		Synthesized: true,
	}
}

// compositeRating averages the available quality dimensions on the 0-10
// scale. Attendance carries half weight; missing dimensions are excluded
// rather than treated as zero. Falls back to 5.0 when nothing is present.
func compositeRating(q schoolQuality) float64 {
	sum := 0.0
	weight := 0.0

	if q.ELA != nil {
		sum += *q.ELA
		weight++
	}
	if q.Math != nil {
		sum += *q.Math
		weight++
	}
	if q.Environment != nil {
		sum += *q.Environment
		weight++
	}
	if q.AttendanceRate != nil {
		sum += *q.AttendanceRate * 0.5
		weight += 0.5
	}

	if weight == 0 {
		return 5.0
	}
	return sum / weight
}

// logisticScore maps the composite rating onto 0-100, centered at the
// borough median.
func logisticScore(composite, median float64) int {
	return geo.Clamp(100 / (1 + math.Exp(-logisticSteepness*(composite-median))))
}

// boroughMedian resolves the median composite rating for a borough:
// in-process cache, then the persisted table, then the static estimate
// (which is persisted on first use).
func (s *SchoolService) boroughMedian(borough string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.medians[borough]; ok {
		return m
	}

	if s.store != nil {
		stored, err := s.store.GetBoroughMedian(borough)
		if err != nil {
			log.Printf("school: borough median read failed: %v", err)
		} else if stored != nil {
			s.medians[borough] = stored.MedianRating
			return stored.MedianRating
		}
	}

	median, ok := staticBoroughMedians[borough]
	if !ok {
		median = defaultBoroughMedian
	}

	if s.store != nil {
		if err := s.store.UpsertBoroughMedian(borough, median); err != nil {
			log.Printf("school: borough median persist failed: %v", err)
		}
	}

	s.medians[borough] = median
	return median
}

// persistAudit writes the audit row best-effort and returns the audit id.
// The pre-generated id is returned even if the write fails, so the score
// response never depends on persistence.
func (s *SchoolService) persistAudit(audit *database.SchoolScoreAudit) string {
	if s.store == nil {
		return audit.ID
	}
	if err := s.store.InsertSchoolAudit(audit); err != nil {
		log.Printf("school: audit persist failed: %v", err)
	}
	return audit.ID
}
