package scoring

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/nycvalue/enrichment-server/internal/opendata"
)

func TestSchool_DistrictAverageWhenNoZone(t *testing.T) {
	// Every zone dataset is reachable but returns no intersecting zone.
	svc := NewSchoolService(emptyClient(), newFakeSchoolStore())

	result, err := svc.CalculateScore(context.Background(), 40.7794, -73.9554, "Manhattan")
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}

	if result.SchoolDBN != DistrictAverageDBN {
		t.Errorf("expected DBN %s, got %s", DistrictAverageDBN, result.SchoolDBN)
	}
	// Manhattan static median 6.8 → 50 + (6.8-6.5)*10 = 53.
	if result.Score != 53 {
		t.Errorf("expected district-average score 53, got %d", result.Score)
	}
}

func TestSchool_DistrictAverageOnLookupError(t *testing.T) {
	svc := NewSchoolService(failingClient(), newFakeSchoolStore())

	result, err := svc.CalculateScore(context.Background(), 40.85, -73.90, "Bronx")
	if err != nil {
		t.Fatalf("CalculateScore must not propagate upstream failure: %v", err)
	}
	if result.SchoolDBN != DistrictAverageDBN {
		t.Errorf("expected DBN %s, got %s", DistrictAverageDBN, result.SchoolDBN)
	}
	// Bronx static median 5.5 → 50 + (5.5-6.5)*10 = 40.
	if result.Score != 40 {
		t.Errorf("expected score 40, got %d", result.Score)
	}
}

func TestSchool_ZoneWithQualityReport(t *testing.T) {
	client := &fakeClient{handler: func(datasetID string, params url.Values) ([]opendata.Record, error) {
		switch datasetID {
		case opendata.DatasetSchoolZonesK5:
			return []opendata.Record{{
				"dbn":         "02M047",
				"school_name": "PS 47",
			}}, nil
		case opendata.DatasetSchoolQuality:
			return []opendata.Record{{
				"school_name":        "PS 47",
				"ela_proficiency":    "0.82",
				"math_proficiency":   "0.78",
				"environment_rating": "8.5",
				"attendance_rate":    "0.93",
			}}, nil
		default:
			return nil, nil
		}
	}}
	store := newFakeSchoolStore()
	svc := NewSchoolService(client, store)

	result, err := svc.CalculateScore(context.Background(), 40.74, -73.99, "Manhattan")
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}

	if result.SchoolDBN != "02M047" {
		t.Errorf("expected DBN 02M047, got %s", result.SchoolDBN)
	}
	// (8.2 + 7.8 + 8.5 + 9.3*0.5) / 3.5 = 8.33 — well over the 6.8 median.
	if result.Value < 8.0 || result.Value > 8.6 {
		t.Errorf("composite rating out of expected range: %f", result.Value)
	}
	if result.Score <= 50 {
		t.Errorf("over-median school should score above 50, got %d", result.Score)
	}
	if len(store.audits) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(store.audits))
	}
	if store.audits[0].ID != result.AuditID {
		t.Error("audit id mismatch")
	}
}

func TestSchool_SynthesizesQualityFromDBN(t *testing.T) {
	client := &fakeClient{handler: func(datasetID string, params url.Values) ([]opendata.Record, error) {
		if datasetID == opendata.DatasetSchoolZonesK5 {
			return []opendata.Record{{"dbn": "15K321"}}, nil
		}
		return nil, nil // no quality report anywhere
	}}
	svc := NewSchoolService(client, newFakeSchoolStore())

	result, err := svc.CalculateScore(context.Background(), 40.67, -73.98, "Brooklyn")
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}

	if !strings.Contains(result.SchoolName, "321") || !strings.Contains(result.SchoolName, "Brooklyn") {
		t.Errorf("expected synthesized name from DBN, got %q", result.SchoolName)
	}
	// Synthesized composite is 5.0 against a 6.2 Brooklyn median: under 50.
	if result.Score >= 50 {
		t.Errorf("under-median synthesized school should score below 50, got %d", result.Score)
	}
}

func TestSchool_AuditFailureDoesNotDropScore(t *testing.T) {
	store := newFakeSchoolStore()
	store.insertErr = errUpstream
	svc := NewSchoolService(emptyClient(), store)

	result, err := svc.CalculateScore(context.Background(), 40.75, -73.98, "Manhattan")
	if err != nil {
		t.Fatalf("CalculateScore: %v", err)
	}
	if result.AuditID == "" {
		t.Error("expected generated audit id despite persistence failure")
	}
}

func TestSchool_BoroughMedianMemoized(t *testing.T) {
	store := newFakeSchoolStore()
	store.medians["Queens"] = 7.1
	svc := NewSchoolService(emptyClient(), store)

	ctx := context.Background()
	if _, err := svc.CalculateScore(ctx, 40.74, -73.79, "Queens"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CalculateScore(ctx, 40.75, -73.80, "Queens"); err != nil {
		t.Fatal(err)
	}

	if store.medianReads != 1 {
		t.Errorf("expected a single store read, got %d", store.medianReads)
	}
}

func TestCompositeRating(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		q    schoolQuality
		want float64
	}{
		{"all present", schoolQuality{ELA: f(8), Math: f(6), Environment: f(7), AttendanceRate: f(9)}, (8 + 6 + 7 + 4.5) / 3.5},
		{"attendance only", schoolQuality{AttendanceRate: f(9)}, 9},
		{"missing excluded", schoolQuality{ELA: f(8), Math: f(6)}, 7},
		{"nothing", schoolQuality{}, 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compositeRating(tt.q)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("compositeRating = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestLogisticScore(t *testing.T) {
	if got := logisticScore(6.5, 6.5); got != 50 {
		t.Errorf("at-median school should score 50, got %d", got)
	}
	if got := logisticScore(10, 5); got < 95 {
		t.Errorf("far-over-median school should approach 100, got %d", got)
	}
	if got := logisticScore(1, 8); got > 5 {
		t.Errorf("far-under-median school should approach 0, got %d", got)
	}
}
