package scoring

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/opendata"
)

var errUpstream = errors.New("upstream unavailable")

// fakeClient routes queries to a per-test handler.
type fakeClient struct {
	mu      sync.Mutex
	handler func(datasetID string, params url.Values) ([]opendata.Record, error)
	calls   int
}

func (f *fakeClient) Query(ctx context.Context, datasetID string, params url.Values) ([]opendata.Record, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.handler == nil {
		return nil, errUpstream
	}
	return f.handler(datasetID, params)
}

// failingClient errors on every query.
func failingClient() *fakeClient {
	return &fakeClient{}
}

// emptyClient succeeds with zero rows on every query.
func emptyClient() *fakeClient {
	return &fakeClient{handler: func(string, url.Values) ([]opendata.Record, error) {
		return nil, nil
	}}
}

// fakeStationStore is an in-memory StationStore.
type fakeStationStore struct {
	mu       sync.Mutex
	stations map[string]database.SubwayStation
	upserts  int
	listErr  error
}

func newFakeStationStore() *fakeStationStore {
	return &fakeStationStore{stations: make(map[string]database.SubwayStation)}
}

func (f *fakeStationStore) ListStations() ([]database.SubwayStation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []database.SubwayStation
	for _, s := range f.stations {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStationStore) UpsertStations(stations []database.SubwayStation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, s := range stations {
		f.stations[s.ID] = s
	}
	return nil
}

// fakeSchoolStore is an in-memory SchoolStore.
type fakeSchoolStore struct {
	mu          sync.Mutex
	medians     map[string]float64
	medianReads int
	audits      []*database.SchoolScoreAudit
	insertErr   error
}

func newFakeSchoolStore() *fakeSchoolStore {
	return &fakeSchoolStore{medians: make(map[string]float64)}
}

func (f *fakeSchoolStore) GetBoroughMedian(borough string) (*database.BoroughSchoolMedian, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.medianReads++
	if m, ok := f.medians[borough]; ok {
		return &database.BoroughSchoolMedian{Borough: borough, MedianRating: m}, nil
	}
	return nil, nil
}

func (f *fakeSchoolStore) UpsertBoroughMedian(borough string, median float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.medians[borough] = median
	return nil
}

func (f *fakeSchoolStore) InsertSchoolAudit(audit *database.SchoolScoreAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.audits = append(f.audits, audit)
	return nil
}
