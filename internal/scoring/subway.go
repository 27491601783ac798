// Package scoring implements the independent sub-score services: subway
// proximity, walkability, noise, parking, and school quality. Every service
// returns a 0-100 score with an explanation and degrades to a fixed
// fallback instead of propagating upstream-data failures.
package scoring

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/geo"
	"github.com/nycvalue/enrichment-server/internal/opendata"
)

// StationStore is the persistence surface the subway service needs.
type StationStore interface {
	ListStations() ([]database.SubwayStation, error)
	UpsertStations(stations []database.SubwayStation) error
}

// SubwayResult is the outcome of a subway proximity calculation.
type SubwayResult struct {
	Score          int     `json:"score"`
	NearestStation string  `json:"nearestStation"`
	DistanceMiles  float64 `json:"distanceInMiles"`
	Explanation    string  `json:"explanation"`
	DataSource     string  `json:"dataSource"`
}

// SubwayService scores locations by distance to the nearest subway station.
// The station list is the only cross-request cache in the system: loaded
// once from the store, populated from the transit dataset on a cold cache,
// and replaced by a fixed fallback set if the dataset is unavailable.
type SubwayService struct {
	store  StationStore
	client opendata.Client

	mu       sync.Mutex
	stations []database.SubwayStation
	source   string
}

// NewSubwayService creates the service. Stations are loaded lazily on the
// first scoring call.
func NewSubwayService(store StationStore, client opendata.Client) *SubwayService {
	return &SubwayService{store: store, client: client}
}

// Beyond this distance there is no meaningful transit access.
const maxStationMiles = 5.0

// CalculateScore maps distance to the nearest cached station onto a
// piecewise-linear 0-100 scale.
func (s *SubwayService) CalculateScore(ctx context.Context, lat, lng float64) (*SubwayResult, error) {
	stations, source, err := s.ensureStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("subway: station cache: %w", err)
	}

	nearest, distance := nearestStation(stations, lat, lng)
	if nearest == nil || distance > maxStationMiles {
		return &SubwayResult{
			Score:         0,
			DistanceMiles: distance,
			Explanation:   "No subway stations within 5 miles — effectively no subway access.",
			DataSource:    source,
		}, nil
	}

	score := subwayDistanceScore(distance)
	return &SubwayResult{
		Score:          score,
		NearestStation: nearest.Name,
		DistanceMiles:  distance,
		Explanation: fmt.Sprintf("%s (%s) is %.2f miles away.",
			nearest.Name, nearest.Lines, distance),
		DataSource: source,
	}, nil
}

// subwayDistanceScore is the piecewise-linear decay: each band interpolates
// linearly between its endpoints, and bands join without inversions so the
// score is non-increasing in distance.
func subwayDistanceScore(miles float64) int {
	switch {
	case miles <= 0.25:
		return geo.Clamp(100 - (miles/0.25)*10) // 90-100
	case miles <= 0.5:
		return geo.Clamp(89 - ((miles-0.25)/0.25)*19) // 70-89
	case miles <= 1.0:
		return geo.Clamp(69 - ((miles-0.5)/0.5)*29) // 40-69
	case miles <= 1.5:
		return geo.Clamp(39 - ((miles-1.0)/0.5)*29) // 10-39
	case miles <= maxStationMiles:
		return geo.Clamp(10 - ((miles-1.5)/3.5)*10) // 0-10
	default:
		return 0
	}
}

func nearestStation(stations []database.SubwayStation, lat, lng float64) (*database.SubwayStation, float64) {
	var nearest *database.SubwayStation
	best := maxStationMiles + 1

	for i := range stations {
		d := geo.Haversine(lat, lng, stations[i].Lat, stations[i].Lng)
		if nearest == nil || d < best {
			nearest = &stations[i]
			best = d
		}
	}
	return nearest, best
}

// ensureStations returns the in-process station list, populating it from
// the store, the transit dataset, or the hardcoded fallback, in that order.
// The fallback always succeeds, so the cache is never left empty.
func (s *SubwayService) ensureStations(ctx context.Context) ([]database.SubwayStation, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.stations) > 0 {
		return s.stations, s.source, nil
	}

	if s.store != nil {
		stored, err := s.store.ListStations()
		if err != nil {
			log.Printf("subway: station store read failed: %v", err)
		} else if len(stored) > 0 {
			s.stations = stored
			s.source = "station cache"
			return s.stations, s.source, nil
		}
	}

	fetched, err := s.fetchStations(ctx)
	if err != nil || len(fetched) == 0 {
		if err != nil {
			log.Printf("subway: transit dataset fetch failed, using fallback set: %v", err)
		}
		fetched = fallbackStations()
		s.source = "fallback station list"
	} else {
		s.source = "NYC Open Data subway stations"
	}

	if s.store != nil {
		if err := s.store.UpsertStations(fetched); err != nil {
			log.Printf("subway: station upsert failed: %v", err)
		}
	}

	s.stations = fetched
	return s.stations, s.source, nil
}

func (s *SubwayService) fetchStations(ctx context.Context) ([]database.SubwayStation, error) {
	params := url.Values{}
	params.Set("$limit", "2000")

	records, err := s.client.Query(ctx, opendata.DatasetSubwayStations, params)
	if err != nil {
		return nil, err
	}

	var stations []database.SubwayStation
	for _, rec := range records {
		lat, lng, ok := opendata.ProbeCoordinates(rec)
		if !ok {
			continue
		}
		name, ok := opendata.ProbeString(rec, "name", "station_name", "stop_name")
		if !ok {
			continue
		}
		lines, _ := opendata.ProbeString(rec, "line", "daytime_routes", "routes")
		id, ok := opendata.ProbeString(rec, "objectid", "station_id", "url")
		if !ok {
			id = fmt.Sprintf("%s|%f,%f", strings.ToLower(name), lat, lng)
		}

		stations = append(stations, database.SubwayStation{
			ID:      id,
			Name:    name,
			Lat:     lat,
			Lng:     lng,
			Lines:   lines,
			Borough: geo.DeriveBorough(lat, lng),
		})
	}
	return stations, nil
}

// fallbackStations is the fixed set of major stations spanning all five
// boroughs, used when the transit dataset is unreachable or empty.
func fallbackStations() []database.SubwayStation {
	raw := []struct {
		id, name, lines, borough string
		lat, lng                 float64
	}{
		{"fb-times-sq", "Times Sq-42 St", "N,Q,R,W,S,1,2,3,7", geo.Manhattan, 40.7557, -73.9871},
		{"fb-grand-central", "Grand Central-42 St", "4,5,6,7,S", geo.Manhattan, 40.7527, -73.9772},
		{"fb-union-sq", "14 St-Union Sq", "4,5,6,L,N,Q,R,W", geo.Manhattan, 40.7347, -73.9897},
		{"fb-86-lex", "86th St (Lexington Av)", "4,5,6", geo.Manhattan, 40.7794, -73.9554},
		{"fb-125-st", "125 St", "4,5,6", geo.Manhattan, 40.8041, -73.9377},
		{"fb-34-herald", "34 St-Herald Sq", "B,D,F,M,N,Q,R,W", geo.Manhattan, 40.7497, -73.9878},
		{"fb-fulton", "Fulton St", "2,3,4,5,A,C,J,Z", geo.Manhattan, 40.7102, -74.0076},
		{"fb-72-bwy", "72 St (Broadway)", "1,2,3", geo.Manhattan, 40.7785, -73.9820},
		{"fb-atlantic", "Atlantic Av-Barclays Ctr", "B,D,N,Q,R,2,3,4,5", geo.Brooklyn, 40.6840, -73.9772},
		{"fb-jay-st", "Jay St-MetroTech", "A,C,F,R", geo.Brooklyn, 40.6923, -73.9875},
		{"fb-bedford", "Bedford Av", "L", geo.Brooklyn, 40.7172, -73.9567},
		{"fb-church-av", "Church Av", "B,Q", geo.Brooklyn, 40.6504, -73.9629},
		{"fb-coney", "Coney Island-Stillwell Av", "D,F,N,Q", geo.Brooklyn, 40.5774, -73.9812},
		{"fb-court-sq", "Court Sq", "E,G,M,7", geo.Queens, 40.7470, -73.9454},
		{"fb-jackson-hts", "Jackson Hts-Roosevelt Av", "E,F,M,R,7", geo.Queens, 40.7465, -73.8912},
		{"fb-flushing", "Flushing-Main St", "7", geo.Queens, 40.7596, -73.8301},
		{"fb-jamaica", "Jamaica Center-Parsons/Archer", "E,J,Z", geo.Queens, 40.7022, -73.8010},
		{"fb-yankee", "161 St-Yankee Stadium", "B,D,4", geo.Bronx, 40.8279, -73.9258},
		{"fb-fordham", "Fordham Rd", "B,D", geo.Bronx, 40.8612, -73.9010},
		{"fb-st-george", "St George (SIR)", "SIR", geo.StatenIsland, 40.6437, -74.0736},
	}

	stations := make([]database.SubwayStation, 0, len(raw))
	for _, r := range raw {
		stations = append(stations, database.SubwayStation{
			ID:      r.id,
			Name:    r.name,
			Lat:     r.lat,
			Lng:     r.lng,
			Lines:   r.lines,
			Borough: r.borough,
		})
	}
	return stations
}
