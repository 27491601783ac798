package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	return nil
}

// UpsertStations bulk-upserts subway stations by id. Idempotent, so
// concurrent cold-cache populates at worst repeat work.
func (db *DB) UpsertStations(stations []SubwayStation) error {
	if len(stations) == 0 {
		return nil
	}

	const batchSize = 100
	for i := 0; i < len(stations); i += batchSize {
		end := i + batchSize
		if end > len(stations) {
			end = len(stations)
		}
		if err := db.upsertStationBatch(stations[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) upsertStationBatch(batch []SubwayStation) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*6)

	for idx, s := range batch {
		base := idx * 6
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6))
		valueArgs = append(valueArgs, s.ID, s.Name, s.Lat, s.Lng, s.Lines, s.Borough)
	}

	query := fmt.Sprintf(`
		INSERT INTO subway_stations (id, name, lat, lng, lines, borough)
		VALUES %s
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    lines = EXCLUDED.lines,
		    borough = EXCLUDED.borough,
		    last_updated = CURRENT_TIMESTAMP
	`, strings.Join(valueStrings, ","))

	_, err := db.Exec(query, valueArgs...)
	return err
}

// ListStations returns every cached subway station.
func (db *DB) ListStations() ([]SubwayStation, error) {
	rows, err := db.Query(`
		SELECT id, name, lat, lng, lines, borough, last_updated
		FROM subway_stations
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []SubwayStation
	for rows.Next() {
		var s SubwayStation
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng, &s.Lines, &s.Borough, &s.LastUpdated); err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

// ListingsInBox returns internal-store listings inside a lat/lng box.
// Callers apply the exact haversine filter on top.
func (db *DB) ListingsInBox(minLat, maxLat, minLng, maxLng float64) ([]Listing, error) {
	rows, err := db.Query(`
		SELECT id, address, unit, price, bedrooms, bathrooms, square_feet,
		       property_type, lat, lng, sold_date, created_at
		FROM listings
		WHERE lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4
	`, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(
			&l.ID, &l.Address, &l.Unit, &l.Price, &l.Bedrooms, &l.Bathrooms,
			&l.SquareFeet, &l.PropertyType, &l.Lat, &l.Lng, &l.SoldDate, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// InsertSchoolAudit inserts a school score audit row. The id is
// pre-generated by the caller.
func (db *DB) InsertSchoolAudit(audit *SchoolScoreAudit) error {
	_, err := db.Exec(`
		INSERT INTO school_score_audits (
			id, lat, lng, borough, school_dbn, school_name,
			composite_rating, borough_median, score, data_source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		audit.ID, audit.Lat, audit.Lng, audit.Borough, audit.SchoolDBN,
		audit.SchoolName, audit.CompositeRating, audit.BoroughMedian,
		audit.Score, audit.DataSource,
	)
	return err
}

// GetBoroughMedian retrieves the persisted median for a borough.
// Returns nil when no row exists yet.
func (db *DB) GetBoroughMedian(borough string) (*BoroughSchoolMedian, error) {
	var m BoroughSchoolMedian
	err := db.QueryRow(`
		SELECT borough, median_rating, updated_at
		FROM borough_school_medians
		WHERE borough = $1
	`, borough).Scan(&m.Borough, &m.MedianRating, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertBoroughMedian inserts or updates a borough median.
func (db *DB) UpsertBoroughMedian(borough string, median float64) error {
	_, err := db.Exec(`
		INSERT INTO borough_school_medians (borough, median_rating)
		VALUES ($1, $2)
		ON CONFLICT (borough) DO UPDATE
		SET median_rating = EXCLUDED.median_rating,
		    updated_at = CURRENT_TIMESTAMP
	`, borough, median)
	return err
}

// InsertEnrichmentAudit inserts an enrichment audit row.
func (db *DB) InsertEnrichmentAudit(audit *EnrichmentAudit) error {
	_, err := db.Exec(`
		INSERT INTO enrichment_audits (
			id, lat, lng, address, borough,
			subway_score, walkability_score, noise_score, parking_score, school_score,
			overall_score, nearest_station, nearest_station_miles, data_source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		audit.ID, audit.Lat, audit.Lng, audit.Address, audit.Borough,
		audit.SubwayScore, audit.WalkabilityScore, audit.NoiseScore,
		audit.ParkingScore, audit.SchoolScore, audit.OverallScore,
		audit.NearestStation, audit.NearestStationMiles, audit.DataSource,
	)
	return err
}

// InsertMarketAudit inserts a market analysis audit row.
func (db *DB) InsertMarketAudit(audit *MarketAnalysisAudit) error {
	_, err := db.Exec(`
		INSERT INTO market_analysis_audits (
			id, address, lat, lng, bedrooms, bathrooms, square_feet, property_type,
			asking_price, market_score, fair_value, price_gap_pct, market_trend,
			comparable_count, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		audit.ID, audit.Address, audit.Lat, audit.Lng, audit.Bedrooms,
		audit.Bathrooms, audit.SquareFeet, audit.PropertyType, audit.AskingPrice,
		audit.MarketScore, audit.FairValue, audit.PriceGapPct, audit.MarketTrend,
		audit.ComparableCount, audit.Confidence,
	)
	return err
}

// InsertComparables inserts the child comparable rows for an audit.
// The parent audit row must already exist.
func (db *DB) InsertComparables(comps []MarketComparable) error {
	if len(comps) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(comps))
	valueArgs := make([]interface{}, 0, len(comps)*11)
	for idx, c := range comps {
		base := idx * 11
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6,
				base+7, base+8, base+9, base+10, base+11))
		valueArgs = append(valueArgs,
			c.AuditID, c.Address, c.Unit, c.Price, c.Bedrooms, c.Bathrooms,
			c.SquareFeet, c.SoldDate, c.DistanceMiles, c.Similarity, c.DataSource)
	}

	query := fmt.Sprintf(`
		INSERT INTO market_comparables (
			audit_id, address, unit, price, bedrooms, bathrooms,
			square_feet, sold_date, distance_miles, similarity, data_source
		) VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := db.Exec(query, valueArgs...)
	return err
}

// InsertScoreStat inserts one analytics row from the score event stream.
func (db *DB) InsertScoreStat(stat *BoroughScoreStat) error {
	_, err := db.Exec(`
		INSERT INTO borough_score_stats (borough, overall_score, kind, event_time)
		VALUES ($1, $2, $3, $4)
	`, stat.Borough, stat.OverallScore, stat.Kind, stat.EventTime)
	return err
}

// SummarizeEnrichmentDay aggregates enrichment audits for one calendar day.
func (db *DB) SummarizeEnrichmentDay(date time.Time) ([]BoroughDailySummary, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := db.Query(`
		SELECT borough,
		       AVG(overall_score),
		       MIN(overall_score),
		       MAX(overall_score),
		       COUNT(*)
		FROM enrichment_audits
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY borough
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []BoroughDailySummary
	for rows.Next() {
		s := BoroughDailySummary{Date: dayStart}
		if err := rows.Scan(&s.Borough, &s.AvgOverall, &s.MinOverall, &s.MaxOverall, &s.SampleCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// UpsertDailySummary writes one borough/day summary row.
func (db *DB) UpsertDailySummary(s *BoroughDailySummary) error {
	_, err := db.Exec(`
		INSERT INTO borough_daily_summaries (borough, date, avg_overall, min_overall, max_overall, sample_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (borough, date) DO UPDATE
		SET avg_overall = EXCLUDED.avg_overall,
		    min_overall = EXCLUDED.min_overall,
		    max_overall = EXCLUDED.max_overall,
		    sample_count = EXCLUDED.sample_count
	`, s.Borough, s.Date, s.AvgOverall, s.MinOverall, s.MaxOverall, s.SampleCount)
	return err
}
