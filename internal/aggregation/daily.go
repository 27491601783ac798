// Package aggregation rolls enrichment audits up into per-borough daily
// summaries.
package aggregation

import (
	"fmt"
	"log"
	"time"

	"github.com/nycvalue/enrichment-server/internal/database"
)

// SummaryStore is the slice of the database the aggregator needs.
type SummaryStore interface {
	SummarizeEnrichmentDay(date time.Time) ([]database.BoroughDailySummary, error)
	UpsertDailySummary(s *database.BoroughDailySummary) error
}

// DailyAggregator performs daily aggregation
type DailyAggregator struct {
	store SummaryStore
}

// NewDailyAggregator creates a new daily aggregator
func NewDailyAggregator(store SummaryStore) *DailyAggregator {
	return &DailyAggregator{store: store}
}

// Aggregate summarizes enrichment audits for the specified date, one row
// per borough that had any traffic.
func (d *DailyAggregator) Aggregate(targetDate time.Time) error {
	date := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())

	log.Printf("aggregator: running daily aggregation for %s", date.Format("2006-01-02"))

	summaries, err := d.store.SummarizeEnrichmentDay(date)
	if err != nil {
		return fmt.Errorf("failed to summarize enrichment day: %w", err)
	}

	for i := range summaries {
		if err := d.store.UpsertDailySummary(&summaries[i]); err != nil {
			return fmt.Errorf("failed to upsert summary for %s: %w", summaries[i].Borough, err)
		}
	}

	log.Printf("aggregator: daily aggregation completed, %d boroughs processed", len(summaries))
	return nil
}

// AggregatePreviousDay aggregates the previous full day
func (d *DailyAggregator) AggregatePreviousDay() error {
	yesterday := time.Now().AddDate(0, 0, -1)
	return d.Aggregate(yesterday)
}

// CalculateNextRunTime returns the next occurrence of the given "HH:MM"
// time of day.
func (d *DailyAggregator) CalculateNextRunTime(timeOfDay string) (time.Time, error) {
	now := time.Now()

	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}
	return todayRun, nil
}
