// Package protocol defines the wire format for score events published to
// the listing.scores topic.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventVersion is the current envelope version. Consumers reject anything
// newer than what they know.
const EventVersion = 1

// Event kinds.
const (
	EventKindEnrichment = "enrichment"
	EventKindMarket     = "market"
)

// ScoreEvent is the message format for score events on Kafka, keyed by
// borough so per-borough ordering holds within a partition.
type ScoreEvent struct {
	Version      int       `json:"version"`
	Kind         string    `json:"kind"`
	Borough      string    `json:"borough"`
	OverallScore int       `json:"overall_score"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Timestamp    time.Time `json:"timestamp"`
}

// EncodeScoreEvent encodes a ScoreEvent to JSON
func EncodeScoreEvent(event *ScoreEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeScoreEvent decodes JSON to ScoreEvent, validating the envelope.
func DecodeScoreEvent(data []byte) (*ScoreEvent, error) {
	var event ScoreEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.Version > EventVersion {
		return nil, fmt.Errorf("unsupported event version %d", event.Version)
	}
	if event.Kind != EventKindEnrichment && event.Kind != EventKindMarket {
		return nil, fmt.Errorf("unknown event kind %q", event.Kind)
	}
	return &event, nil
}
