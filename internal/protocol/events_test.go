package protocol

import (
	"strings"
	"testing"
	"time"
)

func TestScoreEventRoundTrip(t *testing.T) {
	event := &ScoreEvent{
		Version:      EventVersion,
		Kind:         EventKindEnrichment,
		Borough:      "Brooklyn",
		OverallScore: 72,
		Lat:          40.67,
		Lng:          -73.98,
		Timestamp:    time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}

	data, err := EncodeScoreEvent(event)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeScoreEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Borough != "Brooklyn" || got.OverallScore != 72 || got.Kind != EventKindEnrichment {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestDecodeScoreEvent_RejectsUnknown(t *testing.T) {
	if _, err := DecodeScoreEvent([]byte(`{"version":99,"kind":"enrichment"}`)); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("expected version error, got %v", err)
	}
	if _, err := DecodeScoreEvent([]byte(`{"version":1,"kind":"weather"}`)); err == nil || !strings.Contains(err.Error(), "kind") {
		t.Errorf("expected kind error, got %v", err)
	}
	if _, err := DecodeScoreEvent([]byte(`not json`)); err == nil {
		t.Error("expected unmarshal error")
	}
}
