package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/protocol"
)

type fakeStatStore struct {
	stats     []*database.BoroughScoreStat
	insertErr error
}

func (f *fakeStatStore) InsertScoreStat(stat *database.BoroughScoreStat) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.stats = append(f.stats, stat)
	return nil
}

func encodedEvent(t *testing.T, borough string, score int) []byte {
	t.Helper()
	data, err := protocol.EncodeScoreEvent(&protocol.ScoreEvent{
		Version:      protocol.EventVersion,
		Kind:         protocol.EventKindEnrichment,
		Borough:      borough,
		OverallScore: score,
		Timestamp:    time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestProcessMessage(t *testing.T) {
	store := &fakeStatStore{}
	bw := NewBatchWriter(nil, store, 10, time.Second)

	msg := kafka.Message{Value: encodedEvent(t, "Queens", 68)}
	if err := bw.processMessage(msg); err != nil {
		t.Fatalf("processMessage: %v", err)
	}

	if len(store.stats) != 1 {
		t.Fatalf("expected 1 stat row, got %d", len(store.stats))
	}
	stat := store.stats[0]
	if stat.Borough != "Queens" || stat.OverallScore != 68 || stat.Kind != protocol.EventKindEnrichment {
		t.Errorf("unexpected stat row: %+v", stat)
	}
}

func TestProcessMessage_BadPayload(t *testing.T) {
	bw := NewBatchWriter(nil, &fakeStatStore{}, 10, time.Second)

	if err := bw.processMessage(kafka.Message{Value: []byte("garbage")}); err == nil {
		t.Error("expected decode error")
	}
}

func TestProcessMessage_StoreError(t *testing.T) {
	store := &fakeStatStore{insertErr: errors.New("db down")}
	bw := NewBatchWriter(nil, store, 10, time.Second)

	if err := bw.processMessage(kafka.Message{Value: encodedEvent(t, "Bronx", 55)}); err == nil {
		t.Error("expected insert error to surface for retry")
	}
}
