package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/protocol"
)

// StatStore persists per-event borough score rows.
type StatStore interface {
	InsertScoreStat(stat *database.BoroughScoreStat) error
}

// BatchWriter consumes score events from Kafka and batch-writes them to
// the borough_score_stats table.
type BatchWriter struct {
	consumer      *Consumer
	store         StatStore
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer *Consumer, store StatStore, batchSize int, flushInterval time.Duration) *BatchWriter {
	return &BatchWriter{
		consumer:      consumer,
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the database
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop stops the batch writer gracefully
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, 10)
	go func() {
		for {
			msg, err := bw.consumer.Consume(ctx)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-bw.stopCh:
					return
				default:
				}
				log.Printf("eventwriter: consumer error: %v", err)
				continue
			}
			select {
			case msgChan <- msg:
			case <-bw.stopCh:
				return
			}
		}
	}()

	for {
		select {
		case <-bw.stopCh:
			bw.flush(ctx, batch)
			return

		case <-ticker.C:
			bw.flush(ctx, batch)
			batch = nil

		case msg := <-msgChan:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	successCount := 0
	for _, msg := range batch {
		if err := bw.processMessage(msg); err != nil {
			log.Printf("eventwriter: failed to process message: %v", err)
			continue
		}
		successCount++

		// Commit offset only after the row is persisted.
		if err := bw.consumer.Commit(ctx, msg); err != nil {
			log.Printf("eventwriter: failed to commit offset: %v", err)
		}
	}

	log.Printf("eventwriter: flushed %d/%d score events", successCount, len(batch))
}

func (bw *BatchWriter) processMessage(msg kafka.Message) error {
	event, err := protocol.DecodeScoreEvent(msg.Value)
	if err != nil {
		return err
	}

	return bw.store.InsertScoreStat(&database.BoroughScoreStat{
		Borough:      event.Borough,
		OverallScore: event.OverallScore,
		Kind:         event.Kind,
		EventTime:    event.Timestamp,
	})
}
