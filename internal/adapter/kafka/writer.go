package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

// Writer publishes daily totals to a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes one day's totals in a single WriteMessages call.
// Messages are keyed by station and date so re-runs compact onto the same key.
func (w *Writer) LoadBatch(ctx context.Context, totals []domain.DailyTotal) error {
	if len(totals) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(totals))
	for i := range totals {
		msg, err := serializeToMessage(totals[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d totals: %w", len(msgs), err)
	}
	w.logger.Debug("daily totals published", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

// Name identifies the loader in logs.
func (w *Writer) Name() string {
	return "kafka:" + w.writer.Topic
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// Message is the JSON value of a published daily total.
type Message struct {
	StationID string  `json:"station_id"`
	Date      string  `json:"date"`
	TotalMM   float64 `json:"total_mm"`
	Granules  int     `json:"granules_present"`
}

// serializeToMessage marshals a DailyTotal into a Kafka message. The total is
// rounded like the CSV report.
func serializeToMessage(t domain.DailyTotal) (kafkago.Message, error) {
	data, err := json.Marshal(Message{
		StationID: t.StationID,
		Date:      t.Date.Format(domain.DateLayout),
		TotalMM:   domain.RoundTotal(t.TotalMM),
		Granules:  t.Present,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize daily total: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(t.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station_id", Value: []byte(t.StationID)},
			{Key: "granules_present", Value: []byte(strconv.Itoa(t.Present))},
			{Key: "processed_at", Value: []byte(domain.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
