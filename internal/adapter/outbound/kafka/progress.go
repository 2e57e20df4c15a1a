package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uniedit/mediaflow/internal/module/media/progress"
)

const writeTimeout = 5 * time.Second

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a writer keyed by job ID so one job's events stay ordered
// within a partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// ProgressPublisher writes progress events to a Kafka topic.
type ProgressPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewProgressPublisher creates a new Kafka progress publisher.
func NewProgressPublisher(writer MessageWriter, logger *zap.Logger) *ProgressPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressPublisher{writer: writer, logger: logger.Named("kafka-progress")}
}

// OnProgress implements progress.Sink.
func (p *ProgressPublisher) OnProgress(e progress.Event) {
	value, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("failed to encode progress event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(e.JobID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(e.Stage)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("failed to write progress event",
			zap.String("job_id", e.JobID),
			zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *ProgressPublisher) Close() error {
	return p.writer.Close()
}

// Compile-time interface check
var _ progress.Sink = (*ProgressPublisher)(nil)
