package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"

	"github.com/segmentio/kafka-go"
)

// ProgressMessage is the wire form of a progress sample.
type ProgressMessage struct {
	EventID        string    `json:"eventId"`
	EventTimeSec   float64   `json:"eventTimeSec"`
	ObservedPower  float64   `json:"observedPower"`
	ResponseLevel  int       `json:"responseLevel"`
	PublishedAtUTC time.Time `json:"publishedAt"`
}

// MessageWriter is the subset of kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams progress samples to a topic keyed by event id.
type KafkaPublisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaWriter returns a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaPublisher constructs a publisher over writer.
func NewKafkaPublisher(writer MessageWriter) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("progress publisher: nil writer")
	}
	return &KafkaPublisher{writer: writer, now: func() time.Time { return time.Now().UTC() }}, nil
}

// PublishProgress writes one message per sample.
func (p *KafkaPublisher) PublishProgress(ctx context.Context, eventID string, sample coordination.ProgressSample) error {
	if p == nil || p.writer == nil {
		return errors.New("progress publisher: nil publisher")
	}
	payload, err := json.Marshal(ProgressMessage{
		EventID:        eventID,
		EventTimeSec:   sample.EventTime.Seconds(),
		ObservedPower:  sample.ObservedPower,
		ResponseLevel:  sample.Level,
		PublishedAtUTC: p.now(),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(eventID), Value: payload})
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// LoggingPublisher logs progress samples.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishProgress logs the sample.
func (p *LoggingPublisher) PublishProgress(_ context.Context, eventID string, sample coordination.ProgressSample) error {
	if p == nil {
		return errors.New("progress publisher: nil publisher")
	}
	p.logger.Printf("event progress: event=%s event_time=%s power=%.2f level=%d", eventID, sample.EventTime, sample.ObservedPower, sample.Level)
	return nil
}
