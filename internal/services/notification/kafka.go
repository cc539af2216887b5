package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"vtupay/internal/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// messageReader is the part of *kafka.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes with a synchronous writer and consumes with a
// consumer-group reader. A message is committed once handled or once its
// retries are spent; delivery failures never stop the consumer.
type KafkaQueue struct {
	writer       *kafka.Writer
	reader       messageReader
	logger       *zap.Logger
	retryBackoff time.Duration
}

func NewKafkaQueue(cfg KafkaConfig, log *zap.Logger) *KafkaQueue {
	log = logger.OrNop(log)
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0, // commit synchronously after each handled message
	})
	return &KafkaQueue{writer: writer, reader: reader, logger: log, retryBackoff: 200 * time.Millisecond}
}

func (q *KafkaQueue) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: data,
		Time:  time.Now(),
	})
}

// Consume returns only when ctx is done or the reader is closed.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	for {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch notification: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			q.logger.Error("discarding malformed notification",
				zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition), zap.Error(err))
			q.commit(ctx, m)
			continue
		}

		if err := q.handleWithRetry(ctx, h, msg); err != nil {
			if ctx.Err() != nil {
				// Uncommitted; the group redelivers it after restart.
				return nil
			}
			deliveries.WithLabelValues(string(msg.Channel), "dropped").Inc()
			q.logger.Error("dropping notification after retries",
				zap.String("id", msg.ID), zap.String("kind", msg.Kind),
				zap.Int64("offset", m.Offset), zap.Error(err))
		}
		q.commit(ctx, m)
	}
}

// commit failures only mean a redelivery, which the worker deduplicates.
func (q *KafkaQueue) commit(ctx context.Context, m kafka.Message) {
	if err := q.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		q.logger.Warn("failed to commit notification offset",
			zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition), zap.Error(err))
	}
}

func (q *KafkaQueue) handleWithRetry(ctx context.Context, h Handler, msg Message) error {
	backoff := q.retryBackoff
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		msg.Attempt = attempt
		if err = h(ctx, msg); err == nil {
			return nil
		}
		q.logger.Warn("notification handler failed",
			zap.String("id", msg.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == 3 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (q *KafkaQueue) Close() error {
	return errors.Join(q.writer.Close(), q.reader.Close())
}
