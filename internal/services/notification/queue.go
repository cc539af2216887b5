package notification

import (
	"context"
	"errors"
	"fmt"

	"vtupay/internal/logger"

	"go.uber.org/zap"
)

// Handler processes one message. Returning an error asks the queue to
// deliver the message again.
type Handler func(ctx context.Context, msg Message) error

// Queue is an at-least-once work queue.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	// Consume blocks, feeding messages to h until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Close() error
}

var ErrQueueFull = errors.New("notification queue is full")

// MemoryQueue is an in-process queue for development and tests. Messages
// are lost on restart.
type MemoryQueue struct {
	ch          chan Message
	maxAttempts int
	logger      *zap.Logger
}

func NewMemoryQueue(size, maxAttempts int, log *zap.Logger) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &MemoryQueue{
		ch:          make(chan Message, size),
		maxAttempts: maxAttempts,
		logger:      logger.OrNop(log),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-q.ch:
			if err := h(ctx, msg); err != nil {
				msg.Attempt++
				if msg.Attempt >= q.maxAttempts {
					q.logger.Error("dropping notification after retries",
						zap.String("id", msg.ID), zap.Int("attempts", msg.Attempt), zap.Error(err))
					continue
				}
				if perr := q.Publish(ctx, msg); perr != nil {
					q.logger.Error("failed to requeue notification", zap.String("id", msg.ID), zap.Error(perr))
				}
			}
		}
	}
}

// Len reports the number of queued messages.
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Close() error { return nil }

// Dispatcher is the Notifier used by services: it only publishes.
type Dispatcher struct {
	queue  Queue
	logger *zap.Logger
}

func NewDispatcher(queue Queue, log *zap.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, logger: logger.OrNop(log)}
}

func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if err := d.queue.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish notification %s: %w", msg.ID, err)
	}
	d.logger.Debug("notification queued",
		zap.String("id", msg.ID), zap.String("kind", msg.Kind), zap.String("channel", string(msg.Channel)))
	return nil
}
