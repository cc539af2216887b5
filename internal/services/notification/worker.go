package notification

import (
	"context"
	"fmt"
	"time"

	"vtupay/internal/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vtupay_notifications_total",
	Help: "Notification deliveries by channel and result.",
}, []string{"channel", "result"})

// Sender performs the actual delivery (SMTP, SMS gateway, ...).
type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// DedupStore remembers delivered message ids.
type DedupStore interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

const dedupTTL = 24 * time.Hour

// Worker drains a Queue into a Sender. Redelivered messages whose id was
// already delivered are skipped.
type Worker struct {
	queue  Queue
	store  DedupStore
	sender Sender
	logger *zap.Logger
}

func NewWorker(queue Queue, store DedupStore, sender Sender, log *zap.Logger) *Worker {
	return &Worker{queue: queue, store: store, sender: sender, logger: logger.OrNop(log)}
}

// Run blocks until ctx is cancelled or the queue fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("notification worker started")
	defer w.logger.Info("notification worker stopped")
	return w.queue.Consume(ctx, w.Handle)
}

func (w *Worker) Handle(ctx context.Context, msg Message) error {
	key := "notify:done:" + msg.ID
	first, err := w.store.SetIfAbsent(ctx, key, "1", dedupTTL)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !first {
		deliveries.WithLabelValues(string(msg.Channel), "duplicate").Inc()
		w.logger.Debug("notification already delivered", zap.String("id", msg.ID))
		return nil
	}

	if err := w.sender.Deliver(ctx, msg); err != nil {
		deliveries.WithLabelValues(string(msg.Channel), "error").Inc()
		// Forget the id so the redelivery is attempted.
		if derr := w.store.Delete(ctx, key); derr != nil {
			w.logger.Warn("failed to clear dedup marker", zap.String("id", msg.ID), zap.Error(derr))
		}
		return err
	}
	deliveries.WithLabelValues(string(msg.Channel), "delivered").Inc()
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Deliver(_ context.Context, msg Message) error {
	logger.OrNop(s.Logger).Info("notification delivered",
		zap.String("id", msg.ID),
		zap.String("channel", string(msg.Channel)),
		zap.String("kind", msg.Kind),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}
