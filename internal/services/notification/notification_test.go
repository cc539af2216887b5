package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"vtupay/internal/repositories/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu       sync.Mutex
	got      []Message
	failures int
}

func (s *recordingSender) Deliver(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp down")
	}
	s.got = append(s.got, msg)
	return nil
}

func (s *recordingSender) delivered() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

func newDedupStore(t *testing.T) *cache.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewStore(client)
}

func TestMessageConstructors(t *testing.T) {
	a := Email(KindOTP, "a@example.com", "Your code", "123456")
	b := Email(KindOTP, "a@example.com", "Your code", "123456")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, ChannelEmail, a.Channel)

	s := SMS(KindPurchase, "08012345678", "done")
	assert.Equal(t, ChannelSMS, s.Channel)
	assert.Len(t, s.ID, 26)
}

func TestWorker_DeliversOnceUnderRedelivery(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{}
	w := NewWorker(NewMemoryQueue(10, 3, nil), newDedupStore(t), sender, nil)

	msg := Email(KindWalletFunded, "a@example.com", "Funded", "NGN 50.00")
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Handle(ctx, msg))
	}
	assert.Len(t, sender.delivered(), 1)
}

func TestWorker_FailedDeliveryIsRetried(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{failures: 1}
	w := NewWorker(NewMemoryQueue(10, 3, nil), newDedupStore(t), sender, nil)

	msg := SMS(KindPurchase, "080", "airtime sent")
	assert.Error(t, w.Handle(ctx, msg))
	require.NoError(t, w.Handle(ctx, msg))
	assert.Len(t, sender.delivered(), 1)
}

func TestMemoryQueue_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewMemoryQueue(10, 3, nil)
	sender := &recordingSender{failures: 1}
	w := NewWorker(q, newDedupStore(t), sender, nil)
	d := NewDispatcher(q, nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, d.Send(ctx, Email(KindRefund, "a@example.com", "Refund", "refunded")))
	require.NoError(t, d.Send(ctx, Email(KindRefund, "b@example.com", "Refund", "refunded")))

	assert.Eventually(t, func() bool { return len(sender.delivered()) == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestMemoryQueue_PublishWhenFull(t *testing.T) {
	q := NewMemoryQueue(1, 1, nil)
	require.NoError(t, q.Publish(context.Background(), SMS(KindOTP, "1", "x")))
	assert.ErrorIs(t, q.Publish(context.Background(), SMS(KindOTP, "2", "y")), ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.pending) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.pending[0]
	r.pending = r.pending[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func kafkaMessage(t *testing.T, offset int64, msg Message) kafka.Message {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

func TestKafkaQueue_ConsumeSkipsFailedDeliveries(t *testing.T) {
	reader := &fakeReader{pending: []kafka.Message{
		kafkaMessage(t, 1, SMS(KindOTP, "080", "code 1")),
		{Offset: 2, Value: []byte("not json")},
		kafkaMessage(t, 3, SMS(KindOTP, "081", "code 2")),
	}}
	q := &KafkaQueue{reader: reader, logger: zap.NewNop(), retryBackoff: time.Millisecond}

	var handled []string
	err := q.Consume(context.Background(), func(_ context.Context, msg Message) error {
		handled = append(handled, msg.To)
		if msg.To == "080" {
			return errors.New("sms gateway down")
		}
		return nil
	})

	require.NoError(t, err, "a failing handler must not stop the consumer")
	assert.Equal(t, []string{"080", "080", "080", "081"}, handled)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestKafkaQueue_ConsumeStopsQuietlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{pending: []kafka.Message{kafkaMessage(t, 7, SMS(KindOTP, "080", "code"))}}
	q := &KafkaQueue{reader: reader, logger: zap.NewNop(), retryBackoff: time.Hour}

	err := q.Consume(ctx, func(context.Context, Message) error {
		cancel()
		return errors.New("interrupted")
	})

	require.NoError(t, err)
	assert.Empty(t, reader.committed, "an interrupted message is left for redelivery")
}
