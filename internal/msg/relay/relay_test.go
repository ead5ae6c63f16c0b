package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/dispatch"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/pkg/kafka"
)

type fakeConsumer struct {
	messages chan *kafka.MessageWithMarkFunc
	once     sync.Once
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{messages: make(chan *kafka.MessageWithMarkFunc)}
}

func (c *fakeConsumer) Run()                                         {}
func (c *fakeConsumer) Messages() <-chan *kafka.MessageWithMarkFunc { return c.messages }
func (c *fakeConsumer) Info() <-chan string                          { return nil }

func (c *fakeConsumer) Shutdown() error {
	c.once.Do(func() { close(c.messages) })
	return nil
}

type fakeDelivery struct {
	mu   sync.Mutex
	seen map[string]bool
	got  []string
}

func (d *fakeDelivery) Deliver(_ context.Context, env *model.Envelope) (dispatch.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[env.MessageID] {
		return dispatch.Result{}, apperrors.ErrDuplicate
	}
	d.seen[env.MessageID] = true
	d.got = append(d.got, env.MessageID)

	return dispatch.Result{MessageID: env.MessageID}, nil
}

func message(key, value string, marked chan<- string) *kafka.MessageWithMarkFunc {
	return &kafka.MessageWithMarkFunc{
		Message: &sarama.ConsumerMessage{Key: []byte(key), Value: []byte(value)},
		Mark:    func() { marked <- key },
	}
}

func TestSubscriberDeliversAndMarksEverything(t *testing.T) {
	consumer := newFakeConsumer()
	delivery := &fakeDelivery{seen: map[string]bool{}}
	sub := NewSubscriber(zap.NewNop(), Config{}, consumer, delivery)

	done := make(chan struct{})
	go func() {
		sub.Run(context.Background())
		close(done)
	}()

	marked := make(chan string, 3)
	consumer.messages <- message("m1", `{"message_id":"m1","group_id":"g"}`, marked)
	consumer.messages <- message("m1", `{"message_id":"m1","group_id":"g"}`, marked)
	consumer.messages <- message("bad", `{"message_id":`, marked)

	for i := 0; i < 3; i++ {
		select {
		case <-marked:
		case <-time.After(5 * time.Second):
			t.Fatal("message was not marked")
		}
	}

	require.NoError(t, sub.Stop())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}

	delivery.mu.Lock()
	defer delivery.mu.Unlock()
	assert.Equal(t, []string{"m1"}, delivery.got)
}

type blockingDelivery struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (d *blockingDelivery) Deliver(ctx context.Context, env *model.Envelope) (dispatch.Result, error) {
	close(d.started)
	<-d.release
	d.ctxErr = ctx.Err()

	return dispatch.Result{MessageID: env.MessageID}, nil
}

func TestSubscriberFinishesDeliveryOnCancel(t *testing.T) {
	consumer := newFakeConsumer()
	delivery := &blockingDelivery{started: make(chan struct{}), release: make(chan struct{})}
	sub := NewSubscriber(zap.NewNop(), Config{WorkerCount: 2}, consumer, delivery)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sub.Run(ctx)
		close(done)
	}()

	marked := make(chan string, 1)
	consumer.messages <- message("m1", `{"message_id":"m1","group_id":"g"}`, marked)

	select {
	case <-delivery.started:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not start")
	}

	cancel()

	select {
	case <-done:
		t.Fatal("relay returned while a delivery was running")
	case <-time.After(100 * time.Millisecond):
	}

	stopped := make(chan error, 1)
	go func() { stopped <- sub.Stop() }()

	close(delivery.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}

	<-done
	assert.NoError(t, delivery.ctxErr, "the handler must not see the shutdown")
	assert.Equal(t, "m1", <-marked)
}

func TestStopWithoutRun(t *testing.T) {
	sub := NewSubscriber(zap.NewNop(), Config{}, newFakeConsumer(), &fakeDelivery{seen: map[string]bool{}})

	assert.NoError(t, sub.Stop())
}
