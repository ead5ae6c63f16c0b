package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
)

var ErrNoBrokers = errors.New("no kafka brokers configured")

// MessageWithMarkFunc pairs a consumed message with the function committing its offset.
type MessageWithMarkFunc struct {
	Message *sarama.ConsumerMessage
	Mark    func()
}

type ConsumerGroupRunner interface {
	Run()
	Messages() <-chan *MessageWithMarkFunc
	Info() <-chan string
	Shutdown() error
}

type ConsumerOption func(cfg *sarama.Config)

var (
	RoundrobinBalanceStrategy = sarama.NewBalanceStrategyRoundRobin()
	RangeBalanceStrategy      = sarama.NewBalanceStrategyRange()
)

func WithBalancerConsumer(strategy sarama.BalanceStrategy) ConsumerOption {
	return func(cfg *sarama.Config) {
		cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{strategy}
	}
}

func WithOldestOffset() ConsumerOption {
	return func(cfg *sarama.Config) {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
}

type consumerGroupRunner struct {
	group  sarama.ConsumerGroup
	topics []string

	messages chan *MessageWithMarkFunc
	info     chan string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	done    chan struct{}
	once    sync.Once
}

func NewConsumerGroupRunner(brokers []string, groupID string, topics []string, bufferSize int, opts ...ConsumerOption) (ConsumerGroupRunner, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = false
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	for _, opt := range opts {
		opt(cfg)
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &consumerGroupRunner{
		group:    group,
		topics:   topics,
		messages: make(chan *MessageWithMarkFunc, bufferSize),
		info:     make(chan string, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Run blocks, rejoining the group after every rebalance until Shutdown is called.
func (c *consumerGroupRunner) Run() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	defer close(c.done)

	handler := &groupHandler{runner: c}

	for {
		if err := c.group.Consume(c.ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
		}

		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *consumerGroupRunner) Messages() <-chan *MessageWithMarkFunc {
	return c.messages
}

// Info yields one line once the group has joined and claims were assigned.
func (c *consumerGroupRunner) Info() <-chan string {
	return c.info
}

func (c *consumerGroupRunner) Shutdown() error {
	var err error

	c.once.Do(func() {
		c.cancel()

		c.mu.Lock()
		running := c.running
		c.mu.Unlock()

		if running {
			<-c.done
		}

		err = c.group.Close()
		close(c.messages)
	})

	return err
}

type groupHandler struct {
	runner *consumerGroupRunner
	once   sync.Once
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.once.Do(func() {
		parts := make([]string, 0, len(sess.Claims()))
		for topic, partitions := range sess.Claims() {
			parts = append(parts, fmt.Sprintf("%s%v", topic, partitions))
		}

		select {
		case h.runner.info <- fmt.Sprintf("Consumer group started, member %s, claims: %s", sess.MemberID(), strings.Join(parts, ", ")):
		default:
		}
	})

	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			wrapped := &MessageWithMarkFunc{
				Message: msg,
				Mark: func() {
					sess.MarkMessage(msg, "")
				},
			}

			select {
			case h.runner.messages <- wrapped:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}
