package cdc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chain-indexer/internal/metrics"
)

// DefaultMaxRetries is how many times a failed event is republished to its error topic
const DefaultMaxRetries = 5

// TopicHandler reacts to the change events of one table topic
type TopicHandler interface {
	Topic() string
	HandleInsert(ctx context.Context, change Insert) error
	HandleUpdate(ctx context.Context, change Update) error
	HandleDelete(ctx context.Context, change Delete) error
}

// Topics returns the topics a handler consumes: its own and its error topic
func Topics(h TopicHandler) []string {
	return []string{h.Topic(), ErrorTopic(h.Topic())}
}

// Message is one record read from the change log
type Message struct {
	Topic string
	ID    string
	Value []byte
}

// MessageFunc handles one message. Handler failures are routed through the
// retry topics; an error means the message reached no topic and has to be
// delivered again.
type MessageFunc func(ctx context.Context, msg Message) error

// Log is an ordered, partitioned change log
type Log interface {
	Subscribe(ctx context.Context, topics []string) error
	// Consume delivers messages to fn until ctx is done. Messages of one
	// partition are delivered sequentially; at most partitionConcurrency
	// partitions are handled at once.
	Consume(ctx context.Context, partitionConcurrency int, fn MessageFunc) error
	Publish(ctx context.Context, topic string, value []byte) error
}

// ErrRepublish is returned when a failed event could not be republished
var ErrRepublish = errors.New("republish failed")

// ConsumerOptions tune a Consumer
type ConsumerOptions struct {
	// MaxRetries defaults to DefaultMaxRetries when not positive
	MaxRetries           int
	PartitionConcurrency int
}

// Consumer dispatches change events to their topic handlers
type Consumer struct {
	log     Log
	routes  map[string]TopicHandler
	topics  []string
	opts    ConsumerOptions
	logger  *zap.Logger
	metrics metrics.CDC
}

// NewConsumer creates a consumer. Each topic may be owned by one handler only.
func NewConsumer(log Log, handlers []TopicHandler, opts ConsumerOptions, logger *zap.Logger) (*Consumer, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.PartitionConcurrency < 1 {
		opts.PartitionConcurrency = 1
	}

	c := &Consumer{
		log:     log,
		routes:  make(map[string]TopicHandler),
		opts:    opts,
		logger:  logger.Named("cdc"),
		metrics: metrics.NewCDC(),
	}
	for _, h := range handlers {
		for _, topic := range Topics(h) {
			if _, exists := c.routes[topic]; exists {
				return nil, fmt.Errorf("topic %s has more than one handler", topic)
			}
			c.routes[topic] = h
			c.topics = append(c.topics, topic)
		}
	}
	return c, nil
}

// Topics returns every topic the consumer subscribes to
func (c *Consumer) Topics() []string {
	return append([]string(nil), c.topics...)
}

// Run subscribes and consumes until ctx is done
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.log.Subscribe(ctx, c.topics); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.logger.Info("consuming change events",
		zap.Strings("topics", c.topics),
		zap.Int("partition_concurrency", c.opts.PartitionConcurrency),
		zap.Int("max_retries", c.opts.MaxRetries))

	return c.log.Consume(ctx, c.opts.PartitionConcurrency, c.HandleMessage)
}

// HandleMessage routes one message through its handler and the retry
// protocol. It fails only when a failed event could not be republished.
func (c *Consumer) HandleMessage(ctx context.Context, msg Message) error {
	started := time.Now()
	logger := c.logger.With(zap.String("topic", msg.Topic), zap.String("message_id", msg.ID))

	if IsDeadLetterTopic(msg.Topic) {
		c.metrics.ObserveMessage(msg.Topic, metrics.CDCSkipped, started)
		return nil
	}

	h, ok := c.routes[msg.Topic]
	if !ok {
		logger.Warn("no handler for topic")
		c.metrics.ObserveMessage(msg.Topic, metrics.CDCDropped, started)
		return nil
	}

	env, err := ParseEnvelope(msg.Value)
	if err != nil {
		logger.Error("dropping malformed change event", zap.Error(err))
		c.metrics.ObserveMessage(msg.Topic, metrics.CDCDropped, started)
		return nil
	}

	change, err := env.Payload.Change()
	if err != nil {
		logger.Error("dropping change event", zap.String("event", env.Name), zap.Error(err))
		c.metrics.ObserveMessage(msg.Topic, metrics.CDCDropped, started)
		return nil
	}

	if err := dispatch(ctx, h, change); err != nil {
		outcome, republishErr := c.republish(ctx, h.Topic(), env, err, logger)
		if republishErr != nil {
			c.metrics.ObserveMessage(msg.Topic, metrics.CDCRedeliver, started)
			return republishErr
		}
		c.metrics.ObserveMessage(msg.Topic, outcome, started)
		return nil
	}
	c.metrics.ObserveMessage(msg.Topic, metrics.CDCHandled, started)
	return nil
}

func dispatch(ctx context.Context, h TopicHandler, change Change) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()

	switch ch := change.(type) {
	case Insert:
		return h.HandleInsert(ctx, ch)
	case Update:
		return h.HandleUpdate(ctx, ch)
	case Delete:
		return h.HandleDelete(ctx, ch)
	default:
		return errors.New("unsupported change variant")
	}
}

// republish sends a failed event to the error topic, or to the dead-letter
// topic once its retry count passes the ceiling
func (c *Consumer) republish(ctx context.Context, topic string, env *Envelope, cause error, logger *zap.Logger) (string, error) {
	event := env.Payload
	event.RetryCount++

	target, outcome := ErrorTopic(topic), metrics.CDCRetried
	if event.RetryCount > c.opts.MaxRetries {
		target, outcome = DeadLetterTopic(topic), metrics.CDCDeadLettered
	}

	logger.Error("error handling change event",
		zap.String("event", env.Name),
		zap.String("op", string(event.Op)),
		zap.String("send_to", target),
		zap.Int("retry_count", event.RetryCount),
		zap.Error(cause))

	value, err := json.Marshal(Envelope{Name: env.Name, Error: cause.Error(), Payload: event})
	if err != nil {
		return outcome, fmt.Errorf("%w: encode: %v", ErrRepublish, err)
	}
	if err := c.log.Publish(ctx, target, value); err != nil {
		logger.Error("failed to republish change event, leaving it for redelivery", zap.String("send_to", target), zap.Error(err))
		return outcome, fmt.Errorf("%w to %s: %v", ErrRepublish, target, err)
	}
	return outcome, nil
}
