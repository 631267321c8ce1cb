package cdc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chain-indexer/internal/retry"
)

const streamValueField = "value"

// StreamLogConfig configures a StreamLog
type StreamLogConfig struct {
	Group    string
	Consumer string        // stable per process so pending entries survive restarts
	Block    time.Duration // XREADGROUP block time
	Count    int64         // messages per read
	MaxLen   int64         // approximate stream cap on publish, zero keeps everything

	// RedeliverDelay is the pause before pending entries are read again
	// after a message could not be handled
	RedeliverDelay time.Duration
}

// StreamLog is a Log backed by Redis Streams. Every topic is one stream,
// which plays the role of a partition: its entries are handled in order.
type StreamLog struct {
	rdb    redis.UniversalClient
	cfg    StreamLogConfig
	logger *zap.Logger

	mu     sync.Mutex
	topics []string
}

// NewStreamLog creates a stream log
func NewStreamLog(rdb redis.UniversalClient, cfg StreamLogConfig, logger *zap.Logger) *StreamLog {
	if cfg.Consumer == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Consumer = host
		} else {
			cfg.Consumer = uuid.NewString()
		}
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 64
	}
	if cfg.RedeliverDelay <= 0 {
		cfg.RedeliverDelay = time.Second
	}
	return &StreamLog{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.Named("stream_log"),
	}
}

// Subscribe creates the consumer group on every topic
func (l *StreamLog) Subscribe(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		err := l.rdb.XGroupCreateMkStream(ctx, topic, l.cfg.Group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", l.cfg.Group, topic, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.topics = append(l.topics, topics...)
	return nil
}

// Consume implements Log
func (l *StreamLog) Consume(ctx context.Context, partitionConcurrency int, fn MessageFunc) error {
	if partitionConcurrency < 1 {
		partitionConcurrency = 1
	}

	l.mu.Lock()
	topics := append([]string(nil), l.topics...)
	l.mu.Unlock()
	if len(topics) == 0 {
		return errors.New("no topics subscribed")
	}

	slots := make(chan struct{}, partitionConcurrency)
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		topic := topic
		g.Go(func() error {
			l.consumeStream(ctx, topic, slots, fn)
			return nil
		})
	}
	return g.Wait()
}

// consumeStream first drains this consumer's pending entries, then reads new
// ones. A message fn fails on stays pending and the stream goes back to
// reading pending entries, so the stream order is kept.
func (l *StreamLog) consumeStream(ctx context.Context, topic string, slots chan struct{}, fn MessageFunc) {
	logger := l.logger.With(zap.String("topic", topic))
	lastID := "0"

	for ctx.Err() == nil {
		streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    l.cfg.Group,
			Consumer: l.cfg.Consumer,
			Streams:  []string{topic, lastID},
			Count:    l.cfg.Count,
			Block:    l.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			lastID = ">"
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("stream read failed", zap.Error(err))
			_ = retry.Sleep(ctx, time.Second)
			continue
		}

		var batch []redis.XMessage
		for _, s := range streams {
			batch = append(batch, s.Messages...)
		}
		if len(batch) == 0 {
			lastID = ">"
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		failed := false
		for _, m := range batch {
			if err := fn(ctx, Message{Topic: topic, ID: m.ID, Value: messageValue(m)}); err != nil {
				logger.Warn("message left pending for redelivery", zap.String("message_id", m.ID), zap.Error(err))
				failed = true
				break
			}
			if err := l.rdb.XAck(ctx, topic, l.cfg.Group, m.ID).Err(); err != nil {
				logger.Warn("ack failed", zap.String("message_id", m.ID), zap.Error(err))
			}
		}
		<-slots

		if failed {
			lastID = "0"
			_ = retry.Sleep(ctx, l.cfg.RedeliverDelay)
		}
	}
}

func messageValue(m redis.XMessage) []byte {
	switch v := m.Values[streamValueField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// Publish appends value to topic
func (l *StreamLog) Publish(ctx context.Context, topic string, value []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{streamValueField: string(value)},
	}
	if l.cfg.MaxLen > 0 {
		args.MaxLen = l.cfg.MaxLen
		args.Approx = true
	}
	return l.rdb.XAdd(ctx, args).Err()
}
