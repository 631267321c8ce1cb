package cdc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Replicated table topics.
const (
	FillEventsTopic   = "indexer.public.fill_events_2"
	NftApprovalsTopic = "indexer.public.nft_approvals"
)

// Publisher delivers messages to downstream subscribers
type Publisher interface {
	Publish(ctx context.Context, channel string, message []byte) error
}

// RedisPublisher publishes on Redis pub/sub channels
type RedisPublisher struct {
	rdb redis.UniversalClient
}

// NewRedisPublisher creates a publisher
func NewRedisPublisher(rdb redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, channel string, message []byte) error {
	return p.rdb.Publish(ctx, channel, message).Err()
}

// Enricher derives tags for a row before it is published
type Enricher interface {
	Enrich(ctx context.Context, row json.RawMessage) (map[string]interface{}, error)
}

// DownstreamEvent is the message published for a handled change
type DownstreamEvent struct {
	Event string                 `json:"event"`
	Tags  map[string]interface{} `json:"tags"`
	Data  json.RawMessage        `json:"data"`
}

// EventsHandler republishes inserted and updated rows as named events
type EventsHandler struct {
	topic       string
	channel     string
	insertEvent string
	updateEvent string
	publisher   Publisher
	enricher    Enricher
	logger      *zap.Logger
}

// EventsHandlerOption configures an EventsHandler
type EventsHandlerOption func(*EventsHandler)

// WithEnricher attaches best-effort tags to every published event
func WithEnricher(e Enricher) EventsHandlerOption {
	return func(h *EventsHandler) { h.enricher = e }
}

// NewEventsHandler creates a handler for topic
func NewEventsHandler(topic, insertEvent, updateEvent, channel string, publisher Publisher, logger *zap.Logger, opts ...EventsHandlerOption) *EventsHandler {
	h := &EventsHandler{
		topic:       topic,
		channel:     channel,
		insertEvent: insertEvent,
		updateEvent: updateEvent,
		publisher:   publisher,
		logger:      logger.Named("events_handler").With(zap.String("topic", topic)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewFillEventsHandler publishes sell.created.v2 / sell.updated.v2
func NewFillEventsHandler(channel string, publisher Publisher, logger *zap.Logger, opts ...EventsHandlerOption) *EventsHandler {
	return NewEventsHandler(FillEventsTopic, "sell.created.v2", "sell.updated.v2", channel, publisher, logger, opts...)
}

// NewNftApprovalsHandler publishes approval.created.v2 / approval.updated.v2
func NewNftApprovalsHandler(channel string, publisher Publisher, logger *zap.Logger, opts ...EventsHandlerOption) *EventsHandler {
	return NewEventsHandler(NftApprovalsTopic, "approval.created.v2", "approval.updated.v2", channel, publisher, logger, opts...)
}

// Topic implements TopicHandler
func (h *EventsHandler) Topic() string { return h.topic }

// HandleInsert implements TopicHandler
func (h *EventsHandler) HandleInsert(ctx context.Context, change Insert) error {
	return h.publish(ctx, h.insertEvent, change.After)
}

// HandleUpdate implements TopicHandler
func (h *EventsHandler) HandleUpdate(ctx context.Context, change Update) error {
	return h.publish(ctx, h.updateEvent, change.After)
}

// HandleDelete implements TopicHandler. Deletions are not published.
func (h *EventsHandler) HandleDelete(context.Context, Delete) error {
	return nil
}

func (h *EventsHandler) publish(ctx context.Context, event string, row json.RawMessage) error {
	if row == nil {
		return nil
	}

	tags := map[string]interface{}{}
	if h.enricher != nil {
		enriched, err := h.enricher.Enrich(ctx, row)
		if err != nil {
			h.logger.Warn("enrichment failed, publishing without tags", zap.String("event", event), zap.Error(err))
		} else if enriched != nil {
			tags = enriched
		}
	}

	msg, err := json.Marshal(DownstreamEvent{Event: event, Tags: tags, Data: row})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := h.publisher.Publish(ctx, h.channel, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}
