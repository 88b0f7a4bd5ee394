package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrMalformedMessage = errors.New("malformed stream message")

// StreamReader is the subset of the redis client the consumer needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// SearchHandler receives every decoded search-completed event. Returning an
// error leaves the message pending for redelivery.
type SearchHandler func(ctx context.Context, messageID string, payload SearchCompletedPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Block    time.Duration
	Count    int64
	ErrPause time.Duration
}

func DefaultConsumerConfig(stream string) ConsumerConfig {
	return ConsumerConfig{
		Stream:   stream,
		Group:    "price-search-consumers",
		Name:     "consumer-1",
		Block:    5 * time.Second,
		Count:    10,
		ErrPause: time.Second,
	}
}

type Consumer struct {
	redis   StreamReader
	cfg     ConsumerConfig
	handler SearchHandler
	logger  *slog.Logger
}

func NewConsumer(redis StreamReader, cfg ConsumerConfig, handler SearchHandler, logger *slog.Logger) *Consumer {
	def := DefaultConsumerConfig(cfg.Stream)
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Block <= 0 {
		cfg.Block = def.Block
	}
	if cfg.Count <= 0 {
		cfg.Count = def.Count
	}
	if cfg.ErrPause <= 0 {
		cfg.ErrPause = def.ErrPause
	}

	return &Consumer{
		redis:   redis,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "search_consumer"),
	}
}

// Run reads the stream until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group, "name", c.cfg.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ErrPause):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	payload, err := DecodeMessage(msg)
	switch {
	case errors.Is(err, errSkipMessage):
		c.logger.Debug("skipping message", "id", msg.ID, "type", msg.Values["event_type"])
	case err != nil:
		// Poison messages are acked so they do not block the group.
		c.logger.Error("dropping malformed message", "id", msg.ID, "error", err)
	default:
		if err := c.handler(ctx, msg.ID, payload); err != nil {
			c.logger.Error("failed to handle message", "id", msg.ID, "error", err)
			return
		}
	}

	if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
	}
}

var errSkipMessage = errors.New("not a search-completed event")

type streamEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeMessage unpacks a relay-published stream entry.
func DecodeMessage(msg redis.XMessage) (SearchCompletedPayload, error) {
	var payload SearchCompletedPayload

	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypePriceSearchCompleted) {
		return payload, errSkipMessage
	}

	data, ok := msg.Values["data"].(string)
	if !ok || data == "" {
		return payload, fmt.Errorf("%w: missing data field", ErrMalformedMessage)
	}

	var env streamEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(env.Payload) == 0 {
		return payload, fmt.Errorf("%w: missing payload", ErrMalformedMessage)
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if payload.SearchID == "" {
		return payload, fmt.Errorf("%w: missing search_id", ErrMalformedMessage)
	}

	return payload, nil
}

// LogHandler reports each completed search on logger.
func LogHandler(logger *slog.Logger) SearchHandler {
	return func(ctx context.Context, messageID string, p SearchCompletedPayload) error {
		attrs := []any{
			"message_id", messageID,
			"search_id", p.SearchID,
			"query", p.Query,
			"provider", p.Provider,
			"listings", p.ListingCount,
			"stores", p.Stores,
		}
		if p.CheapestPrice != nil {
			attrs = append(attrs, "cheapest_store", p.CheapestStore, "cheapest_price", *p.CheapestPrice)
		}
		logger.InfoContext(ctx, "price search completed", attrs...)
		return nil
	}
}
