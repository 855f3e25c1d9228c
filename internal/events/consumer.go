package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/trustpilot-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the part of *redis.Client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Country, when set, skips entries relayed for other countries.
	Country  string
	Block    time.Duration
	Count    int64
}

// CompanyEvent is a COMPANY_EXTRACTED event read back from the stream.
type CompanyEvent struct {
	MessageID string
	EventID   string
	Timestamp string
	Payload   CompanyExtractedPayload
}

// HandlerFunc processes one event. A returned error leaves the message
// unacknowledged in the group's pending list.
type HandlerFunc func(ctx context.Context, event *CompanyEvent) error

// Consumer reads relayed company events through a Redis consumer group.
type Consumer struct {
	client StreamClient
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates a consumer. Block defaults to 5s and Count to 10.
func NewConsumer(client StreamClient, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Country = strings.ToUpper(strings.TrimSpace(cfg.Country))
	return &Consumer{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "event_consumer"),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
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
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.processMessage(ctx, message, handle)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, message redis.XMessage, handle HandlerFunc) {
	event, err := decodeMessage(message)
	if err != nil {
		c.logger.Error("failed to decode message", "id", message.ID, "error", err)
		return
	}

	if event != nil && c.wants(message) {
		if err := handle(ctx, event); err != nil {
			c.logger.Error("failed to process message", "id", message.ID, "error", err)
			return
		}
	}

	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, message.ID).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
	}
}

func (c *Consumer) wants(message redis.XMessage) bool {
	if c.cfg.Country == "" {
		return true
	}
	country, _ := message.Values[database.FieldCountry].(string)
	return strings.EqualFold(country, c.cfg.Country)
}

// decodeMessage returns nil, nil for events of other types.
func decodeMessage(message redis.XMessage) (*CompanyEvent, error) {
	eventType, _ := message.Values["event_type"].(string)
	if eventType != string(EventTypeCompanyExtracted) {
		return nil, nil
	}

	data, ok := message.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}

	var envelope struct {
		ID        string                  `json:"id"`
		Timestamp string                  `json:"timestamp"`
		Payload   CompanyExtractedPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}
	if envelope.Payload.Company == nil {
		return nil, fmt.Errorf("event %s has no company", envelope.ID)
	}

	return &CompanyEvent{
		MessageID: message.ID,
		EventID:   envelope.ID,
		Timestamp: envelope.Timestamp,
		Payload:   envelope.Payload,
	}, nil
}
