package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relaySource = "trustpilot-scraper"

// Stream entry fields copied out of the company payload so readers can
// filter without decoding "data".
const (
	FieldCountry       = "country"
	FieldTrustpilotURL = "trustpilot_url"
	FieldCategory      = "category"
)

var errNoCompany = errors.New("payload has no company")

// RedisClient is the part of *redis.Client the relay uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo is the part of OutboxRepository the relay uses.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay moves company events from the outbox table onto their Redis stream.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewRelay creates a relay polling every PollInterval (default 5s) for up
// to BatchSize events (default 100).
func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start delivers pending events once, then on every tick until ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.deliverBatch(ctx); err != nil {
			r.logger.Error("outbox batch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// deliverBatch only fails when the outbox cannot be read. Per-event
// failures are recorded on the event row.
func (r *Relay) deliverBatch(ctx context.Context) error {
	pending, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	delivered := 0
	for _, event := range pending {
		if err := r.deliver(ctx, event); err != nil {
			r.logger.Warn("company event not delivered",
				"event_id", event.ID,
				"trustpilot_url", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
			if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
				r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
			}
			continue
		}
		if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
			r.logger.Error("failed to mark event as processed", "event_id", event.ID, "error", err)
			continue
		}
		delivered++
	}

	r.logger.Debug("outbox batch done", "pending", len(pending), "delivered", delivered)
	return nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	values, err := streamEntry(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: event.TargetStream, Values: values}
	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// companyHeader is the slice of a COMPANY_EXTRACTED payload the relay reads.
type companyHeader struct {
	Company *struct {
		TrustpilotURL string  `json:"trustpilot_url"`
		Country       string  `json:"country"`
		Category      *string `json:"category"`
	} `json:"company"`
}

// streamEntry builds the XADD fields for event. The complete envelope
// travels as JSON in "data".
func streamEntry(event *OutboxEvent) (map[string]any, error) {
	var header companyHeader
	if err := json.Unmarshal(event.Payload, &header); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if header.Company == nil {
		return nil, errNoCompany
	}

	data, err := json.Marshal(map[string]any{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.UTC().Format(time.RFC3339),
		"payload":        event.Payload,
		"metadata": map[string]any{
			"source":      relaySource,
			"outbox_id":   event.ID.String(),
			"retry_count": event.RetryCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	category := ""
	if header.Company.Category != nil {
		category = *header.Company.Category
	}

	return map[string]any{
		"data":             string(data),
		"event_type":       event.EventType,
		"original_id":      event.ID.String(),
		"aggregate_type":   event.AggregateType,
		"aggregate_id":     event.AggregateID,
		"timestamp":        strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		FieldCountry:       header.Company.Country,
		FieldTrustpilotURL: header.Company.TrustpilotURL,
		FieldCategory:      category,
	}, nil
}
