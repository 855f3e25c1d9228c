package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/trustpilot-scraper/internal/database"
	"github.com/maltedev/trustpilot-scraper/internal/models"
)

type EventType string

const (
	// EventTypeCompanyExtracted is published for every stored company profile.
	EventTypeCompanyExtracted EventType = "COMPANY_EXTRACTED"

	aggregateCompany = "company"
)

// CompanyExtractedPayload is the body of a COMPANY_EXTRACTED event.
type CompanyExtractedPayload struct {
	EventID   string                `json:"event_id"`
	EventType string                `json:"event_type"`
	Timestamp time.Time             `json:"timestamp"`
	CompanyID int64                 `json:"company_id"`
	IsNew     bool                  `json:"is_new"`
	RunID     string                `json:"run_id,omitempty"`
	Company   *models.CompanyRecord `json:"company"`
	Source    string                `json:"source"`
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type CompanyStore interface {
	UpsertWithTx(ctx context.Context, tx pgx.Tx, rec *models.CompanyRecord) (int64, bool, error)
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stores each record and its COMPANY_EXTRACTED outbox event in
// the same transaction. It is a pipeline stage.
type Publisher struct {
	tx        TxRunner
	companies CompanyStore
	outbox    OutboxWriter
	stream    string
	runID     string
	logger    *slog.Logger
}

// NewPublisher creates a publisher writing through db.
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewCompanyRepository(db), database.NewOutboxRepository(db), logger)
}

func newPublisher(tx TxRunner, companies CompanyStore, outbox OutboxWriter, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		tx:        tx,
		companies: companies,
		outbox:    outbox,
		stream:    database.DefaultStream,
		logger:    logger.With("component", "event_publisher"),
	}
}

// ForRun returns a copy that tags events with runID.
func (p *Publisher) ForRun(runID string) *Publisher {
	cp := *p
	cp.runID = runID
	return &cp
}

func (p *Publisher) Name() string { return "event_publisher" }

func (p *Publisher) Process(ctx context.Context, record *models.CompanyRecord) error {
	return p.PublishCompanyExtracted(ctx, record)
}

func (p *Publisher) PublishCompanyExtracted(ctx context.Context, record *models.CompanyRecord) error {
	payload := &CompanyExtractedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeCompanyExtracted),
		Timestamp: time.Now(),
		RunID:     p.runID,
		Company:   record,
		Source:    "trustpilot-scraper",
	}

	var outboxEvent *database.OutboxEvent
	err := p.tx.WithTx(ctx, func(tx pgx.Tx) error {
		id, inserted, err := p.companies.UpsertWithTx(ctx, tx, record)
		if err != nil {
			return err
		}
		payload.CompanyID = id
		payload.IsNew = inserted

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		outboxEvent = &database.OutboxEvent{
			AggregateType: aggregateCompany,
			AggregateID:   record.TrustpilotURL,
			EventType:     string(EventTypeCompanyExtracted),
			Payload:       data,
			TargetStream:  p.stream,
		}
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"event_id", payload.EventID,
		"company", record.CompanyName,
		"url", record.TrustpilotURL,
		"is_new", payload.IsNew,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}
