package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/trustpilot-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL and resets the tables. Tests
// that need Postgres are skipped when it is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))

	_, err = db.Exec(ctx, "TRUNCATE companies, outbox_event")
	require.NoError(t, err)

	return db
}

func TestOutboxEventValidate(t *testing.T) {
	valid := func() *OutboxEvent {
		return &OutboxEvent{
			AggregateType: "company",
			AggregateID:   "https://www.trustpilot.com/review/a.test",
			EventType:     "COMPANY_EXTRACTED",
			Payload:       json.RawMessage(`{"company_name":"A"}`),
		}
	}
	require.NoError(t, valid().validate())

	tests := []struct {
		name   string
		mutate func(*OutboxEvent)
		errMsg string
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }, "aggregate_type"},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }, "aggregate_id"},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }, "event_type"},
		{"missing payload", func(e *OutboxEvent) { e.Payload = nil }, "payload is required"},
		{"broken payload", func(e *OutboxEvent) { e.Payload = json.RawMessage(`{"a":`) }, "valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			err := e.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestInsertWithTxRejectsInvalidEventBeforeTouchingTx(t *testing.T) {
	repo := NewOutboxRepository(nil)
	err := repo.InsertWithTx(context.Background(), nil, &OutboxEvent{EventType: "COMPANY_EXTRACTED"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid outbox event")
}

func TestRetryPolicy(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 16*time.Second, retryBackoff(4))
	assert.Equal(t, 256*time.Second, retryBackoff(8))
	assert.Equal(t, 300*time.Second, retryBackoff(9))
	assert.Equal(t, 300*time.Second, retryBackoff(40))

	assert.Equal(t, OutboxStatusFailed, nextStatus(1))
	assert.Equal(t, OutboxStatusFailed, nextStatus(MaxRetryCount-1))
	assert.Equal(t, OutboxStatusDeadLetter, nextStatus(MaxRetryCount))

	assert.True(t, calculateNextRetryTime(1).After(time.Now()))
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "company",
		AggregateID:   "https://www.trustpilot.com/review/a.test",
		EventType:     "COMPANY_EXTRACTED",
		Payload:       json.RawMessage(`{"company_name":"A"}`),
	}
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, DefaultStream, event.TargetStream)
	assert.Equal(t, OutboxStatusPending, event.Status)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ID, pending[0].ID)

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))
	pending, err = repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed event waits for its backoff")

	require.NoError(t, repo.MarkProcessed(ctx, event.ID))
	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[OutboxStatusProcessed])

	assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
}

func TestOutboxDeadLetter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := &OutboxEvent{
		AggregateType: "company",
		AggregateID:   "https://www.trustpilot.com/review/b.test",
		EventType:     "COMPANY_EXTRACTED",
		Payload:       json.RawMessage(`{}`),
		RetryCount:    MaxRetryCount - 1,
	}
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

	var status string
	var retryCount int
	require.NoError(t, db.QueryRow(ctx,
		"SELECT status, retry_count FROM outbox_event WHERE id = $1", event.ID).Scan(&status, &retryCount))
	assert.Equal(t, OutboxStatusDeadLetter, status)
	assert.Equal(t, MaxRetryCount, retryCount)
}

func TestCompanyUpsert(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewCompanyRepository(db)
	rec := models.NewCompanyRecord("https://www.trustpilot.com/review/a.test", "DE")
	rec.CompanyName = "Alpha"
	rec.ReviewCount = "10"
	rec.Email = models.StringPtr("hi@a.test")

	var firstID int64
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		id, inserted, err := repo.UpsertWithTx(ctx, tx, rec)
		firstID = id
		assert.True(t, inserted)
		return err
	}))

	rec.ReviewCount = "11"
	rec.Email = nil
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		id, inserted, err := repo.UpsertWithTx(ctx, tx, rec)
		assert.Equal(t, firstID, id)
		assert.False(t, inserted)
		return err
	}))

	stored, err := repo.GetByURL(ctx, rec.TrustpilotURL)
	require.NoError(t, err)
	assert.Equal(t, "11", stored.ReviewCount)
	assert.Nil(t, stored.Email)

	counts, err := repo.CountByCountry(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["DE"])
}
