package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	return m.Called().Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

func companyEvent(profileURL, name string) *OutboxEvent {
	payload, _ := json.Marshal(map[string]any{
		"event_type": "COMPANY_EXTRACTED",
		"is_new":     true,
		"company": map[string]any{
			"trustpilot_url": profileURL,
			"company_name":   name,
			"country":        "DE",
			"category":       "travel_vacation",
		},
	})
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "company",
		AggregateID:   profileURL,
		EventType:     "COMPANY_EXTRACTED",
		Payload:       payload,
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

func newTestRelay(r RedisClient, o OutboxRepo) *Relay {
	return NewRelay(o, r, slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	})
}

func entryValues(args *redis.XAddArgs) map[string]any {
	values, _ := args.Values.(map[string]any)
	return values
}

func forAggregate(id string) any {
	return mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return entryValues(args)["aggregate_id"] == id
	})
}

func TestRelayDeliversPendingEvents(t *testing.T) {
	ctx := context.Background()
	rc := new(MockRedisClient)
	repo := new(MockOutboxRepository)

	alpha := companyEvent("https://www.trustpilot.com/review/alpha.test", "Alpha")
	beta := companyEvent("https://www.trustpilot.com/review/beta.test", "Beta")

	repo.On("GetPending", ctx, 10).Return([]*OutboxEvent{alpha, beta}, nil)
	for _, e := range []*OutboxEvent{alpha, beta} {
		rc.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			values := entryValues(args)
			return args.Stream == "stream:company_profiles" &&
				values["event_type"] == "COMPANY_EXTRACTED" &&
				values["aggregate_id"] == e.AggregateID
		})).Return(nil)
		repo.On("MarkProcessed", ctx, e.ID).Return(nil)
	}

	require.NoError(t, newTestRelay(rc, repo).deliverBatch(ctx))
	rc.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestRelayMarksFailedDeliveries(t *testing.T) {
	ctx := context.Background()
	rc := new(MockRedisClient)
	repo := new(MockOutboxRepository)

	broken := companyEvent("https://www.trustpilot.com/review/broken.test", "Broken")
	healthy := companyEvent("https://www.trustpilot.com/review/healthy.test", "Healthy")

	repo.On("GetPending", ctx, 10).Return([]*OutboxEvent{broken, healthy}, nil)
	rc.On("XAdd", ctx, forAggregate(broken.AggregateID)).Return(errors.New("connection refused"))
	repo.On("MarkFailed", ctx, broken.ID, mock.MatchedBy(func(err error) bool {
		return err.Error() == "failed to publish to redis: connection refused"
	})).Return(nil)
	rc.On("XAdd", ctx, forAggregate(healthy.AggregateID)).Return(nil)
	repo.On("MarkProcessed", ctx, healthy.ID).Return(nil)

	assert.NoError(t, newTestRelay(rc, repo).deliverBatch(ctx))
	rc.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestRelayUnreadablePayloadIsAFailedDelivery(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not an object", payload: `[1,2,3]`},
		{name: "no company", payload: `{"event_type":"COMPANY_EXTRACTED"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			rc := new(MockRedisClient)
			repo := new(MockOutboxRepository)

			event := companyEvent("https://www.trustpilot.com/review/x.test", "X")
			event.Payload = json.RawMessage(tt.payload)

			repo.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
			repo.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

			assert.NoError(t, newTestRelay(rc, repo).deliverBatch(ctx))
			rc.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
			repo.AssertExpectations(t)
		})
	}
}

func TestRelayEmptyBatch(t *testing.T) {
	ctx := context.Background()
	rc := new(MockRedisClient)
	repo := new(MockOutboxRepository)

	repo.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

	require.NoError(t, newTestRelay(rc, repo).deliverBatch(ctx))
	rc.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
}

func TestRelayPropagatesOutboxErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(MockOutboxRepository)
	repo.On("GetPending", ctx, 10).Return(nil, errors.New("too many connections"))

	err := newTestRelay(new(MockRedisClient), repo).deliverBatch(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many connections")
}

func TestStreamEntryCarriesCompanyFields(t *testing.T) {
	event := companyEvent("https://www.trustpilot.com/review/alpha.test", "Alpha")

	values, err := streamEntry(event)
	require.NoError(t, err)
	assert.Equal(t, event.ID.String(), values["original_id"])
	assert.Equal(t, "company", values["aggregate_type"])
	assert.Equal(t, "DE", values[FieldCountry])
	assert.Equal(t, "https://www.trustpilot.com/review/alpha.test", values[FieldTrustpilotURL])
	assert.Equal(t, "travel_vacation", values[FieldCategory])

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &envelope))
	assert.Equal(t, "COMPANY_EXTRACTED", envelope["type"])

	payload := envelope["payload"].(map[string]any)
	company := payload["company"].(map[string]any)
	assert.Equal(t, "Alpha", company["company_name"])

	metadata := envelope["metadata"].(map[string]any)
	assert.Equal(t, "trustpilot-scraper", metadata["source"])
}

func TestStreamEntryWithoutCategory(t *testing.T) {
	event := companyEvent("https://www.trustpilot.com/review/alpha.test", "Alpha")
	event.Payload = json.RawMessage(`{"company":{"trustpilot_url":"https://www.trustpilot.com/review/alpha.test","country":"FR","category":null}}`)

	values, err := streamEntry(event)
	require.NoError(t, err)
	assert.Equal(t, "FR", values[FieldCountry])
	assert.Equal(t, "", values[FieldCategory])
}

func TestRelayPublishesStreamEntry(t *testing.T) {
	ctx := context.Background()
	rc := new(MockRedisClient)
	event := companyEvent("https://www.trustpilot.com/review/alpha.test", "Alpha")

	var captured *redis.XAddArgs
	rc.On("XAdd", ctx, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*redis.XAddArgs)
	}).Return(nil)

	require.NoError(t, newTestRelay(rc, new(MockOutboxRepository)).deliver(ctx, event))
	require.NotNil(t, captured)
	assert.Equal(t, DefaultStream, captured.Stream)
	assert.Equal(t, "DE", entryValues(captured)[FieldCountry])
}

func TestRelayStartStopsOnCancel(t *testing.T) {
	repo := new(MockOutboxRepository)
	repo.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil)

	relay := newTestRelay(new(MockRedisClient), repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	assert.GreaterOrEqual(t, len(repo.Calls), 2)
}
