package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/pkg/logger"
	"github.com/medsolicita/case-api/pkg/metrics"
)

type fakeOutboxRepo struct {
	mu       sync.Mutex
	pending  []*model.OutboxEvent
	statuses map[uuid.UUID]model.OutboxStatus
	errors   map[uuid.UUID]string
}

func newFakeOutboxRepo(events ...*model.OutboxEvent) *fakeOutboxRepo {
	return &fakeOutboxRepo{
		pending:  events,
		statuses: make(map[uuid.UUID]model.OutboxStatus),
		errors:   make(map[uuid.UUID]string),
	}
}

func (r *fakeOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, event)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) > limit {
		return r.pending[:limit], nil
	}
	return r.pending, nil
}

func (r *fakeOutboxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	if errorMessage != nil {
		r.errors[id] = *errorMessage
	}
	return nil
}

type fakeBroker struct {
	mu        sync.Mutex
	published map[string]int
	failures  int
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("broker unavailable")
	}
	if b.published == nil {
		b.published = make(map[string]int)
	}
	b.published[channel]++
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBroker) Close() error { return nil }

func testEvent(eventType string) *model.OutboxEvent {
	payload, _ := json.Marshal(map[string]string{"case_id": uuid.New().String()})
	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    model.OutboxStatusPending,
		CreatedAt: time.Now(),
	}
}

// Shared across tests: promauto registers against the default registry and
// duplicate registration panics.
var testMetrics = metrics.NewMetrics("test", "outbox")

func newTestProcessor(t *testing.T, repo *fakeOutboxRepo, broker *fakeBroker) *OutboxProcessor {
	t.Helper()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	cfg := OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
	return NewOutboxProcessor(repo, broker, cfg, log, testMetrics)
}

func TestProcessEventsPublishesAndMarksProcessed(t *testing.T) {
	evt := testEvent(model.EventCasePaid)
	repo := newFakeOutboxRepo(evt)
	broker := &fakeBroker{}

	p := newTestProcessor(t, repo, broker)
	require.NoError(t, p.ProcessEvents(context.Background()))

	assert.Equal(t, 1, broker.published[model.EventCasePaid])
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[evt.ID])
}

func TestProcessEventsRetriesTransientFailures(t *testing.T) {
	evt := testEvent(model.EventCaseSigned)
	repo := newFakeOutboxRepo(evt)
	broker := &fakeBroker{failures: 1}

	p := newTestProcessor(t, repo, broker)
	require.NoError(t, p.ProcessEvents(context.Background()))

	assert.Equal(t, 1, broker.published[model.EventCaseSigned])
	assert.Equal(t, model.OutboxStatusProcessed, repo.statuses[evt.ID])
}

func TestProcessEventsMarksFailedAfterRetriesExhausted(t *testing.T) {
	evt := testEvent(model.EventCaseCreated)
	repo := newFakeOutboxRepo(evt)
	broker := &fakeBroker{failures: 10}

	p := newTestProcessor(t, repo, broker)
	require.NoError(t, p.ProcessEvents(context.Background()))

	assert.Equal(t, model.OutboxStatusFailed, repo.statuses[evt.ID])
	assert.Contains(t, repo.errors[evt.ID], "broker unavailable")
}
