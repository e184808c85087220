package generation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/providers/pixverse"
)

// memTasks mirrors the repository semantics: terminal records are never
// overwritten, updates apply only while completed_at is unset.
type memTasks struct {
	mu    sync.Mutex
	byCor map[uuid.UUID]*domain.TaskRecord
}

func newMemTasks() *memTasks {
	return &memTasks{byCor: make(map[uuid.UUID]*domain.TaskRecord)}
}

func (m *memTasks) Create(ctx context.Context, task *domain.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCor[task.CorrelationID]; ok {
		return domain.ErrAlreadyExists
	}
	clone := *task
	m.byCor[task.CorrelationID] = &clone
	return nil
}

func (m *memTasks) MarkProcessing(ctx context.Context, correlationID uuid.UUID, providerJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.byCor[correlationID]; ok && task.CompletedAt == nil {
		task.ProviderJobID = providerJobID
		task.Status = domain.TaskStatusProcessing
	}
	return nil
}

func (m *memTasks) MarkCompleted(ctx context.Context, correlationID uuid.UUID, resultURLs []string, resolution string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.byCor[correlationID]; ok && task.CompletedAt == nil {
		task.Status = domain.TaskStatusCompleted
		task.ResultURLs = resultURLs
		task.Resolution = resolution
		task.CompletedAt = &completedAt
	}
	return nil
}

func (m *memTasks) MarkFailed(ctx context.Context, correlationID uuid.UUID, errorCode int, errorMessage string, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.byCor[correlationID]; ok && task.CompletedAt == nil {
		task.Status = domain.TaskStatusFailed
		task.ErrorCode = errorCode
		task.ErrorMessage = errorMessage
		task.CompletedAt = &failedAt
	}
	return nil
}

func (m *memTasks) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.byCor[correlationID]; ok {
		clone := *task
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memTasks) GetByProviderJobID(ctx context.Context, providerJobID string) (*domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.byCor {
		if task.ProviderJobID == providerJobID {
			clone := *task
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memTasks) ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TaskRecord
	for _, task := range m.byCor {
		if task.Status == domain.TaskStatusProcessing && task.CreatedAt.Before(olderThan) {
			out = append(out, *task)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// stubProvider scripts the provider responses and records calls.
type stubProvider struct {
	mu           sync.Mutex
	jobID        string
	submitErr    error
	pollResult   *pixverse.PollResult
	pollErr      error
	submitCalls  int
	extendCalls  int
	lastCallback string
	lastJobID    string
}

func (p *stubProvider) Submit(ctx context.Context, req pixverse.SubmitRequest, callbackURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitCalls++
	p.lastCallback = callbackURL
	return p.jobID, p.submitErr
}

func (p *stubProvider) Extend(ctx context.Context, jobID string, req pixverse.SubmitRequest, callbackURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extendCalls++
	p.lastJobID = jobID
	p.lastCallback = callbackURL
	return p.jobID, p.submitErr
}

func (p *stubProvider) Poll(ctx context.Context, jobID string) (*pixverse.PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastJobID = jobID
	return p.pollResult, p.pollErr
}

// memConversations holds canned conversations for the reconciler.
type memConversations struct {
	mu            sync.Mutex
	conversations []domain.Conversation
	attachedTo    *uuid.UUID
	attachedIDs   []uuid.UUID
}

func (m *memConversations) FindByConfigContains(ctx context.Context, userID, text string) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID && contains(conv.ConfigJSON, text) {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (m *memConversations) AttachResults(ctx context.Context, conversationID uuid.UUID, assetIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachedTo = &conversationID
	m.attachedIDs = assetIDs
	return nil
}

func contains(blob []byte, text string) bool {
	return text != "" && strings.Contains(string(blob), text)
}

// captureBus records published events and implements the full transport
// contract so any component under test can take it.
type captureBus struct {
	mu        sync.Mutex
	published []capturedEvent
}

type capturedEvent struct {
	topic   string
	payload []byte
}

func (b *captureBus) Publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, capturedEvent{topic: topic, payload: payload})
	return nil
}

func (b *captureBus) Subscribe(topic string, h bus.Handler) {}

func (b *captureBus) Schedule(ctx context.Context, delay time.Duration, topic string, event any) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (b *captureBus) Cancel(ctx context.Context, token uuid.UUID) error { return nil }

func (b *captureBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, evt := range b.published {
		out = append(out, evt.topic)
	}
	return out
}

// memAssets records saved result assets.
type memAssets struct {
	mu     sync.Mutex
	assets []domain.ResultAsset
}

func (m *memAssets) SaveAll(ctx context.Context, assets []domain.ResultAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets = append(m.assets, assets...)
	return nil
}

func (m *memAssets) ListByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]domain.ResultAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ResultAsset
	for _, asset := range m.assets {
		if asset.CorrelationID == correlationID {
			out = append(out, asset)
		}
	}
	return out, nil
}
