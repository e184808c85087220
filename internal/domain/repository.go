package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskRepository defines persistence for task records.
type TaskRepository interface {
	Create(ctx context.Context, task *TaskRecord) error
	// MarkProcessing records the provider job id after a successful submission.
	MarkProcessing(ctx context.Context, correlationID uuid.UUID, providerJobID string) error
	// MarkCompleted stores the result snapshot and completion time.
	MarkCompleted(ctx context.Context, correlationID uuid.UUID, resultURLs []string, resolution string, completedAt time.Time) error
	// MarkFailed stores the failure snapshot and completion time.
	MarkFailed(ctx context.Context, correlationID uuid.UUID, errorCode int, errorMessage string, failedAt time.Time) error
	GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*TaskRecord, error)
	GetByProviderJobID(ctx context.Context, providerJobID string) (*TaskRecord, error)
	// ListStuckProcessing returns tasks still Processing whose records are
	// older than the cutoff, for the refresh sweep.
	ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]TaskRecord, error)
}

// ConversationRepository locates and updates conversational records.
type ConversationRepository interface {
	// FindByConfigContains returns every conversation whose freeform config
	// blob contains the given text. Callers decide what to do when the match
	// is not unique.
	FindByConfigContains(ctx context.Context, userID, text string) ([]Conversation, error)
	AttachResults(ctx context.Context, conversationID uuid.UUID, assetIDs []uuid.UUID) error
}

// AssetRepository persists ingested result media rows.
type AssetRepository interface {
	SaveAll(ctx context.Context, assets []ResultAsset) error
	ListByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]ResultAsset, error)
}
