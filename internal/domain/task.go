package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind enumerates supported generation categories.
type TaskKind string

const (
	TaskKindImage TaskKind = "image"
	TaskKindVideo TaskKind = "video"
)

// TaskStatus enumerates the task record lifecycle states.
type TaskStatus string

const (
	TaskStatusSubmitted  TaskStatus = "submitted"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further status change is accepted.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskParams carries the provider parameters echoed from the original request.
type TaskParams struct {
	AspectRatio string
	Model       string
	Seed        int
	Quantity    int
}

// TaskRecord is the durable, query-facing projection of one generation task.
// It is owned by the submission/completion consumers and is eventually
// consistent with the saga instance for the same correlation id.
type TaskRecord struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	UserID        string
	Prompt        string
	Kind          TaskKind
	Params        TaskParams
	ProviderJobID string
	Status        TaskStatus
	ResultURLs    []string
	Resolution    string
	ErrorCode     int
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// ResultAsset is one ingested media artifact attached to a completed task.
type ResultAsset struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	UserID        string
	URL           string
	StorageKey    string
	MIME          string
	Resolution    string
	CreatedAt     time.Time
}

// NewCorrelationID mints the single id threading one logical request through
// every event, the saga instance and the task record. V7 keeps ids sortable
// by creation time.
func NewCorrelationID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
