// Package saga owns the authoritative lifecycle of one generation workflow
// per correlation id: an explicit state/transition table driven by bus events,
// with a scheduled deadline and optimistic-concurrency persistence.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// State enumerates the workflow states.
type State string

const (
	StateInitial    State = "initial"
	StateSubmitted  State = "submitted"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is accepted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Timeout deadlines per task kind.
const (
	ImageTimeout = 5 * time.Minute
	VideoTimeout = 10 * time.Minute
)

// TimeoutFor returns the deadline delay for a task kind.
func TimeoutFor(kind domain.TaskKind) time.Duration {
	if kind == domain.TaskKindVideo {
		return VideoTimeout
	}
	return ImageTimeout
}

// Instance is one workflow's authoritative snapshot. Version increments on
// every transition; a save must name the version it read or it is rejected,
// which serializes concurrently delivered events for the same correlation id.
type Instance struct {
	CorrelationID uuid.UUID
	CurrentState  State
	TimeoutToken  *uuid.UUID
	Version       int64

	// Request echo, so later queries and extend requests never re-read the
	// task record mid-flight.
	UserID string
	Prompt string
	Kind   domain.TaskKind
	Params domain.TaskParams

	ProviderJobID string
	ResultURLs    []string
	Resolution    string
	ErrorCode     int
	ErrorMessage  string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// InstanceStore persists saga instances with compare-and-swap writes.
type InstanceStore interface {
	// Get returns domain.ErrNotFound when no instance exists yet.
	Get(ctx context.Context, correlationID uuid.UUID) (*Instance, error)
	// Save writes the instance iff the stored version equals expectedVersion
	// (0 for a new instance), returning domain.ErrVersionConflict otherwise.
	Save(ctx context.Context, inst *Instance, expectedVersion int64) error
}
