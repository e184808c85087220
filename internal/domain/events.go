package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bus topics, one per event type.
const (
	TopicGenerationStarted   = "generation.started"
	TopicExtensionStarted    = "generation.extension.started"
	TopicJobCreated          = "generation.job.created"
	TopicGenerationCompleted = "generation.completed"
	TopicGenerationFailed    = "generation.failed"
	TopicGenerationTimeout   = "generation.timeout"
)

// GenerationStarted is published when a generation request has been accepted.
// It creates the saga instance and triggers the submission consumer.
type GenerationStarted struct {
	CorrelationID uuid.UUID  `json:"correlation_id"`
	UserID        string     `json:"user_id"`
	Prompt        string     `json:"prompt"`
	Kind          TaskKind   `json:"kind"`
	Params        TaskParams `json:"params"`
	StartedAt     time.Time  `json:"started_at"`
}

// ExtensionStarted starts a new workflow chained to an earlier completed job.
// The new correlation id belongs to a fresh saga/task pair; the original ids
// are carried only so the submission consumer can call the provider's extend
// operation.
type ExtensionStarted struct {
	CorrelationID         uuid.UUID  `json:"correlation_id"`
	OriginalCorrelationID uuid.UUID  `json:"original_correlation_id"`
	OriginalProviderJobID string     `json:"original_provider_job_id"`
	UserID                string     `json:"user_id"`
	Prompt                string     `json:"prompt"`
	Kind                  TaskKind   `json:"kind"`
	Params                TaskParams `json:"params"`
	StartedAt             time.Time  `json:"started_at"`
}

// JobCreated records that the provider accepted the submission.
type JobCreated struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	ProviderJobID string    `json:"provider_job_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerationCompleted carries the provider's successful outcome.
type GenerationCompleted struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	ProviderJobID string    `json:"provider_job_id"`
	ResultURLs    []string  `json:"result_urls"`
	Resolution    string    `json:"resolution"`
	CompletedAt   time.Time `json:"completed_at"`
}

// GenerationFailed carries any failure outcome: submission errors, provider
// rejections and timeouts all converge on this event.
type GenerationFailed struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	ProviderJobID string    `json:"provider_job_id,omitempty"`
	ErrorCode     int       `json:"error_code"`
	ErrorMessage  string    `json:"error_message"`
	FailedAt      time.Time `json:"failed_at"`
}

// GenerationTimeout is the scheduled deadline message the orchestrator sends
// itself when a workflow enters Submitted.
type GenerationTimeout struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
}
