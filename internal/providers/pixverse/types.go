package pixverse

import "context"

// SubmitRequest carries the fields the provider needs to start a job.
type SubmitRequest struct {
	Prompt      string
	Kind        string
	AspectRatio string
	Model       string
	Seed        int
	Quantity    int
}

// JobStatus enumerates the provider-side lifecycle as reported by Poll.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// PollResult is the normalized snapshot of a provider job.
type PollResult struct {
	Status       JobStatus
	ResultURLs   []string
	Resolution   string
	ErrorCode    int
	ErrorMessage string
}

// Generator is the provider surface the orchestration consumers depend on.
type Generator interface {
	// Submit starts a job and returns the provider's job id. The provider
	// calls callbackURL when the job finishes.
	Submit(ctx context.Context, req SubmitRequest, callbackURL string) (string, error)
	// Extend continues an earlier job under a new job id.
	Extend(ctx context.Context, jobID string, req SubmitRequest, callbackURL string) (string, error)
	// Poll reads the current job state synchronously.
	Poll(ctx context.Context, jobID string) (*PollResult, error)
}
