package generation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/providers/pixverse"
)

// Sweeper re-polls tasks stuck in Processing beyond a grace window and
// publishes the terminal event the missing callback would have produced. It
// is a safety net behind the saga's own deadline, run on a schedule in the
// worker process.
type Sweeper struct {
	tasks    domain.TaskRepository
	provider pixverse.Generator
	bus      bus.Bus
	logger   zerolog.Logger
	grace    time.Duration
	limit    int
	now      func() time.Time
}

// NewSweeper wires a sweep over tasks older than grace.
func NewSweeper(tasks domain.TaskRepository, provider pixverse.Generator, b bus.Bus, grace time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		tasks:    tasks,
		provider: provider,
		bus:      b,
		logger:   logger,
		grace:    grace,
		limit:    50,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce performs one sweep pass. Per-task errors are logged and do not stop
// the pass.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.grace)
	stuck, err := s.tasks.ListStuckProcessing(ctx, cutoff, s.limit)
	if err != nil {
		return err
	}
	for _, task := range stuck {
		if task.ProviderJobID == "" {
			continue
		}
		result, err := s.provider.Poll(ctx, task.ProviderJobID)
		if err != nil {
			s.logger.Warn().Err(err).Str("provider_job_id", task.ProviderJobID).Msg("sweeper: poll failed")
			continue
		}
		switch result.Status {
		case pixverse.JobStatusSucceeded:
			evt := domain.GenerationCompleted{
				CorrelationID: task.CorrelationID,
				ProviderJobID: task.ProviderJobID,
				ResultURLs:    result.ResultURLs,
				Resolution:    result.Resolution,
				CompletedAt:   s.now(),
			}
			if err := s.bus.Publish(ctx, domain.TopicGenerationCompleted, evt); err != nil {
				s.logger.Error().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("sweeper: publish completion failed")
			}
		case pixverse.JobStatusFailed:
			code := result.ErrorCode
			if code == 0 {
				code = providerErrorCode
			}
			evt := domain.GenerationFailed{
				CorrelationID: task.CorrelationID,
				ProviderJobID: task.ProviderJobID,
				ErrorCode:     code,
				ErrorMessage:  result.ErrorMessage,
				FailedAt:      s.now(),
			}
			if err := s.bus.Publish(ctx, domain.TopicGenerationFailed, evt); err != nil {
				s.logger.Error().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("sweeper: publish failure failed")
			}
		}
	}
	return nil
}
