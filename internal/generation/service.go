package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/providers/pixverse"
)

// Service is the synchronous command/query surface over task records. It
// publishes start events and reads/refreshes records; it never touches the
// saga instance directly.
type Service struct {
	tasks    domain.TaskRepository
	provider pixverse.Generator
	bus      bus.Bus
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService wires the synchronous surface.
func NewService(tasks domain.TaskRepository, provider pixverse.Generator, b bus.Bus, logger zerolog.Logger) *Service {
	return &Service{
		tasks:    tasks,
		provider: provider,
		bus:      b,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start accepts a generation request: it validates input, mints the
// correlation id and publishes GenerationStarted. The caller gets the id
// back immediately; everything else happens through the bus.
func (s *Service) Start(ctx context.Context, userID, prompt string, kind domain.TaskKind, params domain.TaskParams) (uuid.UUID, error) {
	if strings.TrimSpace(userID) == "" {
		return uuid.Nil, domain.ErrUnauthorized
	}
	if strings.TrimSpace(prompt) == "" {
		return uuid.Nil, domain.ErrInvalidPrompt
	}
	if kind != domain.TaskKindImage && kind != domain.TaskKindVideo {
		return uuid.Nil, domain.ErrInvalidKind
	}
	if params.Quantity <= 0 {
		params.Quantity = 1
	}
	correlationID := domain.NewCorrelationID()
	evt := domain.GenerationStarted{
		CorrelationID: correlationID,
		UserID:        userID,
		Prompt:        prompt,
		Kind:          kind,
		Params:        params,
		StartedAt:     s.now(),
	}
	if err := s.bus.Publish(ctx, domain.TopicGenerationStarted, evt); err != nil {
		return uuid.Nil, fmt.Errorf("generation: publish start: %w", err)
	}
	s.logger.Info().Stringer("correlation_id", correlationID).Str("kind", string(kind)).Msg("generation: started")
	return correlationID, nil
}

// GetStatus returns the task record snapshot for a correlation id.
func (s *Service) GetStatus(ctx context.Context, correlationID uuid.UUID) (*domain.TaskRecord, error) {
	return s.tasks.GetByCorrelationID(ctx, correlationID)
}

// Refresh re-polls the provider for the caller's task and updates the record
// in place. The saga is untouched; its own deadline still governs liveness.
func (s *Service) Refresh(ctx context.Context, userID string, correlationID uuid.UUID) (*domain.TaskRecord, error) {
	task, err := s.tasks.GetByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	if task.ProviderJobID == "" {
		return nil, domain.ErrTaskNotReady
	}

	result, err := s.provider.Poll(ctx, task.ProviderJobID)
	if err != nil {
		return nil, fmt.Errorf("generation: poll %s: %w", task.ProviderJobID, err)
	}
	if !task.Status.Terminal() {
		switch result.Status {
		case pixverse.JobStatusSucceeded:
			if err := s.tasks.MarkCompleted(ctx, correlationID, result.ResultURLs, result.Resolution, s.now()); err != nil {
				return nil, fmt.Errorf("generation: record poll result: %w", err)
			}
		case pixverse.JobStatusFailed:
			code := result.ErrorCode
			if code == 0 {
				code = providerErrorCode
			}
			if err := s.tasks.MarkFailed(ctx, correlationID, code, result.ErrorMessage, s.now()); err != nil {
				return nil, fmt.Errorf("generation: record poll failure: %w", err)
			}
		}
	}
	return s.tasks.GetByCorrelationID(ctx, correlationID)
}

// Extend validates the original task and starts an entirely new workflow
// chained to it: fresh correlation id, fresh saga, fresh task record.
func (s *Service) Extend(ctx context.Context, userID string, originalCorrelationID uuid.UUID, prompt string) (uuid.UUID, error) {
	if strings.TrimSpace(prompt) == "" {
		return uuid.Nil, domain.ErrInvalidPrompt
	}
	original, err := s.tasks.GetByCorrelationID(ctx, originalCorrelationID)
	if err != nil {
		return uuid.Nil, err
	}
	if original.UserID != userID {
		return uuid.Nil, domain.ErrUnauthorized
	}
	if original.ProviderJobID == "" {
		return uuid.Nil, domain.ErrTaskNotReady
	}

	correlationID := domain.NewCorrelationID()
	evt := domain.ExtensionStarted{
		CorrelationID:         correlationID,
		OriginalCorrelationID: originalCorrelationID,
		OriginalProviderJobID: original.ProviderJobID,
		UserID:                userID,
		Prompt:                prompt,
		Kind:                  original.Kind,
		Params:                original.Params,
		StartedAt:             s.now(),
	}
	if err := s.bus.Publish(ctx, domain.TopicExtensionStarted, evt); err != nil {
		return uuid.Nil, fmt.Errorf("generation: publish extension: %w", err)
	}
	s.logger.Info().
		Stringer("correlation_id", correlationID).
		Stringer("original_correlation_id", originalCorrelationID).
		Msg("generation: extension started")
	return correlationID, nil
}
