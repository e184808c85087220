// Package generation contains the event consumers and the synchronous
// service around generation task records: submission, completion recording,
// reconciliation and the status/refresh/extend surface.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/providers/pixverse"
)

// providerErrorCode is the code recorded when the provider gives us nothing
// better (network failures, malformed responses).
const providerErrorCode = 500

// Submitter handles GenerationStarted/ExtensionStarted: it creates the task
// record, calls the provider and reports the outcome as JobCreated or
// GenerationFailed. Provider failures never escape a handler; they become
// failure events so message processing survives provider outages.
type Submitter struct {
	tasks           domain.TaskRepository
	provider        pixverse.Generator
	bus             bus.Bus
	logger          zerolog.Logger
	callbackBaseURL string
	now             func() time.Time
}

// NewSubmitter wires a submission consumer. callbackBaseURL is the public
// base this service is reachable on; the provider calls back there.
func NewSubmitter(tasks domain.TaskRepository, provider pixverse.Generator, b bus.Bus, callbackBaseURL string, logger zerolog.Logger) *Submitter {
	return &Submitter{
		tasks:           tasks,
		provider:        provider,
		bus:             b,
		logger:          logger,
		callbackBaseURL: callbackBaseURL,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Register subscribes the submitter's handlers on the bus.
func (s *Submitter) Register(b bus.Bus) {
	b.Subscribe(domain.TopicGenerationStarted, s.handleStarted)
	b.Subscribe(domain.TopicExtensionStarted, s.handleExtension)
}

func (s *Submitter) handleStarted(ctx context.Context, msg bus.Message) error {
	var evt domain.GenerationStarted
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		s.logger.Error().Err(err).Msg("submitter: drop undecodable GenerationStarted")
		return nil
	}
	task := &domain.TaskRecord{
		ID:            uuid.New(),
		CorrelationID: evt.CorrelationID,
		UserID:        evt.UserID,
		Prompt:        evt.Prompt,
		Kind:          evt.Kind,
		Params:        evt.Params,
		Status:        domain.TaskStatusSubmitted,
		CreatedAt:     s.now(),
	}
	if done, err := s.createRecord(ctx, task); done || err != nil {
		return err
	}
	jobID, err := s.provider.Submit(ctx, submitRequest(evt.Prompt, evt.Kind, evt.Params), s.callbackURL(evt.CorrelationID))
	return s.reportOutcome(ctx, evt.CorrelationID, jobID, err)
}

func (s *Submitter) handleExtension(ctx context.Context, msg bus.Message) error {
	var evt domain.ExtensionStarted
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		s.logger.Error().Err(err).Msg("submitter: drop undecodable ExtensionStarted")
		return nil
	}
	task := &domain.TaskRecord{
		ID:            uuid.New(),
		CorrelationID: evt.CorrelationID,
		UserID:        evt.UserID,
		Prompt:        evt.Prompt,
		Kind:          evt.Kind,
		Params:        evt.Params,
		Status:        domain.TaskStatusSubmitted,
		CreatedAt:     s.now(),
	}
	if done, err := s.createRecord(ctx, task); done || err != nil {
		return err
	}
	jobID, err := s.provider.Extend(ctx, evt.OriginalProviderJobID, submitRequest(evt.Prompt, evt.Kind, evt.Params), s.callbackURL(evt.CorrelationID))
	return s.reportOutcome(ctx, evt.CorrelationID, jobID, err)
}

// createRecord inserts the task record. A record that already exists means a
// redelivered start event; done=true tells the caller to skip the provider
// call instead of submitting the same job twice.
func (s *Submitter) createRecord(ctx context.Context, task *domain.TaskRecord) (done bool, err error) {
	if err := s.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			s.logger.Info().Stringer("correlation_id", task.CorrelationID).Msg("submitter: duplicate start event dropped")
			return true, nil
		}
		return false, fmt.Errorf("submitter: create task record: %w", err)
	}
	return false, nil
}

// reportOutcome turns the provider call result into the record update and the
// follow-up event. It always returns nil for provider-side failures.
func (s *Submitter) reportOutcome(ctx context.Context, correlationID uuid.UUID, jobID string, submitErr error) error {
	if submitErr == nil && jobID != "" {
		if err := s.tasks.MarkProcessing(ctx, correlationID, jobID); err != nil {
			return fmt.Errorf("submitter: mark processing: %w", err)
		}
		return s.bus.Publish(ctx, domain.TopicJobCreated, domain.JobCreated{
			CorrelationID: correlationID,
			ProviderJobID: jobID,
			CreatedAt:     s.now(),
		})
	}

	code := providerErrorCode
	message := "provider submission failed"
	if submitErr != nil {
		message = submitErr.Error()
		var apiErr *pixverse.APIError
		if errors.As(submitErr, &apiErr) {
			code = apiErr.Code
			message = apiErr.Message
		}
	} else {
		message = "provider returned no job id"
	}
	s.logger.Warn().
		Stringer("correlation_id", correlationID).
		Int("error_code", code).
		Str("error_message", message).
		Msg("submitter: submission failed")

	failedAt := s.now()
	if err := s.tasks.MarkFailed(ctx, correlationID, code, message, failedAt); err != nil {
		return fmt.Errorf("submitter: mark failed: %w", err)
	}
	return s.bus.Publish(ctx, domain.TopicGenerationFailed, domain.GenerationFailed{
		CorrelationID: correlationID,
		ErrorCode:     code,
		ErrorMessage:  message,
		FailedAt:      failedAt,
	})
}

func (s *Submitter) callbackURL(correlationID uuid.UUID) string {
	return fmt.Sprintf("%s/v1/callbacks/generation?correlation_id=%s", s.callbackBaseURL, correlationID)
}

func submitRequest(prompt string, kind domain.TaskKind, params domain.TaskParams) pixverse.SubmitRequest {
	return pixverse.SubmitRequest{
		Prompt:      prompt,
		Kind:        string(kind),
		AspectRatio: params.AspectRatio,
		Model:       params.Model,
		Seed:        params.Seed,
		Quantity:    params.Quantity,
	}
}
