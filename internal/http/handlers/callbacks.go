package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"server/internal/domain"
)

// providerCallback is the provider's webhook payload. Field names follow the
// provider's wire format.
type providerCallback struct {
	TaskID     string   `json:"taskId"`
	Code       int      `json:"code"`
	Message    string   `json:"message"`
	ResultURLs []string `json:"resultUrls"`
	OriginURLs []string `json:"originUrls"`
	Resolution string   `json:"resolution"`
}

const callbackSuccessCode = 200

// GenerationCallback translates an inbound provider webhook into the
// canonical completed/failed event. The provider only knows its own job id,
// so the task record is the bridge back to the correlation id. Whatever
// happens internally the provider gets a 200; anything else triggers
// provider-side retry storms.
func (a *App) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	ack := func() { a.json(w, http.StatusOK, map[string]string{"status": "ok"}) }

	var payload providerCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.Logger.Warn().Err(err).Msg("callback: undecodable payload acknowledged")
		ack()
		return
	}
	if payload.TaskID == "" {
		a.Logger.Warn().Msg("callback: payload without task id acknowledged")
		ack()
		return
	}

	task, err := a.Tasks.GetByProviderJobID(r.Context(), payload.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The callback may race ahead of the submission consumer's write
			// or be a provider retry for a purged task.
			a.Logger.Info().Str("provider_job_id", payload.TaskID).Msg("callback: unknown job id acknowledged")
		} else {
			a.Logger.Error().Err(err).Str("provider_job_id", payload.TaskID).Msg("callback: task lookup failed")
		}
		ack()
		return
	}

	now := time.Now().UTC()
	if payload.Code == callbackSuccessCode {
		urls := payload.ResultURLs
		if len(urls) == 0 {
			urls = payload.OriginURLs
		}
		evt := domain.GenerationCompleted{
			CorrelationID: task.CorrelationID,
			ProviderJobID: payload.TaskID,
			ResultURLs:    urls,
			Resolution:    payload.Resolution,
			CompletedAt:   now,
		}
		if err := a.Bus.Publish(r.Context(), domain.TopicGenerationCompleted, evt); err != nil {
			a.Logger.Error().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("callback: publish completion failed")
		}
	} else {
		evt := domain.GenerationFailed{
			CorrelationID: task.CorrelationID,
			ProviderJobID: payload.TaskID,
			ErrorCode:     payload.Code,
			ErrorMessage:  payload.Message,
			FailedAt:      now,
		}
		if err := a.Bus.Publish(r.Context(), domain.TopicGenerationFailed, evt); err != nil {
			a.Logger.Error().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("callback: publish failure failed")
		}
	}
	ack()
}
