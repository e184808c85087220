package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/storage"
)

// Recorder applies completion/failure events to the task record and performs
// the best-effort attachment of results onto the originating conversation.
// The task record stays the source of truth; attachment is advisory and its
// failures are logged, never redelivered.
type Recorder struct {
	tasks         domain.TaskRepository
	conversations domain.ConversationRepository
	assets        domain.AssetRepository
	store         *storage.FileStore
	httpClient    *http.Client
	logger        zerolog.Logger
	now           func() time.Time
}

// NewRecorder wires the completion side. store and httpClient may be nil, in
// which case result media is referenced by URL without a local mirror.
func NewRecorder(tasks domain.TaskRepository, conversations domain.ConversationRepository, assets domain.AssetRepository, store *storage.FileStore, httpClient *http.Client, logger zerolog.Logger) *Recorder {
	return &Recorder{
		tasks:         tasks,
		conversations: conversations,
		assets:        assets,
		store:         store,
		httpClient:    httpClient,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// timeoutErrorCode is recorded when the deadline fires before any provider
// outcome arrived.
const timeoutErrorCode = 408

// Register subscribes the recorder's handlers on the bus.
func (r *Recorder) Register(b bus.Bus) {
	b.Subscribe(domain.TopicGenerationCompleted, r.handleCompleted)
	b.Subscribe(domain.TopicGenerationFailed, r.handleFailed)
	b.Subscribe(domain.TopicGenerationTimeout, r.handleTimeout)
}

func (r *Recorder) handleCompleted(ctx context.Context, msg bus.Message) error {
	var evt domain.GenerationCompleted
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		r.logger.Error().Err(err).Msg("recorder: drop undecodable GenerationCompleted")
		return nil
	}
	task, err := r.tasks.GetByCorrelationID(ctx, evt.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Stringer("correlation_id", evt.CorrelationID).Msg("recorder: completion for unknown task dropped")
			return nil
		}
		return fmt.Errorf("recorder: load task: %w", err)
	}
	if task.Status.Terminal() {
		return nil
	}
	completedAt := evt.CompletedAt
	if completedAt.IsZero() {
		completedAt = r.now()
	}
	if err := r.tasks.MarkCompleted(ctx, evt.CorrelationID, evt.ResultURLs, evt.Resolution, completedAt); err != nil {
		return fmt.Errorf("recorder: mark completed: %w", err)
	}
	r.reconcile(ctx, task, evt)
	return nil
}

func (r *Recorder) handleFailed(ctx context.Context, msg bus.Message) error {
	var evt domain.GenerationFailed
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		r.logger.Error().Err(err).Msg("recorder: drop undecodable GenerationFailed")
		return nil
	}
	task, err := r.tasks.GetByCorrelationID(ctx, evt.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Stringer("correlation_id", evt.CorrelationID).Msg("recorder: failure for unknown task dropped")
			return nil
		}
		return fmt.Errorf("recorder: load task: %w", err)
	}
	if task.Status.Terminal() {
		return nil
	}
	failedAt := evt.FailedAt
	if failedAt.IsZero() {
		failedAt = r.now()
	}
	if err := r.tasks.MarkFailed(ctx, evt.CorrelationID, evt.ErrorCode, evt.ErrorMessage, failedAt); err != nil {
		return fmt.Errorf("recorder: mark failed: %w", err)
	}
	return nil
}

// handleTimeout surfaces a fired deadline on the task record so a workflow
// the provider never answered does not sit in Processing forever. The saga
// resolves itself off the same message; this is the query-side mirror.
func (r *Recorder) handleTimeout(ctx context.Context, msg bus.Message) error {
	var evt domain.GenerationTimeout
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		r.logger.Error().Err(err).Msg("recorder: drop undecodable GenerationTimeout")
		return nil
	}
	task, err := r.tasks.GetByCorrelationID(ctx, evt.CorrelationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Stringer("correlation_id", evt.CorrelationID).Msg("recorder: timeout for unknown task dropped")
			return nil
		}
		return fmt.Errorf("recorder: load task: %w", err)
	}
	if task.Status.Terminal() {
		return nil
	}
	if err := r.tasks.MarkFailed(ctx, evt.CorrelationID, timeoutErrorCode, "generation timed out", r.now()); err != nil {
		return fmt.Errorf("recorder: mark timed out: %w", err)
	}
	return nil
}

// reconcile ingests the result media and attaches it to the conversation
// whose config blob contains this correlation id. The link is a text
// containment match against a freeform config field; when it is anything but
// exactly one record the attachment is skipped.
func (r *Recorder) reconcile(ctx context.Context, task *domain.TaskRecord, evt domain.GenerationCompleted) {
	ingested := r.ingest(ctx, task, evt)
	if len(ingested) == 0 {
		return
	}
	if err := r.assets.SaveAll(ctx, ingested); err != nil {
		r.logger.Error().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("recorder: save result assets failed")
		return
	}

	matches, err := r.conversations.FindByConfigContains(ctx, task.UserID, task.CorrelationID.String())
	if err != nil {
		r.logger.Error().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("recorder: conversation lookup failed")
		return
	}
	if len(matches) != 1 {
		r.logger.Info().
			Stringer("correlation_id", task.CorrelationID).
			Int("matches", len(matches)).
			Msg("recorder: attachment skipped, no unique conversation match")
		return
	}
	ids := make([]uuid.UUID, 0, len(ingested))
	for _, asset := range ingested {
		ids = append(ids, asset.ID)
	}
	if err := r.conversations.AttachResults(ctx, matches[0].ID, ids); err != nil {
		r.logger.Error().Err(err).Stringer("conversation_id", matches[0].ID).Msg("recorder: attach results failed")
		return
	}
	r.logger.Info().
		Stringer("correlation_id", task.CorrelationID).
		Stringer("conversation_id", matches[0].ID).
		Int("assets", len(ids)).
		Msg("recorder: results attached")
}

func (r *Recorder) ingest(ctx context.Context, task *domain.TaskRecord, evt domain.GenerationCompleted) []domain.ResultAsset {
	mime := "image/png"
	category := "images"
	if task.Kind == domain.TaskKindVideo {
		mime = "video/mp4"
		category = "videos"
	}
	assets := make([]domain.ResultAsset, 0, len(evt.ResultURLs))
	for idx, url := range evt.ResultURLs {
		asset := domain.ResultAsset{
			ID:            uuid.New(),
			CorrelationID: task.CorrelationID,
			UserID:        task.UserID,
			URL:           url,
			MIME:          mime,
			Resolution:    evt.Resolution,
			CreatedAt:     r.now(),
		}
		if key := r.mirror(ctx, task, category, url, idx); key != "" {
			asset.StorageKey = key
		}
		assets = append(assets, asset)
	}
	return assets
}

// mirror downloads one result and writes it under the file store. Failures
// only cost the local copy; the asset keeps its provider URL.
func (r *Recorder) mirror(ctx context.Context, task *domain.TaskRecord, category, url string, idx int) string {
	if r.store == nil || r.httpClient == nil {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", url).Msg("recorder: result download failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("recorder: result download rejected")
		return ""
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", url).Msg("recorder: result read failed")
		return ""
	}
	ext := ".png"
	if category == "videos" {
		ext = ".mp4"
	}
	key, err := r.store.WriteResult(ctx, category, task.CorrelationID, idx, ext, data)
	if err != nil {
		r.logger.Warn().Err(err).Stringer("correlation_id", task.CorrelationID).Msg("recorder: mirror write failed")
		return ""
	}
	return key
}
