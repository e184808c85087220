package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
	"server/internal/saga"
)

// SagaInstanceRepositoryPG implements saga.InstanceStore with a
// compare-and-swap write keyed on the version column.
type SagaInstanceRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSagaInstanceRepository creates a saga instance store backed by PostgreSQL.
func NewSagaInstanceRepository(pool *pgxpool.Pool) *SagaInstanceRepositoryPG {
	return &SagaInstanceRepositoryPG{pool: pool}
}

// Get fetches the instance for a correlation id.
func (r *SagaInstanceRepositoryPG) Get(ctx context.Context, correlationID uuid.UUID) (*saga.Instance, error) {
	query := `
SELECT correlation_id, current_state, timeout_token, version, user_id, prompt, kind,
       aspect_ratio, model, seed, quantity, provider_job_id, result_urls, resolution,
       error_code, error_message, created_at, updated_at, completed_at
FROM saga_instances
WHERE correlation_id = $1;
`
	row := r.pool.QueryRow(ctx, query, correlationID)
	var inst saga.Instance
	var urls []byte
	if err := row.Scan(
		&inst.CorrelationID,
		&inst.CurrentState,
		&inst.TimeoutToken,
		&inst.Version,
		&inst.UserID,
		&inst.Prompt,
		&inst.Kind,
		&inst.Params.AspectRatio,
		&inst.Params.Model,
		&inst.Params.Seed,
		&inst.Params.Quantity,
		&inst.ProviderJobID,
		&urls,
		&inst.Resolution,
		&inst.ErrorCode,
		&inst.ErrorMessage,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&inst.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &inst.ResultURLs); err != nil {
			return nil, fmt.Errorf("decode result urls: %w", err)
		}
	}
	return &inst, nil
}

// Save inserts the first version or updates iff the stored version matches
// expectedVersion. Losing writers get domain.ErrVersionConflict and retry
// against refreshed state.
func (r *SagaInstanceRepositoryPG) Save(ctx context.Context, inst *saga.Instance, expectedVersion int64) error {
	urls, err := encodeURLs(inst.ResultURLs)
	if err != nil {
		return err
	}
	if expectedVersion == 0 {
		query := `
INSERT INTO saga_instances (correlation_id, current_state, timeout_token, version, user_id, prompt, kind, aspect_ratio, model, seed, quantity, provider_job_id, result_urls, resolution, error_code, error_message, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (correlation_id) DO NOTHING;
`
		tag, err := r.pool.Exec(ctx, query,
			inst.CorrelationID, inst.CurrentState, inst.TimeoutToken, inst.Version,
			inst.UserID, inst.Prompt, inst.Kind,
			inst.Params.AspectRatio, inst.Params.Model, inst.Params.Seed, inst.Params.Quantity,
			inst.ProviderJobID, urls, inst.Resolution,
			inst.ErrorCode, inst.ErrorMessage,
			inst.CreatedAt, inst.UpdatedAt, inst.CompletedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
		return nil
	}

	query := `
UPDATE saga_instances
SET current_state = $2, timeout_token = $3, version = $4, provider_job_id = $5,
    result_urls = $6, resolution = $7, error_code = $8, error_message = $9,
    updated_at = $10, completed_at = $11
WHERE correlation_id = $1 AND version = $12;
`
	tag, err := r.pool.Exec(ctx, query,
		inst.CorrelationID, inst.CurrentState, inst.TimeoutToken, inst.Version,
		inst.ProviderJobID, urls, inst.Resolution,
		inst.ErrorCode, inst.ErrorMessage,
		inst.UpdatedAt, inst.CompletedAt,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

var _ saga.InstanceStore = (*SagaInstanceRepositoryPG)(nil)
