package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

const taskColumns = `id, correlation_id, user_id, prompt, kind, aspect_ratio, model, seed, quantity,
provider_job_id, status, result_urls, resolution, error_code, error_message, created_at, completed_at`

// Create inserts a new task record. The correlation id is the natural key;
// a second insert for the same id is rejected with ErrAlreadyExists so
// redelivered start events cannot create a second record or a second
// provider job.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.TaskRecord) error {
	urls, err := encodeURLs(task.ResultURLs)
	if err != nil {
		return err
	}
	query := `
INSERT INTO tasks (id, correlation_id, user_id, prompt, kind, aspect_ratio, model, seed, quantity, provider_job_id, status, result_urls, resolution, error_code, error_message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (correlation_id) DO NOTHING;
`
	tag, err := r.pool.Exec(ctx, query,
		task.ID,
		task.CorrelationID,
		task.UserID,
		task.Prompt,
		task.Kind,
		task.Params.AspectRatio,
		task.Params.Model,
		task.Params.Seed,
		task.Params.Quantity,
		task.ProviderJobID,
		task.Status,
		urls,
		task.Resolution,
		task.ErrorCode,
		task.ErrorMessage,
		task.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// MarkProcessing records the provider job id after a successful submission.
func (r *TaskRepositoryPG) MarkProcessing(ctx context.Context, correlationID uuid.UUID, providerJobID string) error {
	query := `
UPDATE tasks
SET provider_job_id = $2, status = $3
WHERE correlation_id = $1 AND completed_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, correlationID, providerJobID, domain.TaskStatusProcessing)
	return err
}

// MarkCompleted stores the result snapshot. A record already terminal is left
// untouched so redelivered completions are no-ops.
func (r *TaskRepositoryPG) MarkCompleted(ctx context.Context, correlationID uuid.UUID, resultURLs []string, resolution string, completedAt time.Time) error {
	urls, err := encodeURLs(resultURLs)
	if err != nil {
		return err
	}
	query := `
UPDATE tasks
SET status = $2, result_urls = $3, resolution = $4, completed_at = $5
WHERE correlation_id = $1 AND completed_at IS NULL;
`
	_, err = r.pool.Exec(ctx, query, correlationID, domain.TaskStatusCompleted, urls, resolution, completedAt)
	return err
}

// MarkFailed stores the failure snapshot, same no-op rule as MarkCompleted.
func (r *TaskRepositoryPG) MarkFailed(ctx context.Context, correlationID uuid.UUID, errorCode int, errorMessage string, failedAt time.Time) error {
	query := `
UPDATE tasks
SET status = $2, error_code = $3, error_message = $4, completed_at = $5
WHERE correlation_id = $1 AND completed_at IS NULL;
`
	_, err := r.pool.Exec(ctx, query, correlationID, domain.TaskStatusFailed, errorCode, errorMessage, failedAt)
	return err
}

// GetByCorrelationID fetches a task by its correlation id.
func (r *TaskRepositoryPG) GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*domain.TaskRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE correlation_id = $1;`, taskColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, correlationID))
}

// GetByProviderJobID fetches a task by the provider's own job id.
func (r *TaskRepositoryPG) GetByProviderJobID(ctx context.Context, providerJobID string) (*domain.TaskRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE provider_job_id = $1;`, taskColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, providerJobID))
}

// ListStuckProcessing returns processing tasks created before the cutoff.
func (r *TaskRepositoryPG) ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.TaskRecord, error) {
	query := fmt.Sprintf(`
SELECT %s FROM tasks
WHERE status = $1 AND created_at < $2
ORDER BY created_at ASC
LIMIT $3;
`, taskColumns)
	rows, err := r.pool.Query(ctx, query, domain.TaskStatusProcessing, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.TaskRecord
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func (r *TaskRepositoryPG) scanOne(row pgx.Row) (*domain.TaskRecord, error) {
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func scanTask(row pgx.Row) (*domain.TaskRecord, error) {
	var task domain.TaskRecord
	var urls []byte
	if err := row.Scan(
		&task.ID,
		&task.CorrelationID,
		&task.UserID,
		&task.Prompt,
		&task.Kind,
		&task.Params.AspectRatio,
		&task.Params.Model,
		&task.Params.Seed,
		&task.Params.Quantity,
		&task.ProviderJobID,
		&task.Status,
		&urls,
		&task.Resolution,
		&task.ErrorCode,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &task.ResultURLs); err != nil {
			return nil, fmt.Errorf("decode result urls: %w", err)
		}
	}
	return &task, nil
}

func encodeURLs(urls []string) ([]byte, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return nil, fmt.Errorf("encode result urls: %w", err)
	}
	return encoded, nil
}
