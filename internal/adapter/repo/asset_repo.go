package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// AssetRepositoryPG implements domain.AssetRepository using PostgreSQL.
type AssetRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(pool *pgxpool.Pool) *AssetRepositoryPG {
	return &AssetRepositoryPG{pool: pool}
}

// SaveAll persists a list of ingested result assets.
func (r *AssetRepositoryPG) SaveAll(ctx context.Context, assets []domain.ResultAsset) error {
	if len(assets) == 0 {
		return nil
	}

	query := `
INSERT INTO result_assets (id, correlation_id, user_id, url, storage_key, mime, resolution, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING;
`

	for _, asset := range assets {
		a := asset
		if _, err := r.pool.Exec(ctx, query, a.ID, a.CorrelationID, a.UserID, a.URL, a.StorageKey, a.MIME, a.Resolution, a.CreatedAt); err != nil {
			return err
		}
	}

	return nil
}

// ListByCorrelationID returns all assets ingested for the task.
func (r *AssetRepositoryPG) ListByCorrelationID(ctx context.Context, correlationID uuid.UUID) ([]domain.ResultAsset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, correlation_id, user_id, url, storage_key, mime, resolution, created_at
FROM result_assets
WHERE correlation_id = $1
ORDER BY created_at ASC;
`, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.ResultAsset
	for rows.Next() {
		var asset domain.ResultAsset
		if err := rows.Scan(&asset.ID, &asset.CorrelationID, &asset.UserID, &asset.URL, &asset.StorageKey, &asset.MIME, &asset.Resolution, &asset.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}
