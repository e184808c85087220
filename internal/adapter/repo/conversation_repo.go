package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// ConversationRepositoryPG implements domain.ConversationRepository.
type ConversationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a conversation repository backed by PostgreSQL.
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepositoryPG {
	return &ConversationRepositoryPG{pool: pool}
}

// FindByConfigContains returns the user's conversations whose freeform config
// blob contains the given text. The config field has no structured link to
// the task, so this is a plain containment match; callers must handle zero or
// multiple results.
func (r *ConversationRepositoryPG) FindByConfigContains(ctx context.Context, userID, text string) ([]domain.Conversation, error) {
	query := `
SELECT id, user_id, title, config_json, result_asset_ids, created_at, updated_at
FROM conversations
WHERE user_id = $1 AND config_json::text LIKE '%' || $2 || '%'
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, userID, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.ConfigJSON, &conv.ResultAssetIDs, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// AttachResults persists the ingested asset ids onto the conversation.
func (r *ConversationRepositoryPG) AttachResults(ctx context.Context, conversationID uuid.UUID, assetIDs []uuid.UUID) error {
	query := `
UPDATE conversations
SET result_asset_ids = $2, updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, conversationID, assetIDs)
	return err
}
