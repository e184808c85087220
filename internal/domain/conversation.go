package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the originating conversational record a completed
// generation is attached to. There is no foreign key between a task and its
// conversation; the link is a correlation id embedded somewhere inside
// ConfigJSON at request time.
type Conversation struct {
	ID             uuid.UUID
	UserID         string
	Title          string
	ConfigJSON     []byte
	ResultAssetIDs []uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
