// Package bus provides the event transport between the orchestration
// components: at-least-once publish/subscribe plus cancellable scheduled
// delivery for deadline messages.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one delivered event. Handlers decode Payload themselves; the
// topic identifies the event type.
type Message struct {
	ID          uuid.UUID
	Topic       string
	Payload     []byte
	PublishedAt time.Time
}

// Handler consumes one message. Returning an error requests redelivery;
// delivery is at least once and duplicates must be tolerated.
type Handler func(ctx context.Context, msg Message) error

// Bus is the transport contract used by the orchestrator and consumers.
// Ordering across topics or within a topic is not guaranteed.
type Bus interface {
	Publish(ctx context.Context, topic string, event any) error
	Subscribe(topic string, h Handler)
	// Schedule delivers the event after the given delay unless the returned
	// token is cancelled first.
	Schedule(ctx context.Context, delay time.Duration, topic string, event any) (uuid.UUID, error)
	// Cancel drops a scheduled delivery. Cancelling an unknown or already
	// fired token is a no-op.
	Cancel(ctx context.Context, token uuid.UUID) error
}

func encode(topic string, event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("bus: encode %s: %w", topic, err)
	}
	return payload, nil
}
