package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryBus is an in-process Bus for tests and single-process deployments.
// Delivery is synchronous in the publisher's goroutine; scheduled messages
// fire on their own timer goroutine.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	timers   map[uuid.UUID]*time.Timer
	logger   zerolog.Logger
}

// NewMemoryBus constructs an empty in-memory bus.
func NewMemoryBus(logger zerolog.Logger) *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		timers:   make(map[uuid.UUID]*time.Timer),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic.
func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event to every subscriber of the topic. A handler
// error is logged and does not stop delivery to the remaining handlers.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event any) error {
	payload, err := encode(topic, event)
	if err != nil {
		return err
	}
	msg := Message{ID: uuid.New(), Topic: topic, Payload: payload, PublishedAt: time.Now().UTC()}
	b.dispatch(ctx, msg)
	return nil
}

// Schedule arms a timer that publishes the event after the delay.
func (b *MemoryBus) Schedule(ctx context.Context, delay time.Duration, topic string, event any) (uuid.UUID, error) {
	payload, err := encode(topic, event)
	if err != nil {
		return uuid.Nil, err
	}
	token := uuid.New()
	msg := Message{ID: token, Topic: topic, Payload: payload, PublishedAt: time.Now().UTC()}

	b.mu.Lock()
	b.timers[token] = time.AfterFunc(delay, func() {
		b.mu.Lock()
		_, live := b.timers[token]
		delete(b.timers, token)
		b.mu.Unlock()
		if !live {
			return
		}
		b.dispatch(context.Background(), msg)
	})
	b.mu.Unlock()
	return token, nil
}

// Cancel stops a pending scheduled delivery.
func (b *MemoryBus) Cancel(ctx context.Context, token uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[token]; ok {
		t.Stop()
		delete(b.timers, token)
	}
	return nil
}

func (b *MemoryBus) dispatch(ctx context.Context, msg Message) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[msg.Topic]...)
	b.mu.RUnlock()
	for _, h := range hs {
		if err := h(ctx, msg); err != nil {
			b.logger.Error().Err(err).Str("topic", msg.Topic).Msg("bus: handler failed")
		}
	}
}

var _ Bus = (*MemoryBus)(nil)
