package saga

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
)

// maxApplyRetries bounds how often a losing writer re-reads and retries after
// a version conflict before handing the message back to the bus.
const maxApplyRetries = 5

// Orchestrator subscribes to every workflow topic and applies each event to
// the saga instance for its correlation id. Its only side effects besides
// instance storage are scheduling and cancelling the deadline message.
type Orchestrator struct {
	store  InstanceStore
	bus    bus.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewOrchestrator wires an orchestrator over the given store and bus.
func NewOrchestrator(store InstanceStore, b bus.Bus, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{store: store, bus: b, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register subscribes the orchestrator's handlers on the bus.
func (o *Orchestrator) Register(b bus.Bus) {
	b.Subscribe(domain.TopicGenerationStarted, decodeInto[domain.GenerationStarted](o))
	b.Subscribe(domain.TopicExtensionStarted, decodeInto[domain.ExtensionStarted](o))
	b.Subscribe(domain.TopicJobCreated, decodeInto[domain.JobCreated](o))
	b.Subscribe(domain.TopicGenerationCompleted, decodeInto[domain.GenerationCompleted](o))
	b.Subscribe(domain.TopicGenerationFailed, decodeInto[domain.GenerationFailed](o))
	b.Subscribe(domain.TopicGenerationTimeout, decodeInto[domain.GenerationTimeout](o))
}

// Instance exposes the current snapshot for a correlation id.
func (o *Orchestrator) Instance(ctx context.Context, correlationID uuid.UUID) (*Instance, error) {
	return o.store.Get(ctx, correlationID)
}

func decodeInto[T any](o *Orchestrator) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		var evt T
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			// Malformed payloads can never succeed; drop instead of redelivering.
			o.logger.Error().Err(err).Str("topic", msg.Topic).Msg("saga: drop undecodable event")
			return nil
		}
		return o.apply(ctx, correlationOf(evt), evt)
	}
}

func correlationOf(event any) uuid.UUID {
	switch evt := event.(type) {
	case domain.GenerationStarted:
		return evt.CorrelationID
	case domain.ExtensionStarted:
		return evt.CorrelationID
	case domain.JobCreated:
		return evt.CorrelationID
	case domain.GenerationCompleted:
		return evt.CorrelationID
	case domain.GenerationFailed:
		return evt.CorrelationID
	case domain.GenerationTimeout:
		return evt.CorrelationID
	}
	return uuid.Nil
}

// apply loads (or starts) the instance, runs the transition function and
// persists the successor with a CAS write, retrying against refreshed state
// when a concurrent writer wins.
func (o *Orchestrator) apply(ctx context.Context, correlationID uuid.UUID, event any) error {
	if correlationID == uuid.Nil {
		o.logger.Warn().Str("event", fmt.Sprintf("%T", event)).Msg("saga: drop event without correlation id")
		return nil
	}

	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		current, err := o.store.Get(ctx, correlationID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("saga: load instance %s: %w", correlationID, err)
			}
			current = &Instance{CorrelationID: correlationID, CurrentState: StateInitial}
		}

		next, effects, ok := Next(*current, event, o.now())
		if !ok {
			o.logger.Debug().
				Stringer("correlation_id", correlationID).
				Str("state", string(current.CurrentState)).
				Str("event", fmt.Sprintf("%T", event)).
				Msg("saga: event does not apply, dropped")
			return nil
		}

		// Arm the deadline before the save so the token is stored with the
		// transition; if the save loses the CAS the fresh timer is disarmed.
		var armed *uuid.UUID
		var cancels []uuid.UUID
		for _, effect := range effects {
			switch e := effect.(type) {
			case ScheduleTimeout:
				token, err := o.bus.Schedule(ctx, e.Delay, domain.TopicGenerationTimeout, domain.GenerationTimeout{CorrelationID: correlationID})
				if err != nil {
					return fmt.Errorf("saga: schedule timeout for %s: %w", correlationID, err)
				}
				armed = &token
				next.TimeoutToken = &token
			case CancelTimeout:
				cancels = append(cancels, e.Token)
			}
		}

		if err := o.store.Save(ctx, &next, current.Version); err != nil {
			if armed != nil {
				if cerr := o.bus.Cancel(ctx, *armed); cerr != nil {
					o.logger.Warn().Err(cerr).Stringer("correlation_id", correlationID).Msg("saga: cancel orphaned timeout failed")
				}
			}
			if errors.Is(err, domain.ErrVersionConflict) {
				continue
			}
			return fmt.Errorf("saga: save instance %s: %w", correlationID, err)
		}

		for _, token := range cancels {
			if err := o.bus.Cancel(ctx, token); err != nil {
				// The timeout may still fire; the terminal state drops it.
				o.logger.Warn().Err(err).Stringer("correlation_id", correlationID).Msg("saga: cancel timeout failed")
			}
		}

		o.logger.Info().
			Stringer("correlation_id", correlationID).
			Str("state", string(next.CurrentState)).
			Int64("version", next.Version).
			Msg("saga: transition applied")
		return nil
	}

	return fmt.Errorf("saga: gave up applying %T to %s after %d conflicts", event, correlationID, maxApplyRetries)
}
