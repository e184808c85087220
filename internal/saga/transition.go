package saga

import (
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

// Effect is an externally observable action the orchestrator must perform
// around a transition. Scheduling and cancelling the deadline are the only
// effects the saga owns; everything else belongs to consumers.
type Effect interface{ effect() }

// ScheduleTimeout arms the deadline message for this workflow.
type ScheduleTimeout struct {
	Delay time.Duration
}

// CancelTimeout disarms a previously scheduled deadline.
type CancelTimeout struct {
	Token uuid.UUID
}

func (ScheduleTimeout) effect() {}
func (CancelTimeout) effect()   {}

const timeoutErrorCode = 408

// Next is the pure transition function: given the current instance and one
// event it returns the successor instance and the effects to perform. ok is
// false when the event does not apply to the current state; such events are
// dropped, which is what makes redelivery and stale timeouts harmless.
func Next(inst Instance, event any, now time.Time) (Instance, []Effect, bool) {
	if inst.CurrentState.Terminal() {
		return inst, nil, false
	}

	switch evt := event.(type) {
	case domain.GenerationStarted:
		if inst.CurrentState != StateInitial {
			return inst, nil, false
		}
		next := inst
		next.CorrelationID = evt.CorrelationID
		next.CurrentState = StateSubmitted
		next.UserID = evt.UserID
		next.Prompt = evt.Prompt
		next.Kind = evt.Kind
		next.Params = evt.Params
		next.CreatedAt = now
		return bump(next, now), []Effect{ScheduleTimeout{Delay: TimeoutFor(evt.Kind)}}, true

	case domain.ExtensionStarted:
		if inst.CurrentState != StateInitial {
			return inst, nil, false
		}
		next := inst
		next.CorrelationID = evt.CorrelationID
		next.CurrentState = StateSubmitted
		next.UserID = evt.UserID
		next.Prompt = evt.Prompt
		next.Kind = evt.Kind
		next.Params = evt.Params
		next.CreatedAt = now
		return bump(next, now), []Effect{ScheduleTimeout{Delay: TimeoutFor(evt.Kind)}}, true

	case domain.JobCreated:
		if inst.CurrentState != StateSubmitted {
			return inst, nil, false
		}
		next := inst
		next.CurrentState = StateProcessing
		next.ProviderJobID = evt.ProviderJobID
		return bump(next, now), nil, true

	case domain.GenerationCompleted:
		if inst.CurrentState != StateProcessing {
			return inst, nil, false
		}
		next := inst
		next.CurrentState = StateCompleted
		next.ResultURLs = evt.ResultURLs
		next.Resolution = evt.Resolution
		completed := evt.CompletedAt
		if completed.IsZero() {
			completed = now
		}
		next.CompletedAt = &completed
		return terminal(next, now)

	case domain.GenerationFailed:
		if inst.CurrentState != StateSubmitted && inst.CurrentState != StateProcessing {
			return inst, nil, false
		}
		next := inst
		next.CurrentState = StateFailed
		next.ErrorCode = evt.ErrorCode
		next.ErrorMessage = evt.ErrorMessage
		failed := evt.FailedAt
		if failed.IsZero() {
			failed = now
		}
		next.CompletedAt = &failed
		return terminal(next, now)

	case domain.GenerationTimeout:
		if inst.CurrentState != StateSubmitted && inst.CurrentState != StateProcessing {
			return inst, nil, false
		}
		next := inst
		next.CurrentState = StateFailed
		next.ErrorCode = timeoutErrorCode
		next.ErrorMessage = "generation timed out"
		completed := now
		next.CompletedAt = &completed
		// The deadline itself fired, so there is nothing left to cancel.
		next.TimeoutToken = nil
		return bump(next, now), nil, true
	}

	return inst, nil, false
}

// terminal clears the timeout token and emits a CancelTimeout effect for the
// one that was armed.
func terminal(next Instance, now time.Time) (Instance, []Effect, bool) {
	var effects []Effect
	if next.TimeoutToken != nil {
		effects = append(effects, CancelTimeout{Token: *next.TimeoutToken})
		next.TimeoutToken = nil
	}
	return bump(next, now), effects, true
}

func bump(next Instance, now time.Time) Instance {
	next.Version++
	next.UpdatedAt = now
	return next
}
