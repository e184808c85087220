package saga

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func startedEvent(correlationID uuid.UUID, kind domain.TaskKind) domain.GenerationStarted {
	return domain.GenerationStarted{
		CorrelationID: correlationID,
		UserID:        "user-1",
		Prompt:        "a cat",
		Kind:          kind,
		Params:        domain.TaskParams{AspectRatio: "16:9", Quantity: 1},
		StartedAt:     testNow,
	}
}

func submittedInstance(correlationID uuid.UUID, kind domain.TaskKind) Instance {
	inst, effects, ok := Next(Instance{CorrelationID: correlationID, CurrentState: StateInitial}, startedEvent(correlationID, kind), testNow)
	if !ok {
		panic("start transition rejected")
	}
	if len(effects) != 1 {
		panic("expected schedule effect")
	}
	token := uuid.New()
	inst.TimeoutToken = &token
	return inst
}

func TestNextStartSchedulesTimeout(t *testing.T) {
	correlationID := uuid.New()
	inst, effects, ok := Next(Instance{CorrelationID: correlationID, CurrentState: StateInitial}, startedEvent(correlationID, domain.TaskKindImage), testNow)
	if !ok {
		t.Fatalf("expected transition to apply")
	}
	if inst.CurrentState != StateSubmitted {
		t.Fatalf("state = %q, want %q", inst.CurrentState, StateSubmitted)
	}
	if inst.Version != 1 {
		t.Fatalf("version = %d, want 1", inst.Version)
	}
	if inst.Prompt != "a cat" || inst.UserID != "user-1" {
		t.Fatalf("request echo not captured: %+v", inst)
	}
	if len(effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(effects))
	}
	schedule, ok := effects[0].(ScheduleTimeout)
	if !ok {
		t.Fatalf("effect = %T, want ScheduleTimeout", effects[0])
	}
	if schedule.Delay != ImageTimeout {
		t.Fatalf("delay = %s, want %s", schedule.Delay, ImageTimeout)
	}
}

func TestNextVideoTimeoutIsLonger(t *testing.T) {
	correlationID := uuid.New()
	_, effects, _ := Next(Instance{CorrelationID: correlationID, CurrentState: StateInitial}, startedEvent(correlationID, domain.TaskKindVideo), testNow)
	if schedule := effects[0].(ScheduleTimeout); schedule.Delay != VideoTimeout {
		t.Fatalf("delay = %s, want %s", schedule.Delay, VideoTimeout)
	}
}

func TestNextJobCreatedMovesToProcessing(t *testing.T) {
	correlationID := uuid.New()
	inst := submittedInstance(correlationID, domain.TaskKindImage)

	next, effects, ok := Next(inst, domain.JobCreated{CorrelationID: correlationID, ProviderJobID: "J1"}, testNow)
	if !ok {
		t.Fatalf("expected transition to apply")
	}
	if next.CurrentState != StateProcessing {
		t.Fatalf("state = %q, want %q", next.CurrentState, StateProcessing)
	}
	if next.ProviderJobID != "J1" {
		t.Fatalf("provider job id = %q, want J1", next.ProviderJobID)
	}
	if len(effects) != 0 {
		t.Fatalf("unexpected effects: %v", effects)
	}
	if next.TimeoutToken == nil {
		t.Fatalf("timeout token must survive into processing")
	}

	// Same event again is a duplicate and must be dropped.
	if _, _, ok := Next(next, domain.JobCreated{CorrelationID: correlationID, ProviderJobID: "J1"}, testNow); ok {
		t.Fatalf("duplicate JobCreated applied in processing state")
	}
}

func TestNextCompletedCancelsTimeout(t *testing.T) {
	correlationID := uuid.New()
	inst := submittedInstance(correlationID, domain.TaskKindImage)
	inst, _, _ = Next(inst, domain.JobCreated{CorrelationID: correlationID, ProviderJobID: "J1"}, testNow)
	armed := *inst.TimeoutToken

	completedAt := testNow.Add(time.Minute)
	next, effects, ok := Next(inst, domain.GenerationCompleted{
		CorrelationID: correlationID,
		ProviderJobID: "J1",
		ResultURLs:    []string{"https://x/1.mp4"},
		Resolution:    "1080p",
		CompletedAt:   completedAt,
	}, testNow)
	if !ok {
		t.Fatalf("expected transition to apply")
	}
	if next.CurrentState != StateCompleted {
		t.Fatalf("state = %q, want %q", next.CurrentState, StateCompleted)
	}
	if next.TimeoutToken != nil {
		t.Fatalf("timeout token must be cleared in terminal state")
	}
	if next.CompletedAt == nil || !next.CompletedAt.Equal(completedAt) {
		t.Fatalf("completed at = %v, want %v", next.CompletedAt, completedAt)
	}
	if len(effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(effects))
	}
	if cancel := effects[0].(CancelTimeout); cancel.Token != armed {
		t.Fatalf("cancel token = %s, want %s", cancel.Token, armed)
	}
}

func TestNextCompletedRequiresProcessing(t *testing.T) {
	correlationID := uuid.New()
	inst := submittedInstance(correlationID, domain.TaskKindImage)
	if _, _, ok := Next(inst, domain.GenerationCompleted{CorrelationID: correlationID}, testNow); ok {
		t.Fatalf("completion applied before JobCreated")
	}
}

func TestNextFailedFromSubmittedAndProcessing(t *testing.T) {
	correlationID := uuid.New()
	for _, setup := range []func() Instance{
		func() Instance { return submittedInstance(correlationID, domain.TaskKindImage) },
		func() Instance {
			inst := submittedInstance(correlationID, domain.TaskKindImage)
			inst, _, _ = Next(inst, domain.JobCreated{CorrelationID: correlationID, ProviderJobID: "J1"}, testNow)
			return inst
		},
	} {
		inst := setup()
		next, effects, ok := Next(inst, domain.GenerationFailed{CorrelationID: correlationID, ErrorCode: 500, ErrorMessage: "boom", FailedAt: testNow}, testNow)
		if !ok {
			t.Fatalf("expected failure transition from %q", inst.CurrentState)
		}
		if next.CurrentState != StateFailed {
			t.Fatalf("state = %q, want %q", next.CurrentState, StateFailed)
		}
		if next.ErrorCode != 500 || next.ErrorMessage != "boom" {
			t.Fatalf("failure snapshot not recorded: %+v", next)
		}
		if len(effects) != 1 {
			t.Fatalf("expected cancel effect, got %v", effects)
		}
	}
}

func TestNextTimeoutFailsWithoutCancel(t *testing.T) {
	correlationID := uuid.New()
	inst := submittedInstance(correlationID, domain.TaskKindImage)

	next, effects, ok := Next(inst, domain.GenerationTimeout{CorrelationID: correlationID}, testNow)
	if !ok {
		t.Fatalf("expected timeout transition")
	}
	if next.CurrentState != StateFailed {
		t.Fatalf("state = %q, want %q", next.CurrentState, StateFailed)
	}
	if next.CompletedAt == nil || !next.CompletedAt.Equal(testNow) {
		t.Fatalf("completed at = %v, want %v", next.CompletedAt, testNow)
	}
	if next.TimeoutToken != nil {
		t.Fatalf("fired timeout must not leave a token behind")
	}
	if len(effects) != 0 {
		t.Fatalf("the fired timeout has nothing to cancel, got %v", effects)
	}
}

func TestNextTerminalStatesDropEverything(t *testing.T) {
	correlationID := uuid.New()
	inst := submittedInstance(correlationID, domain.TaskKindImage)
	inst, _, _ = Next(inst, domain.GenerationFailed{CorrelationID: correlationID, ErrorCode: 500, FailedAt: testNow}, testNow)

	events := []any{
		startedEvent(correlationID, domain.TaskKindImage),
		domain.JobCreated{CorrelationID: correlationID, ProviderJobID: "J2"},
		domain.GenerationCompleted{CorrelationID: correlationID, ResultURLs: []string{"https://x/1.png"}},
		domain.GenerationFailed{CorrelationID: correlationID, ErrorCode: 400},
		domain.GenerationTimeout{CorrelationID: correlationID},
	}
	for _, event := range events {
		if _, _, ok := Next(inst, event, testNow); ok {
			t.Fatalf("%T applied to terminal state", event)
		}
	}
}
