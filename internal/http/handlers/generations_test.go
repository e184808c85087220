package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/generation"
	"server/internal/middleware"
	"server/internal/providers/pixverse"
)

type stubGenerator struct {
	jobID      string
	pollResult *pixverse.PollResult
}

func (g *stubGenerator) Submit(ctx context.Context, req pixverse.SubmitRequest, callbackURL string) (string, error) {
	return g.jobID, nil
}

func (g *stubGenerator) Extend(ctx context.Context, jobID string, req pixverse.SubmitRequest, callbackURL string) (string, error) {
	return g.jobID, nil
}

func (g *stubGenerator) Poll(ctx context.Context, jobID string) (*pixverse.PollResult, error) {
	if g.pollResult != nil {
		return g.pollResult, nil
	}
	return &pixverse.PollResult{Status: pixverse.JobStatusProcessing}, nil
}

func generationApp(tasks *stubTasks, provider *stubGenerator, b *captureBus) *App {
	svc := generation.NewService(tasks, provider, b, zerolog.Nop())
	return NewApp(svc, tasks, b, zerolog.Nop())
}

func authedRequest(method, target, body, userID string, params map[string]string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func seededTask(tasks *stubTasks, userID string, status domain.TaskStatus, jobID string) *domain.TaskRecord {
	task := &domain.TaskRecord{
		ID:            uuid.New(),
		CorrelationID: domain.NewCorrelationID(),
		UserID:        userID,
		Prompt:        "a cat",
		Kind:          domain.TaskKindVideo,
		Status:        status,
		ProviderJobID: jobID,
		CreatedAt:     time.Now().UTC(),
	}
	tasks.byCor[task.CorrelationID] = task
	if jobID != "" {
		tasks.byJobID[jobID] = task
	}
	return task
}

func newStubTasks() *stubTasks {
	return &stubTasks{
		byJobID: map[string]*domain.TaskRecord{},
		byCor:   map[uuid.UUID]*domain.TaskRecord{},
	}
}

func TestGenerationsStartAccepted(t *testing.T) {
	b := &captureBus{}
	app := generationApp(newStubTasks(), &stubGenerator{}, b)

	req := authedRequest(http.MethodPost, "/v1/generations", `{"prompt":"a cat","kind":"video"}`, "user-1", nil)
	rec := httptest.NewRecorder()
	app.GenerationsStart(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp generationStartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := uuid.Parse(resp.CorrelationID); err != nil {
		t.Fatalf("correlation_id %q is not a uuid", resp.CorrelationID)
	}
	if len(b.published) != 1 || b.published[0].topic != domain.TopicGenerationStarted {
		t.Fatalf("published = %+v, want one GenerationStarted", b.published)
	}
}

func TestGenerationsStartRejectsBlankPrompt(t *testing.T) {
	app := generationApp(newStubTasks(), &stubGenerator{}, &captureBus{})

	req := authedRequest(http.MethodPost, "/v1/generations", `{"prompt":"  "}`, "user-1", nil)
	rec := httptest.NewRecorder()
	app.GenerationsStart(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerationsStartRequiresUser(t *testing.T) {
	app := generationApp(newStubTasks(), &stubGenerator{}, &captureBus{})

	req := authedRequest(http.MethodPost, "/v1/generations", `{"prompt":"a cat"}`, "", nil)
	rec := httptest.NewRecorder()
	app.GenerationsStart(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGenerationStatusHidesForeignTasks(t *testing.T) {
	tasks := newStubTasks()
	app := generationApp(tasks, &stubGenerator{}, &captureBus{})

	task := seededTask(tasks, "someone-else", domain.TaskStatusProcessing, "J1")
	req := authedRequest(http.MethodGet, "/v1/generations/"+task.CorrelationID.String(), "", "user-1",
		map[string]string{"correlation_id": task.CorrelationID.String()})
	rec := httptest.NewRecorder()
	app.GenerationStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for another user's task", rec.Code)
	}
}

func TestGenerationStatusReturnsRecord(t *testing.T) {
	tasks := newStubTasks()
	app := generationApp(tasks, &stubGenerator{}, &captureBus{})

	task := seededTask(tasks, "user-1", domain.TaskStatusProcessing, "J1")
	req := authedRequest(http.MethodGet, "/v1/generations/"+task.CorrelationID.String(), "", "user-1",
		map[string]string{"correlation_id": task.CorrelationID.String()})
	rec := httptest.NewRecorder()
	app.GenerationStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(domain.TaskStatusProcessing) {
		t.Fatalf("status field = %v, want processing", resp["status"])
	}
	if resp["provider_job_id"] != "J1" {
		t.Fatalf("provider_job_id = %v, want J1", resp["provider_job_id"])
	}
}

func TestGenerationRefreshReturnsUpdatedRecord(t *testing.T) {
	tasks := newStubTasks()
	provider := &stubGenerator{pollResult: &pixverse.PollResult{
		Status:     pixverse.JobStatusSucceeded,
		ResultURLs: []string{"https://x/1.mp4"},
		Resolution: "720p",
	}}
	app := generationApp(tasks, provider, &captureBus{})

	task := seededTask(tasks, "user-1", domain.TaskStatusProcessing, "J1")
	req := authedRequest(http.MethodPost, "/v1/generations/"+task.CorrelationID.String()+"/refresh", "", "user-1",
		map[string]string{"correlation_id": task.CorrelationID.String()})
	rec := httptest.NewRecorder()
	app.GenerationRefresh(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(domain.TaskStatusCompleted) {
		t.Fatalf("status field = %v, want completed after refresh", resp["status"])
	}
}

func TestGenerationExtendConflictsWithoutProviderJob(t *testing.T) {
	tasks := newStubTasks()
	app := generationApp(tasks, &stubGenerator{}, &captureBus{})

	task := seededTask(tasks, "user-1", domain.TaskStatusSubmitted, "")
	req := authedRequest(http.MethodPost, "/v1/generations/"+task.CorrelationID.String()+"/extend",
		`{"prompt":"keep going"}`, "user-1",
		map[string]string{"correlation_id": task.CorrelationID.String()})
	rec := httptest.NewRecorder()
	app.GenerationExtend(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestGenerationExtendStartsNewWorkflow(t *testing.T) {
	tasks := newStubTasks()
	b := &captureBus{}
	app := generationApp(tasks, &stubGenerator{}, b)

	task := seededTask(tasks, "user-1", domain.TaskStatusProcessing, "J1")
	req := authedRequest(http.MethodPost, "/v1/generations/"+task.CorrelationID.String()+"/extend",
		`{"prompt":"keep going"}`, "user-1",
		map[string]string{"correlation_id": task.CorrelationID.String()})
	rec := httptest.NewRecorder()
	app.GenerationExtend(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(b.published) != 1 || b.published[0].topic != domain.TopicExtensionStarted {
		t.Fatalf("published = %+v, want one ExtensionStarted", b.published)
	}
	var evt domain.ExtensionStarted
	if err := json.Unmarshal(b.published[0].payload, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.OriginalProviderJobID != "J1" {
		t.Fatalf("original provider job = %q, want J1", evt.OriginalProviderJobID)
	}
}
