package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/bus"
	"server/internal/domain"
	"server/internal/generation"
	"server/internal/infra"
	"server/internal/middleware"
)

// App bundles the dependencies handlers need.
type App struct {
	Service *generation.Service
	Tasks   domain.TaskRepository
	Bus     bus.Bus
	Logger  infra.Logger
}

func NewApp(service *generation.Service, tasks domain.TaskRepository, b bus.Bus, logger infra.Logger) *App {
	return &App{Service: service, Tasks: tasks, Bus: b, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
