package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"skygen/internal/middleware"
	"skygen/internal/orchestrator"
)

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Orchestrator *orchestrator.Service
	Logger       zerolog.Logger
}

// NewApp constructs the handler container.
func NewApp(svc *orchestrator.Service, logger zerolog.Logger) *App {
	return &App{Orchestrator: svc, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error":   errCode,
		"message": message,
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// Health reports liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
