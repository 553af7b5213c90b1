package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"skygen/internal/domain"
	"skygen/internal/orchestrator"
)

type startGenerationRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	StyleID        int    `json:"style_id"`
	NumVariations  int    `json:"num_variations"`
	Quality        string `json:"quality"`
}

type startGenerationResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// StartGeneration kicks off a new generation for the current user.
func (a *App) StartGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req startGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	sessionID, err := a.Orchestrator.StartGeneration(r.Context(), orchestrator.StartRequest{
		UserID:         userID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		StyleID:        req.StyleID,
		NumVariations:  req.NumVariations,
		Quality:        req.Quality,
	})
	if err != nil {
		a.writeStartError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, startGenerationResponse{SessionID: sessionID, Status: "started"})
}

func (a *App) writeStartError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var quotaErr *domain.QuotaExceededError
	switch {
	case errors.As(err, &validation):
		a.error(w, http.StatusBadRequest, "bad_request", validation.Error())
	case errors.As(err, &quotaErr):
		a.error(w, http.StatusForbidden, "quota_exceeded", quotaErr.Error())
	case errors.Is(err, domain.ErrSessionActive):
		a.error(w, http.StatusConflict, "conflict", "a generation is already running")
	default:
		a.Logger.Error().Err(err).Msg("start generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
	}
}

// CurrentGeneration returns the read-only snapshot of the user's generation
// state, resuming a persisted session when needed.
func (a *App) CurrentGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	snap, err := a.Orchestrator.Snapshot(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) {
			a.error(w, http.StatusNotFound, "not_found", "no active generation")
			return
		}
		a.Logger.Error().Err(err).Msg("snapshot failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation state")
		return
	}
	a.json(w, http.StatusOK, snap)
}

// ResetGeneration cancels any in-flight generation and clears persisted state.
func (a *App) ResetGeneration(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	if err := a.Orchestrator.Reset(r.Context(), userID); err != nil {
		a.Logger.Warn().Err(err).Str("user_id", userID).Msg("reset failed to clear persisted state")
	}
	a.json(w, http.StatusOK, map[string]string{"status": "reset"})
}
