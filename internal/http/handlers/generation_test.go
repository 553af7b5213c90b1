package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"skygen/internal/docstore"
	"skygen/internal/domain"
	"skygen/internal/middleware"
	"skygen/internal/orchestrator"
	"skygen/internal/providers/environment"
	"skygen/internal/quota"
	"skygen/internal/session"
)

// stubEnv completes every submitted job on the first status poll.
type stubEnv struct {
	mu        sync.Mutex
	submitted int
}

func (s *stubEnv) Submit(ctx context.Context, req environment.SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	return "env-1", nil
}

func (s *stubEnv) Status(ctx context.Context, externalID string) (*environment.JobState, error) {
	return &environment.JobState{
		Status:  domain.EnvironmentStatusCompleted,
		FileURL: "https://cdn.example.com/" + externalID + ".png",
	}, nil
}

func newTestApp(ledger quota.Ledger) *App {
	svc := orchestrator.NewService(orchestrator.Options{
		Env:          &stubEnv{},
		Store:        session.NewMemoryStore(session.DefaultTTL),
		Docs:         docstore.NewMemoryStore(),
		Quota:        ledger,
		Logger:       zerolog.Nop(),
		BaseInterval: time.Millisecond,
	})
	return NewApp(svc, zerolog.Nop())
}

func doRequest(app *App, handler http.HandlerFunc, method, target, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	middleware.UserID(handler).ServeHTTP(rec, req)
	return rec
}

func TestStartGenerationAccepted(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	rec := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1",
		`{"prompt":"misty forest","style_id":3,"num_variations":1}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["session_id"] == "" || resp["status"] != "started" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestStartGenerationRequiresUser(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	rec := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "",
		`{"prompt":"x","style_id":1}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStartGenerationValidationError(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	rec := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1",
		`{"prompt":"","style_id":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bad_request") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStartGenerationQuotaExceeded(t *testing.T) {
	ledger := quota.NewMemoryLedger(0)
	ledger.SetLimit("user-1", 1)
	app := newTestApp(ledger)

	rec := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1",
		`{"prompt":"x","style_id":1,"num_variations":5}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quota_exceeded") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStartGenerationMalformedBody(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	rec := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1", `{nope`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartGenerationConflict(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	body := `{"prompt":"misty forest","style_id":3,"num_variations":1}`

	first := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1", body)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first start status = %d", first.Code)
	}
	second := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1", body)
	// The first run may already have finished; only a still-running session
	// yields a conflict.
	if second.Code != http.StatusConflict && second.Code != http.StatusAccepted {
		t.Fatalf("second start status = %d", second.Code)
	}
}

func TestCurrentGenerationNotFound(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	rec := doRequest(app, app.CurrentGeneration, http.MethodGet, "/v1/generations/current", "user-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCurrentGenerationAfterStart(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	start := doRequest(app, app.StartGeneration, http.MethodPost, "/v1/generations", "user-1",
		`{"prompt":"misty forest","style_id":3,"num_variations":1}`)
	if start.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", start.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doRequest(app, app.CurrentGeneration, http.MethodGet, "/v1/generations/current", "user-1", "")
		if rec.Code == http.StatusOK {
			var snap map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			if outcome, ok := snap["outcome"].(map[string]any); ok && outcome != nil {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot never reported an outcome")
}

func TestResetGeneration(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	rec := doRequest(app, app.ResetGeneration, http.MethodDelete, "/v1/generations/current", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "reset") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(quota.NewMemoryLedger(0))
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	app.Health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
