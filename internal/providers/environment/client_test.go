package environment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"skygen/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("err = %v, want ErrMissingBaseURL", err)
	}
}

func TestSubmitSendsPayloadAndParsesID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/skybox" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if payload["prompt"] != "misty forest" || payload["style_id"] != float64(9) {
			t.Errorf("payload = %+v", payload)
		}
		if payload["negative_prompt"] != "people" {
			t.Errorf("negative_prompt = %v", payload["negative_prompt"])
		}
		w.Write([]byte(`{"success":true,"data":{"generationId":"gen-abc"}}`))
	})

	id, err := client.Submit(context.Background(), SubmitRequest{
		Prompt:         "  misty forest  ",
		NegativePrompt: "people",
		StyleID:        9,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "gen-abc" {
		t.Fatalf("id = %q, want gen-abc", id)
	}
}

func TestSubmitRejectedByRemote(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"style not available"}`))
	})

	_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "x", StyleID: 1})
	if err == nil || !strings.Contains(err.Error(), "style not available") {
		t.Fatalf("err = %v, want remote rejection message", err)
	}
}

func TestSubmitHTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.Submit(context.Background(), SubmitRequest{Prompt: "x", StyleID: 1})
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("err = %v, want status 502 failure", err)
	}
}

func TestStatusParsesJobState(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/imagine/requests/gen-abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{"status":"processing","file_url":"","error_message":""}}`))
	})

	state, err := client.Status(context.Background(), "gen-abc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Status != domain.EnvironmentStatusProcessing || state.FileURL != "" {
		t.Fatalf("state = %+v", state)
	}
}

func TestStatusCompletedCarriesFileURL(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"status":"complete","file_url":" https://cdn.example.com/out.png "}}`))
	})

	state, err := client.Status(context.Background(), "gen-abc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Status != domain.EnvironmentStatusCompleted {
		t.Fatalf("status = %q", state.Status)
	}
	if state.FileURL != "https://cdn.example.com/out.png" {
		t.Fatalf("file url = %q", state.FileURL)
	}
}

func TestStatus404IsJobNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.Status(context.Background(), "gen-gone")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestStatusExpiredMessageIsJobNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"request expired"}`))
	})

	_, err := client.Status(context.Background(), "gen-old")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestStatusServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flaky", http.StatusInternalServerError)
	})

	_, err := client.Status(context.Background(), "gen-abc")
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("server error must stay retryable, got %v", err)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := NewClient(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	srv.Close()

	var netErr *domain.NetworkError
	_, statusErr := client.Status(context.Background(), "gen-abc")
	if !errors.As(statusErr, &netErr) {
		t.Fatalf("Status err = %v, want *domain.NetworkError", statusErr)
	}
	if errors.Is(statusErr, domain.ErrJobNotFound) {
		t.Fatalf("transport failure must stay retryable")
	}
	netErr = nil
	if _, err := client.Submit(context.Background(), SubmitRequest{Prompt: "p", StyleID: 1}); !errors.As(err, &netErr) {
		t.Fatalf("Submit err = %v, want *domain.NetworkError", err)
	}
	if netErr.Unwrap() == nil {
		t.Fatalf("network error must carry the transport cause")
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		in   string
		want domain.EnvironmentStatus
	}{
		{"pending", domain.EnvironmentStatusPending},
		{"queued", domain.EnvironmentStatusPending},
		{"dispatched", domain.EnvironmentStatusDispatched},
		{"Processing", domain.EnvironmentStatusProcessing},
		{"running", domain.EnvironmentStatusProcessing},
		{"complete", domain.EnvironmentStatusCompleted},
		{"completed", domain.EnvironmentStatusCompleted},
		{"failed", domain.EnvironmentStatusFailed},
		{"error", domain.EnvironmentStatusFailed},
		{"aborted", domain.EnvironmentStatusAborted},
		{"cancelled", domain.EnvironmentStatusAborted},
		{"something-new", domain.EnvironmentStatusProcessing},
		{"  COMPLETE  ", domain.EnvironmentStatusCompleted},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.in); got != tc.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
