package environment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"skygen/internal/domain"
)

// ErrMissingBaseURL indicates the client was configured without an endpoint.
var ErrMissingBaseURL = errors.New("environment: base url is required")

const defaultRequestTimeout = 30 * time.Second

// Options configures the environment (skybox) generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the environment generation API. The remote
// service is a black box: a submission returns a generation id, and status is
// polled separately.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// SubmitRequest captures the inputs for one skybox variation.
type SubmitRequest struct {
	Prompt         string
	NegativePrompt string
	StyleID        int
}

// JobState is the normalized poll result for one generation.
type JobState struct {
	Status       domain.EnvironmentStatus
	FileURL      string
	ErrorMessage string
}

type submitPayload struct {
	Prompt         string `json:"prompt"`
	StyleID        int    `json:"style_id"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

type submitResponse struct {
	Success bool `json:"success"`
	Data    struct {
		GenerationID string `json:"generationId"`
	} `json:"data"`
	Error string `json:"error"`
}

type statusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Status       string `json:"status"`
		FileURL      string `json:"file_url"`
		ErrorMessage string `json:"error_message"`
	} `json:"data"`
	Error string `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Submit creates one remote generation job and returns its external id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(submitPayload{
		Prompt:         strings.TrimSpace(req.Prompt),
		StyleID:        req.StyleID,
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
	})
	if err != nil {
		return "", fmt.Errorf("environment: encode submit payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/skybox", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("environment: build submit request: %w", err)
	}
	c.decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.NetworkError{Op: "environment: submit request", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &domain.NetworkError{Op: "environment: read submit response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("environment: submit failed with status %d: %s", resp.StatusCode, snippet(payload))
	}

	var parsed submitResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("environment: decode submit response: %w", err)
	}
	if !parsed.Success || parsed.Data.GenerationID == "" {
		msg := parsed.Error
		if msg == "" {
			msg = "remote rejected the submission"
		}
		return "", fmt.Errorf("environment: submit rejected: %s", msg)
	}
	if c.logger != nil {
		c.logger.Debug().Str("generation_id", parsed.Data.GenerationID).Msg("environment: job submitted")
	}
	return parsed.Data.GenerationID, nil
}

// Status fetches the current remote state of a generation. A 404 or an
// "expired" rejection maps to domain.ErrJobNotFound, which the poller treats
// as non-retryable. Any other failure is transient.
func (c *Client) Status(ctx context.Context, externalID string) (*JobState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/imagine/requests/"+externalID, nil)
	if err != nil {
		return nil, fmt.Errorf("environment: build status request: %w", err)
	}
	c.decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.NetworkError{Op: "environment: status request", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.NetworkError{Op: "environment: read status response", Err: err}
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("environment: job %s: %w", externalID, domain.ErrJobNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("environment: status failed with status %d: %s", resp.StatusCode, snippet(payload))
	}

	var parsed statusResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("environment: decode status response: %w", err)
	}
	if !parsed.Success {
		msg := strings.ToLower(parsed.Error)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "expired") {
			return nil, fmt.Errorf("environment: job %s: %w", externalID, domain.ErrJobNotFound)
		}
		return nil, fmt.Errorf("environment: status rejected: %s", parsed.Error)
	}
	return &JobState{
		Status:       NormalizeStatus(parsed.Data.Status),
		FileURL:      strings.TrimSpace(parsed.Data.FileURL),
		ErrorMessage: strings.TrimSpace(parsed.Data.ErrorMessage),
	}, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// NormalizeStatus sanitizes the free-form remote status string. The remote's
// "error" status is folded into failed.
func NormalizeStatus(status string) domain.EnvironmentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "queued":
		return domain.EnvironmentStatusPending
	case "dispatched":
		return domain.EnvironmentStatusDispatched
	case "processing", "running":
		return domain.EnvironmentStatusProcessing
	case "complete", "completed":
		return domain.EnvironmentStatusCompleted
	case "failed", "error":
		return domain.EnvironmentStatusFailed
	case "aborted", "cancelled":
		return domain.EnvironmentStatusAborted
	default:
		return domain.EnvironmentStatusProcessing
	}
}

func snippet(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}
