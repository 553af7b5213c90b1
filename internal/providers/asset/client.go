package asset

import (
	"bufio"
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

// ErrNotConfigured indicates the asset service has no endpoint or credentials.
var ErrNotConfigured = errors.New("asset: service not configured")

const defaultRequestTimeout = 10 * time.Minute

// Options configures the 3D asset generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs one long-lived HTTP call to the asset generation API. The
// response body streams newline-delimited JSON progress events followed by a
// terminal complete or error event, so callers receive push-style progress
// instead of polling.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// GenerateRequest captures the inputs for one asset generation.
type GenerateRequest struct {
	Prompt    string
	UserID    string
	RelatedID string
	Quality   string
	MaxAssets int
}

// ProgressFunc receives push-style progress while the remote call is running.
type ProgressFunc func(stage string, progress int, message string)

type generatePayload struct {
	Prompt    string `json:"prompt"`
	UserID    string `json:"user_id"`
	RelatedID string `json:"related_id,omitempty"`
	Quality   string `json:"quality,omitempty"`
	MaxAssets int    `json:"max_assets"`
}

type streamEvent struct {
	Type     string         `json:"type"`
	Stage    string         `json:"stage,omitempty"`
	Progress int            `json:"progress,omitempty"`
	Message  string         `json:"message,omitempty"`
	Assets   []assetPayload `json:"assets,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type assetPayload struct {
	ID          string            `json:"id"`
	DownloadURL string            `json:"downloadUrl"`
	PreviewURL  string            `json:"previewUrl"`
	FormatURLs  map[string]string `json:"formatUrls"`
	Format      string            `json:"format"`
	Status      string            `json:"status"`
	Metadata    map[string]any    `json:"metadata"`
}

// NewClient constructs a client. A missing base URL is not an error here so
// that the service can run with the asset pipeline silently disabled; the
// coordinator checks Configured before dispatching.
func NewClient(opts Options) *Client {
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
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// Configured reports whether the client can reach the asset service.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Generate runs one asset generation, invoking onProgress for every progress
// event pushed by the remote, and returns the produced assets.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, onProgress ProgressFunc) ([]domain.GeneratedAsset, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	maxAssets := req.MaxAssets
	if maxAssets <= 0 {
		maxAssets = 1
	}
	body, err := json.Marshal(generatePayload{
		Prompt:    strings.TrimSpace(req.Prompt),
		UserID:    req.UserID,
		RelatedID: req.RelatedID,
		Quality:   strings.TrimSpace(req.Quality),
		MaxAssets: maxAssets,
	})
	if err != nil {
		return nil, fmt.Errorf("asset: encode generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("asset: build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.NetworkError{Op: "asset: generate request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("asset: generate failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return c.consumeStream(ctx, resp.Body, onProgress)
}

func (c *Client) consumeStream(ctx context.Context, body io.Reader, onProgress ProgressFunc) ([]domain.GeneratedAsset, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			if c.logger != nil {
				c.logger.Warn().Err(err).Msg("asset: skipping malformed stream event")
			}
			continue
		}
		switch event.Type {
		case "progress":
			if onProgress != nil {
				onProgress(event.Stage, event.Progress, event.Message)
			}
		case "complete":
			if len(event.Assets) == 0 {
				return nil, fmt.Errorf("asset: no generatable objects detected")
			}
			return convertAssets(event.Assets), nil
		case "error":
			msg := event.Error
			if msg == "" {
				msg = event.Message
			}
			if msg == "" {
				msg = "asset generation failed"
			}
			return nil, fmt.Errorf("asset: %s", msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.NetworkError{Op: "asset: read generate stream", Err: err}
	}
	return nil, fmt.Errorf("asset: stream ended without a terminal event")
}

func convertAssets(payloads []assetPayload) []domain.GeneratedAsset {
	out := make([]domain.GeneratedAsset, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, domain.GeneratedAsset{
			ID:          p.ID,
			DownloadURL: strings.TrimSpace(p.DownloadURL),
			PreviewURL:  strings.TrimSpace(p.PreviewURL),
			FormatURLs:  p.FormatURLs,
			Format:      p.Format,
			Status:      p.Status,
			Metadata:    p.Metadata,
		})
	}
	return out
}
