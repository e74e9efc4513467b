// Package render talks to the document render service that lays out a
// resource and returns its PDF bytes.
package render

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

	"studio/internal/domain"
	"studio/internal/infra"
)

// ErrNotConfigured is returned by Render when no service URL was given.
var ErrNotConfigured = errors.New("render: service url is not configured")

// maxErrorBody bounds how much of a failed response ends up in the error.
const maxErrorBody = 512

// Options configures the render client. RequestTimeout caps the HTTP client;
// per-resource deadlines come from the caller's context.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client posts render requests to the render service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type renderRequest struct {
	Resource  renderResource                `json:"resource"`
	Assets    map[string]domain.RenderAsset `json:"assets"`
	Style     *renderStyle                  `json:"style,omitempty"`
	Watermark bool                          `json:"watermark"`
}

type renderResource struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Content json.RawMessage `json:"content,omitempty"`
}

type renderStyle struct {
	ID     string                                  `json:"id"`
	Name   string                                  `json:"name"`
	Frames map[domain.FrameRole]domain.RenderFrame `json:"frames,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Render lays out one resource and returns the PDF bytes.
func (c *Client) Render(ctx context.Context, in domain.RenderInput) ([]byte, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	payload := renderRequest{
		Resource: renderResource{
			ID:      in.Resource.ID,
			Name:    in.Resource.Name,
			Kind:    in.Resource.Kind,
			Content: in.Resource.Content,
		},
		Assets:    in.Assets,
		Watermark: in.Watermark,
	}
	if payload.Assets == nil {
		payload.Assets = map[string]domain.RenderAsset{}
	}
	if in.Style != nil {
		payload.Style = &renderStyle{ID: in.Style.ID, Name: in.Style.Name, Frames: in.Frames}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("render: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("render: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("render: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Error != "" {
			return nil, fmt.Errorf("render: status %d: %s", resp.StatusCode, detail.Error)
		}
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("render: status %d: %s", resp.StatusCode, snippet)
	}
	if len(raw) == 0 {
		return nil, errors.New("render: empty document")
	}
	c.logger.Debug().
		Str("resource_id", in.Resource.ID).
		Int("bytes", len(raw)).
		Dur("took", time.Since(started)).
		Msg("render: document ready")
	return raw, nil
}
