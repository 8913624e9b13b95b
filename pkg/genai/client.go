package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generation can be slow; give the upstream a full minute before giving up.
const defaultTimeout = 60 * time.Second

// Client calls the external content-generation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a generation client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// Request is the upstream generation request contract.
type Request struct {
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Style  string `json:"style,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// UpstreamError reports a non-success response from the generation service.
// It is distinct from validation and store errors so the HTTP boundary can
// map it to a gateway status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("generation service returned %d: %s", e.StatusCode, e.Body)
}

type generateResponse struct {
	Result json.RawMessage `json:"result"`
}

// Generate forwards a generation request and returns the raw result value.
// Transport failures (unreachable, timeout) come back as wrapped errors,
// non-2xx responses as *UpstreamError.
func (c *Client) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("generation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && len(decoded.Result) > 0 {
		return decoded.Result, nil
	}
	// Upstream revisions disagree on the envelope; fall back to the full body.
	return json.RawMessage(raw), nil
}
