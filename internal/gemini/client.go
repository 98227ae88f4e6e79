// Package gemini is a thin REST client for the Generative Language API:
// text generation (blocking and streamed) and the file-upload OCR path.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "gemini-flash-latest"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// Client communicates with the Generative Language API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client with the given API key and the default model.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetModel overrides the generation model.
func (c *Client) SetModel(model string) {
	if model != "" {
		c.model = model
	}
}

// Generate sends a blocking generation request and returns the full answer
// text. Rate-limit responses are retried with exponential backoff.
func (c *Client) Generate(ctx context.Context, system, user string) (string, error) {
	body, err := marshalRequest(system, user, nil)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	respBody, err := c.doWithRetry(ctx, url, body, defaultTimeout)
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var resp generateResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// StreamGenerate sends a streaming generation request. The returned body
// carries SSE events; decode them with NewStreamDecoder. The caller must
// close it.
func (c *Client) StreamGenerate(ctx context.Context, system, user string) (io.ReadCloser, error) {
	body, err := marshalRequest(system, user, nil)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	return c.doWithRetry(ctx, url, body, streamingTimeout)
}

func marshalRequest(system, user string, extraParts []part) ([]byte, error) {
	req := generateRequest{
		Contents: []content{
			{Role: "user", Parts: append([]part{{Text: user}}, extraParts...)},
		},
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return b, nil
}

func responseText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}

func (c *Client) doWithRetry(ctx context.Context, url string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.doPost(ctx, url, body, timeout)
		if err == nil {
			return rc, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

func (c *Client) doPost(ctx context.Context, url string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
}
