// Package gateway sends assembled prompts to an OpenAI-compatible
// chat-completions backend (KoboldCpp, LM Studio, Ollama).
//
// A generation failure is terminal for the turn: no retries here. The
// orchestrator substitutes the canned fallback and records the failure.
package gateway

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

	"council/internal/config"
	"council/internal/logging"
)

// Terminal generation failures.
var (
	ErrTimeout = errors.New("gateway: generation timed out")
	ErrEmpty   = errors.New("gateway: backend returned empty response")
)

// Request is one generation call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Response carries the raw model output, untrimmed of its tags.
type Response struct {
	Text string
}

// Client generates text from an assembled prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// HTTPClient talks to an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient builds a client from gateway configuration.
func NewHTTPClient(cfg config.GatewayConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: time.Duration(cfg.Timeout)},
	}
}

// Wire types for the chat-completions protocol.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt and returns the model text. Timeouts and empty
// completions map to the package's sentinel errors.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("gateway: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			logging.Gateway("timeout after %s (max_tokens=%d)", time.Since(start).Round(time.Millisecond), req.MaxTokens)
			return Response{}, ErrTimeout
		}
		return Response{}, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("gateway: backend returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fmt.Errorf("gateway: decode response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("gateway: backend error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, ErrEmpty
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return Response{}, ErrEmpty
	}

	logging.Gateway("generation ok in %s (%d chars)", time.Since(start).Round(time.Millisecond), len(text))
	logging.GatewayDebug("raw output: %s", truncate(text, 500))
	return Response{Text: text}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
