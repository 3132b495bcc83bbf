// ABOUTME: HTTP client for OpenAI-compatible chat completion endpoints
// ABOUTME: Streams SSE chunks and extracts inline reasoning from deltas

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// maxCompletionTokenCeiling bounds max_completion_tokens for model families
// that reject the temperature and max_tokens sampling parameters.
const maxCompletionTokenCeiling = 4096

// strictSamplingPrefixes lists model-name prefixes whose models only accept
// default sampling parameters.
var strictSamplingPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

var thinkTagPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// ChatMessage is one turn of conversation history sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config identifies the upstream endpoint and model for one request.
// BaseURL includes the API version segment, e.g. https://api.openai.com/v1.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client talks to OpenAI-compatible chat completion APIs.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates a Client. The timeout bounds the whole call for
// non-streaming requests. For streams it is an idle limit between chunks, so
// a generation that keeps producing may run for any total length.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     slog.Default().With("component", "provider"),
	}
}

// requiresStrictSampling reports whether the model belongs to a family that
// rejects custom temperature and the max_tokens field.
func requiresStrictSampling(model string) bool {
	for _, prefix := range strictSamplingPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// buildPayload shapes the request body for the model family.
func buildPayload(cfg Config, messages []ChatMessage, stream bool) map[string]any {
	payload := map[string]any{
		"model":    cfg.Model,
		"messages": messages,
		"stream":   stream,
	}

	if requiresStrictSampling(cfg.Model) {
		payload["max_completion_tokens"] = maxCompletionTokenCeiling
		return payload
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	payload["temperature"] = temperature
	payload["max_tokens"] = maxTokens
	return payload
}

func (c *Client) post(ctx context.Context, cfg Config, body map[string]any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	endpoint := strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	return c.httpClient.Do(req)
}

// chunkPayload mirrors the subset of an upstream streaming chunk we read.
type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// Stream issues a streaming completion request and returns a channel of
// parsed events. The channel is closed after a DoneEvent or ErrorEvent, or
// when ctx is cancelled. Stream itself only fails on request construction.
func (c *Client) Stream(ctx context.Context, cfg Config, messages []ChatMessage) (<-chan Event, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("provider config missing base URL or model")
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		c.streamInto(ctx, cfg, messages, events)
	}()
	return events, nil
}

func (c *Client) streamInto(ctx context.Context, cfg Config, messages []ChatMessage, events chan<- Event) {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	// The watchdog aborts the request when the upstream goes quiet. It is
	// re-armed on every line read, covering both the wait for response
	// headers and the gaps between chunks.
	var idle atomic.Bool
	watchdog := time.AfterFunc(c.timeout, func() {
		idle.Store(true)
		cancelReq()
	})
	defer watchdog.Stop()

	resp, err := c.post(reqCtx, cfg, buildPayload(cfg, messages, true))
	if err != nil {
		if idle.Load() {
			c.emit(ctx, events, ErrorEvent{Message: fmt.Sprintf("upstream timed out after %s", c.timeout)})
			return
		}
		c.emit(ctx, events, ErrorEvent{Message: fmt.Sprintf("upstream request failed: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("upstream returned error status", "status", resp.StatusCode, "model", cfg.Model)
		c.emit(ctx, events, ErrorEvent{Message: fmt.Sprintf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))})
		return
	}

	var usage string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		watchdog.Reset(c.timeout)
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := line[len("data: "):]

		if data == "[DONE]" {
			c.emit(ctx, events, DoneEvent{Usage: usage})
			return
		}

		var chunk chunkPayload
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed chunks are skipped, not fatal.
			continue
		}

		if len(chunk.Usage) > 0 && string(chunk.Usage) != "null" {
			usage = string(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		content, thinking := extractThinking(delta.Content)
		if thinking == "" {
			thinking = delta.ReasoningContent
		}

		if content == "" && thinking == "" {
			continue
		}
		if !c.emit(ctx, events, ContentEvent{Content: content, Thinking: thinking}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if idle.Load() {
			c.emit(ctx, events, ErrorEvent{Message: fmt.Sprintf("upstream idle for %s, aborting stream", c.timeout)})
			return
		}
		c.emit(ctx, events, ErrorEvent{Message: fmt.Sprintf("reading stream: %v", err)})
		return
	}

	// Stream ended without a [DONE] marker.
	c.emit(ctx, events, ErrorEvent{Message: "upstream stream ended unexpectedly"})
}

// emit delivers an event unless the consumer is gone. Returns false when ctx
// is done and the sender should stop.
func (c *Client) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// extractThinking pulls <think>...</think> spans out of a content delta.
// Matched spans become the thinking text and are removed from content.
func extractThinking(content string) (string, string) {
	if content == "" || !strings.Contains(content, "<think>") {
		return content, ""
	}

	match := thinkTagPattern.FindStringSubmatch(content)
	if match == nil {
		return content, ""
	}

	stripped := thinkTagPattern.ReplaceAllString(content, "")
	return stripped, match[1]
}

// completionResponse is the subset of a non-streaming completion we read.
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete issues a single non-streaming completion and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, cfg Config, messages []ChatMessage) (string, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return "", fmt.Errorf("provider config missing base URL or model")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, cfg, buildPayload(cfg, messages, false))
	if err != nil {
		return "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("upstream returned no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// GenerateTitle asks the model for a short session title seeded by the
// user's first message.
func (c *Client) GenerateTitle(ctx context.Context, cfg Config, firstMessage string) (string, error) {
	prompt := fmt.Sprintf(
		"Generate a short title (at most six words) for a conversation that begins with:\n\n%s\n\nReply with the title only, no quotes.",
		firstMessage,
	)

	title, err := c.Complete(ctx, cfg, []ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}

	title = strings.Trim(title, `"' `)
	if title == "" {
		return "", fmt.Errorf("upstream returned empty title")
	}
	return title, nil
}
