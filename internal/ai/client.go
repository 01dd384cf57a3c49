// Package ai provides a client for OpenAI-compatible chat completion APIs
// (DeepSeek by default). It supports one-shot completions and server-sent
// streaming of response deltas.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/parla/chat-backend/internal/metrics"
)

// ChatMessage is one turn of the prompt sent to the completion API.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Options control a single completion request. Zero values fall back to the
// client defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is the parsed result of a non-streaming request.
type Completion struct {
	Content      string
	Model        string
	TokensUsed   int
	FinishReason string
}

// Config holds client connection settings.
type Config struct {
	BaseURL string        // e.g. https://api.deepseek.com
	APIKey  string
	Model   string        // default model name
	Timeout time.Duration // per-request timeout
}

// DefaultConfig returns sensible defaults for the DeepSeek API.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
		Timeout: 60 * time.Second,
	}
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a completion client. The API key must be set.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("ai: api key must not be empty")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// request is the wire format of a chat completions call.
type request struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// response is the wire format of a non-streaming completion.
type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// chunk is one streamed delta frame.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) newRequest(ctx context.Context, body request) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	return req, nil
}

func (c *Client) fillDefaults(opts Options) Options {
	if opts.Model == "" {
		opts.Model = c.config.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	return opts
}

// Complete performs a non-streaming completion and returns the assistant's
// reply with usage information.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, opts Options) (*Completion, error) {
	opts = c.fillDefaults(opts)

	req, err := c.newRequest(ctx, request{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: completion request: %w", err)
	}
	defer resp.Body.Close()
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ai: completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("ai: response contains no choices")
	}

	return &Completion{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		TokensUsed:   parsed.Usage.TotalTokens,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

// Stream performs a streaming completion, invoking onDelta for every content
// fragment as it arrives. It returns the full accumulated content. If onDelta
// returns an error the stream is abandoned and that error is returned.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage, opts Options, onDelta func(delta string) error) (string, error) {
	opts = c.fillDefaults(opts)

	req, err := c.newRequest(ctx, request{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: stream request: %w", err)
	}
	defer resp.Body.Close()
	defer func() { metrics.CompletionLatency.Observe(time.Since(start).Seconds()) }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ai: stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var frame chunk
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			log.Printf("ai: skipping malformed stream frame: %v", err)
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		delta := frame.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), fmt.Errorf("ai: deliver delta: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("ai: read stream: %w", err)
	}

	return full.String(), nil
}

// SystemPrompt returns the tutoring instructions prepended to fresh
// conversations.
func SystemPrompt(targetLanguage string) string {
	if targetLanguage == "" {
		targetLanguage = "English"
	}
	return fmt.Sprintf(`You are a professional %s language tutor. Follow these principles:

1. Adjust the complexity of your answers to the learner's level.
2. Correct grammar and word-choice mistakes when appropriate.
3. Offer practical study advice and exercises.
4. Encourage the learner to use the target language in conversation.
5. Explain language rules and cultural background.
6. Stay patient and encouraging.

Respond concisely and warmly, with example sentences and explanations where they help.`, targetLanguage)
}
