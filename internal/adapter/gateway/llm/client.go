// Package llm routes model calls to provider clients, prices the usage they
// report, and tracks per-run totals.
package llm

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

	"github.com/cenkalti/backoff/v5"
)

// ErrThrottled is returned when a provider answers with a rate-limit status
// after all transport retries are exhausted.
var ErrThrottled = errors.New("provider throttled")

// CompletionRequest is a single model invocation
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// Completion is the provider's answer with usage as reported by the provider.
// Zero usage means the provider did not report it and the caller should
// estimate.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ProviderClient executes one completion against a concrete provider
type ProviderClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Provider() string
}

// retryPolicy doubles from 2s and caps at 10s
func retryPolicy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     2 * time.Second,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         10 * time.Second,
	}
}

// doJSON posts a JSON body and decodes the response. Rate-limit and server
// statuses are retried with exponential backoff, up to 3 attempts total.
func doJSON(ctx context.Context, httpClient *http.Client, url string, headers map[string]string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	throttled := false
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			throttled = false
			return data, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			throttled = true
			return nil, fmt.Errorf("rate limited: %s", strings.TrimSpace(string(data)))
		case resp.StatusCode >= 500:
			throttled = false
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		default:
			throttled = false
			return nil, backoff.Permanent(fmt.Errorf("request failed %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
	}

	data, err := backoff.Retry(ctx, op, backoff.WithBackOff(retryPolicy()), backoff.WithMaxTries(3))
	if err != nil {
		if throttled {
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AnthropicClient talks to the Anthropic Messages API
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicClient creates an Anthropic provider client
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1",
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Provider returns the provider name
func (c *AnthropicClient) Provider() string { return "anthropic" }

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete executes one Messages API call
func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := map[string]interface{}{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.UserPrompt},
		},
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}

	var resp anthropicResponse
	if err := doJSON(ctx, c.httpClient, c.baseURL+"/messages", headers, body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.Text)
	}

	return &Completion{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// OpenAIClient talks to the OpenAI Chat Completions API
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI provider client
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Provider returns the provider name
func (c *OpenAIClient) Provider() string { return "openai" }

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete executes one Chat Completions call
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	var resp openAIResponse
	if err := doJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", headers, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty completion response")
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// StubClient returns canned completions without network access. Used when no
// API key is configured and in tests.
type StubClient struct {
	provider string
	// Respond builds the stub completion. Defaults to an echo response.
	Respond func(req CompletionRequest) (*Completion, error)
}

// NewStubClient creates a stub provider client
func NewStubClient(provider string) *StubClient {
	return &StubClient{provider: provider}
}

// Provider returns the provider name
func (c *StubClient) Provider() string { return c.provider }

// Complete returns the canned response
func (c *StubClient) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	if c.Respond != nil {
		return c.Respond(req)
	}
	out := fmt.Sprintf(`{"stub": true, "model": %q}`, req.Model)
	return &Completion{
		Text:         out,
		InputTokens:  len(strings.Fields(req.UserPrompt)),
		OutputTokens: len(strings.Fields(out)),
	}, nil
}
