// Package llm is a client for OpenAI-compatible chat completion endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/toolloop/config"
	"github.com/sammcj/toolloop/types"
)

// ChatRequest is one model invocation
type ChatRequest struct {
	Messages    []types.Message
	Tools       []mcp.Tool
	Temperature float64
	MaxTokens   int
}

// Client manages communication with a chat completions API
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	maxRetries int
	backoff    time.Duration
	verbose    bool
	httpClient *http.Client
	logger     *log.Logger
}

// Request represents a request to the chat completions API
type Request struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Tools       []interface{}   `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

// Response represents a response from the chat completions API
type Response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string           `json:"role"`
			Content   *string          `json:"content"`
			ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// New creates a client for the configured endpoint
func New(cfg config.LLMConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetVerbose enables logging of raw request and response bodies
func (c *Client) SetVerbose(v bool) {
	c.verbose = v
}

// Model returns the model identifier sent with each request
func (c *Client) Model() string {
	return c.model
}

// Complete sends the conversation to the model and returns its reply
func (c *Client) Complete(ctx context.Context, chat ChatRequest) (*types.LLMResponse, error) {
	req := Request{
		Model:       c.model,
		Messages:    chat.Messages,
		Temperature: chat.Temperature,
		MaxTokens:   chat.MaxTokens,
	}
	if len(chat.Tools) > 0 {
		req.Tools = convertTools(chat.Tools)
		req.ToolChoice = "auto"
	}

	var resp *types.LLMResponse
	var err error
	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		resp, err = c.sendRequest(ctx, req)
		if err == nil || attempt >= c.maxRetries || !isRetryableError(err) {
			break
		}

		c.logger.Printf("Retrying after error: %v (attempt %d/%d)", err, attempt+1, c.maxRetries)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &types.LLMError{Operation: "chat_completion", Message: "cancelled while waiting to retry", Err: ctx.Err()}
		}
		backoff *= 2
	}
	return resp, err
}

// convertTools converts tool descriptors to the function-calling format
func convertTools(tools []mcp.Tool) []interface{} {
	converted := make([]interface{}, 0, len(tools))

	for _, tool := range tools {
		params := map[string]interface{}{
			"type":       "object",
			"properties": tool.InputSchema.Properties,
		}
		if params["properties"] == nil {
			params["properties"] = map[string]interface{}{}
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}

		converted = append(converted, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  params,
			},
		})
	}

	return converted
}

// sendRequest performs one HTTP round trip
func (c *Client) sendRequest(ctx context.Context, req Request) (*types.LLMResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &types.LLMError{Operation: "encode", Message: "failed to marshal request", Err: err}
	}

	endpoint := c.endpoint + "/chat/completions"
	if c.verbose {
		c.logger.Printf("Sending request to %s: %s", endpoint, string(data))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &types.LLMError{Operation: "request", Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.LLMError{Operation: "request", Message: "failed to send request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.LLMError{Operation: "response", Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.LLMError{
			Operation:  "response",
			Message:    fmt.Sprintf("unexpected status code: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			StatusCode: resp.StatusCode,
		}
	}

	if c.verbose {
		c.logger.Printf("Received response: %s", string(body))
	}

	var chatResp Response
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, &types.LLMError{Operation: "decode", Message: "failed to decode response", StatusCode: resp.StatusCode, Err: err}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &types.LLMError{Operation: "decode", Message: "response has no choices", StatusCode: resp.StatusCode}
	}

	choice := chatResp.Choices[0]
	result := &types.LLMResponse{
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
	}
	if choice.Message.Content != nil {
		result.Content = *choice.Message.Content
	}
	return result, nil
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var llmErr *types.LLMError
	if errors.As(err, &llmErr) && llmErr.StatusCode != 0 {
		return llmErr.StatusCode == http.StatusTooManyRequests || llmErr.StatusCode >= 500
	}

	// Check for network/timeout errors
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
