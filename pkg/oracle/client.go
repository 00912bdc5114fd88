package oracle

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

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, model, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Model:   model,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Tools    []wireToolDef `json:"tools,omitempty"`
}

// wireToolDef wraps a ToolDef in the {type, function} envelope the chat API
// expects.
type wireToolDef struct {
	Type     string  `json:"type"`
	Function ToolDef `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, messages []Message, tools []ToolDef) (Completion, error) {
	req := chatRequest{Model: c.Model, Messages: messages}
	for _, t := range tools {
		req.Tools = append(req.Tools, wireToolDef{Type: "function", Function: t})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Completion{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.APIKey))
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("oracle request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return Completion{}, fmt.Errorf("oracle failed status=%d body=%s", resp.StatusCode, truncate(respBody, 512))
	}
	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Completion{}, fmt.Errorf("oracle response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Completion{}, fmt.Errorf("oracle response: no choices")
	}
	msg := out.Choices[0].Message
	return Completion{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
