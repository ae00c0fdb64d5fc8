package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zen-systems/toolcascade/pkg/tool"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// DeepSeekAdapter talks to any OpenAI-compatible chat endpoint, DeepSeek by
// default.
type DeepSeekAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewDeepSeekAdapter creates an adapter for the public DeepSeek endpoint.
func NewDeepSeekAdapter(apiKey string) (*DeepSeekAdapter, error) {
	return NewDeepSeekAdapterWithBaseURL(apiKey, deepseekBaseURL)
}

// NewDeepSeekAdapterWithBaseURL creates an adapter against baseURL.
func NewDeepSeekAdapterWithBaseURL(apiKey, baseURL string) (*DeepSeekAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepseek API key is required")
	}
	return &DeepSeekAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

func (a *DeepSeekAdapter) Name() string { return "deepseek" }

// Complete posts req to /chat/completions.
func (a *DeepSeekAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := chatRequest{Model: req.Model, MaxTokens: req.maxTokens()}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		payload.ResponseFormat = &chatFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode deepseek request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build deepseek request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &tool.Error{Message: "deepseek request failed", Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &tool.Error{Message: "read deepseek response", Temporary: true, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &tool.Error{
			Message: fmt.Sprintf("deepseek returned status %d: %s", resp.StatusCode, snippet),
			Status:  resp.StatusCode,
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, tool.Errorf("decode deepseek response: %v", err)
	}
	if decoded.Error != nil {
		return nil, tool.Errorf("deepseek error (%s): %s", decoded.Error.Type, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, tool.Errorf("deepseek returned no choices for %s", req.Model)
	}

	return &Response{
		Adapter: a.Name(),
		Model:   req.Model,
		Content: decoded.Choices[0].Message.Content,
		Usage:   decoded.Usage,
	}, nil
}
