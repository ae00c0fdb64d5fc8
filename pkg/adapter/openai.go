package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/zen-systems/toolcascade/pkg/tool"
)

// OpenAIAdapter talks to the OpenAI chat completions API.
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter creates an adapter for apiKey.
func NewOpenAIAdapter(apiKey string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return &OpenAIAdapter{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete sends req, using JSON object mode when req.JSON is set.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(req.maxTokens())),
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, providerError(a.Name(), status, err)
	}
	if len(completion.Choices) == 0 {
		return nil, tool.Errorf("openai returned no choices for %s", req.Model)
	}

	return &Response{
		Adapter: a.Name(),
		Model:   req.Model,
		Content: completion.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}
