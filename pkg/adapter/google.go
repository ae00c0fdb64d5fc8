package adapter

import (
	"context"
	"fmt"

	"github.com/zen-systems/toolcascade/pkg/tool"
	"google.golang.org/genai"
)

// GoogleAdapter talks to Gemini models through the Gemini API backend.
type GoogleAdapter struct {
	client *genai.Client
}

// NewGoogleAdapter creates an adapter for apiKey.
func NewGoogleAdapter(ctx context.Context, apiKey string) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create google client: %w", err)
	}
	return &GoogleAdapter{client: client}, nil
}

func (a *GoogleAdapter) Name() string { return "google" }

// Complete sends req. A JSON request sets the response MIME type.
func (a *GoogleAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.maxTokens())}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	result, err := a.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, providerError(a.Name(), 0, err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return nil, tool.Errorf("google returned no candidates for %s", req.Model)
	}

	out := &Response{Adapter: a.Name(), Model: req.Model, Content: result.Text()}
	if md := result.UsageMetadata; md != nil {
		out.Usage = &Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return out, nil
}
