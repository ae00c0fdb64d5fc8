package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/toolcascade/pkg/adapter"
	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
	"go.uber.org/zap"
)

// skippedTool is a configured tool that could not be built.
type skippedTool struct {
	ID     string
	Reason string
}

// createAdapters builds one adapter per provider with credentials. The mock
// adapter is always present so offline tools can be registered.
func createAdapters(ctx context.Context, cfg *config.Config) (map[string]adapter.Adapter, error) {
	providers := []struct {
		name string
		key  string
		open func(key string) (adapter.Adapter, error)
	}{
		{"anthropic", cfg.AnthropicAPIKey, func(k string) (adapter.Adapter, error) { return adapter.NewAnthropicAdapter(k) }},
		{"openai", cfg.OpenAIAPIKey, func(k string) (adapter.Adapter, error) { return adapter.NewOpenAIAdapter(k) }},
		{"google", cfg.GoogleAPIKey, func(k string) (adapter.Adapter, error) { return adapter.NewGoogleAdapter(ctx, k) }},
		{"deepseek", cfg.DeepSeekAPIKey, func(k string) (adapter.Adapter, error) { return adapter.NewDeepSeekAdapter(k) }},
	}

	adapters := map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()}
	for _, p := range providers {
		if p.key == "" {
			continue
		}
		a, err := p.open(p.key)
		if err != nil {
			return nil, fmt.Errorf("%s adapter: %w", p.name, err)
		}
		adapters[p.name] = a
	}
	return adapters, nil
}

// buildRegistry registers every configured tool whose backend is available.
// Tools without credentials are skipped and reported.
func buildRegistry(cfg *config.Config, adapters map[string]adapter.Adapter, logger *zap.Logger) (*registry.Registry, []skippedTool, error) {
	cc := cfg.Cascade
	if cc == nil {
		cc = config.DefaultCascadeConfig()
	}
	retry := adapter.RetryPolicy{
		MaxRetries:  cc.Retry.MaxRetries,
		BaseBackoff: time.Duration(cc.Retry.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(cc.Retry.MaxBackoffMs) * time.Millisecond,
	}

	reg := registry.New(registry.WithLogger(logger))
	var skipped []skippedTool
	for _, tc := range cc.Tools {
		tags := make([]schema.Category, 0, len(tc.Tags))
		for _, raw := range tc.Tags {
			tag, err := schema.ParseTag(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("tool %s: %w", tc.ID, err)
			}
			tags = append(tags, tag)
		}

		var impl tool.Tool
		switch tc.Kind {
		case config.KindLLM:
			a, ok := adapters[tc.Adapter]
			if !ok {
				skipped = append(skipped, skippedTool{ID: tc.ID, Reason: fmt.Sprintf("adapter %s not configured", tc.Adapter)})
				continue
			}
			impl = adapter.NewLLMTool(a, cc.ResolveModel(tc.Model),
				adapter.WithRetryPolicy(retry),
				adapter.WithLogger(logger.With(zap.String("tool", tc.ID))))
		case config.KindMock:
			model := tc.Model
			if model == "" {
				model = adapter.MockModel
			}
			impl = adapter.NewLLMTool(adapters["mock"], model, adapter.WithRetryPolicy(retry))
		case config.KindSearch:
			search := tool.NewSearchTool(tool.WithSearchAPIKey(cfg.TavilyAPIKey))
			if !search.Available() {
				skipped = append(skipped, skippedTool{ID: tc.ID, Reason: "TAVILY_API_KEY not set"})
				continue
			}
			impl = search
		case config.KindCalc:
			impl = tool.NewCalcTool()
		default:
			return nil, nil, fmt.Errorf("tool %s: unknown kind %q", tc.ID, tc.Kind)
		}

		err := reg.Register(registry.Entry{
			Descriptor: schema.ToolDescriptor{
				ID:         tc.ID,
				Tags:       tags,
				Parameters: tc.Parameters,
				Weight:     tc.Weight,
			},
			Tool: impl,
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return reg, skipped, nil
}
