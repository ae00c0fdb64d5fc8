// Package adapter wraps LLM provider SDKs behind a single completion call and
// exposes them to the cascade as tools.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/zen-systems/toolcascade/pkg/tool"
)

// DefaultMaxTokens caps a completion when the request does not.
const DefaultMaxTokens = 1024

// Request is one completion made on behalf of a cascade tool.
type Request struct {
	Model  string
	System string
	Prompt string
	// MaxTokens falls back to DefaultMaxTokens when zero.
	MaxTokens int
	// JSON asks the provider for a JSON object reply where it supports that.
	JSON bool
}

func (r Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// Adapter is an LLM provider.
type Adapter interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// providerError tags err with the provider name and, when known, the HTTP
// status so the retry loop and failure taxonomy can see it.
func providerError(provider string, status int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status == 0 {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return &tool.Error{Message: fmt.Sprintf("%s request failed", provider), Status: status, Err: err}
}
