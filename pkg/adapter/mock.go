package adapter

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MockModel is the only model the mock adapter serves.
const MockModel = "mock-1"

const mockFallbackReply = `{"answer":"unknown","confidence":0.1}`

// MockAdapter replies deterministically for offline runs and tests. The reply
// for a request is the one registered under the longest key found in the
// prompt.
type MockAdapter struct {
	replies  map[string]string
	fallback string
	// Usage is attached to every response when set.
	Usage *Usage

	mu       sync.Mutex
	requests []Request
}

// NewMockAdapter creates a mock whose only reply is a low confidence
// "unknown".
func NewMockAdapter() *MockAdapter {
	return NewMockAdapterWithResponses(nil, "")
}

// NewMockAdapterWithResponses creates a mock with canned replies keyed by
// prompt substring.
func NewMockAdapterWithResponses(replies map[string]string, fallback string) *MockAdapter {
	if fallback == "" {
		fallback = mockFallbackReply
	}
	return &MockAdapter{replies: maps.Clone(replies), fallback: fallback}
}

func (a *MockAdapter) Name() string { return "mock" }

// Calls returns how many completions ran.
func (a *MockAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// LastRequest returns the most recent request, if any.
func (a *MockAdapter) LastRequest() (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return Request{}, false
	}
	return a.requests[len(a.requests)-1], true
}

// Complete records req and returns the matching canned reply.
func (a *MockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = MockModel
	}

	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	return &Response{Adapter: a.Name(), Model: req.Model, Content: a.reply(req.Prompt), Usage: a.Usage}, nil
}

func (a *MockAdapter) reply(prompt string) string {
	best := ""
	for _, key := range slices.Sorted(maps.Keys(a.replies)) {
		if strings.Contains(prompt, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return a.fallback
	}
	return a.replies[best]
}
