// Package ranker orders registered tools for a classification by blending
// static capability match with the registry weight and observed success.
package ranker

import (
	"context"
	"fmt"
	"sort"

	"github.com/zen-systems/toolcascade/pkg/feedback"
	"github.com/zen-systems/toolcascade/pkg/registry"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"go.uber.org/zap"
)

// Scoring constants.
const (
	MatchWeight   = 0.6
	HistoryWeight = 0.4

	ExactMatch   = 1.0
	GenericMatch = 0.4

	// PriorStrength is how many observations the registry weight counts as
	// when blended with recorded outcomes.
	PriorStrength = 2.0

	DefaultWindow = 50
)

// Candidate is a scored tool.
type Candidate struct {
	Descriptor   schema.ToolDescriptor `json:"descriptor"`
	Match        float64               `json:"match"`
	SuccessRate  float64               `json:"success_rate"`
	Observations int                   `json:"observations"`
	History      float64               `json:"history"`
	Score        float64               `json:"score"`
}

// Exact reports whether the candidate carries the classified category tag.
func (c Candidate) Exact() bool {
	return c.Match == ExactMatch
}

// Ranker scores tools from a registry snapshot and a feedback store.
type Ranker struct {
	registry *registry.Registry
	store    feedback.Store
	window   int
	logger   *zap.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithWindow sets how many recent outcomes feed the success rate.
func WithWindow(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.window = n
		}
	}
}

// WithLogger sets the ranker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Ranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a ranker.
func New(reg *registry.Registry, store feedback.Store, opts ...Option) *Ranker {
	r := &Ranker{
		registry: reg,
		store:    store,
		window:   DefaultWindow,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rank returns every tool with a non-zero score for the classification,
// best first. Equal scores are ordered by id. The result is a fresh slice
// and may be iterated any number of times.
func (r *Ranker) Rank(ctx context.Context, c schema.Classification) ([]Candidate, error) {
	snap := r.registry.Snapshot()
	var out []Candidate
	for d := range snap.All() {
		match := MatchScore(d, c.Category)
		if match == 0 {
			continue
		}
		rate, n, err := feedback.SuccessRate(ctx, r.store, d.ID, c.Category, r.window)
		if err != nil {
			return nil, fmt.Errorf("ranker: success rate for %s: %w", d.ID, err)
		}
		history := HistoryScore(d.Weight, rate, n)
		score := MatchWeight*match + HistoryWeight*history
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{
			Descriptor:   d,
			Match:        match,
			SuccessRate:  rate,
			Observations: n,
			History:      history,
			Score:        score,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Descriptor.ID < out[j].Descriptor.ID
	})

	r.logger.Debug("ranked tools",
		zap.String("category", string(c.Category)),
		zap.Int("candidates", len(out)))
	return out, nil
}

// HistoryScore blends the registry weight, counted as PriorStrength
// observations, with n recorded outcomes at the given success rate. With no
// outcomes it is the weight itself.
func HistoryScore(weight, rate float64, n int) float64 {
	w := schema.ClampUnit(weight)
	if n <= 0 {
		return w
	}
	successes := schema.ClampUnit(rate) * float64(n)
	return (PriorStrength*w + successes) / (PriorStrength + float64(n))
}

// MatchScore is the static capability match of d for category.
func MatchScore(d schema.ToolDescriptor, category schema.Category) float64 {
	switch {
	case d.HasTag(category):
		return ExactMatch
	case d.HasTag(schema.TagGeneric):
		return GenericMatch
	}
	return 0
}

// Exact keeps candidates tagged with the classified category.
func Exact(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Exact() {
			out = append(out, c)
		}
	}
	return out
}

// Generic keeps candidates carrying the GENERIC tag, including ones that
// also match exactly.
func Generic(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		if c.Descriptor.HasTag(schema.TagGeneric) {
			out = append(out, c)
		}
	}
	return out
}

// NextWeight moves a registry weight toward the latest outcome by an
// exponential moving average with the given learning rate.
func NextWeight(current float64, succeeded bool, learningRate float64) float64 {
	target := 0.0
	if succeeded {
		target = 1.0
	}
	lr := schema.ClampUnit(learningRate)
	return schema.ClampUnit(current + lr*(target-current))
}
