// Package feedback persists per-attempt outcomes and answers success-rate
// queries for the ranker.
package feedback

import (
	"context"
	"errors"

	"github.com/zen-systems/toolcascade/pkg/schema"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("feedback store closed")

// Store is an append-only log of attempt outcomes. Implementations allow
// concurrent readers and serialize writers.
type Store interface {
	// Append records one outcome.
	Append(ctx context.Context, rec schema.FeedbackRecord) error

	// Recent returns up to limit of the newest non-canceled records for the
	// (tool, category) pair, oldest first. limit <= 0 means all.
	Recent(ctx context.Context, toolID string, category schema.Category, limit int) ([]schema.FeedbackRecord, error)

	// List returns every record in append order.
	List(ctx context.Context) ([]schema.FeedbackRecord, error)

	Close() error
}

// SuccessRate is the share of successful records among the newest window
// non-canceled records for (tool, category). With no observations it
// returns (0, 0, nil); callers choose the prior.
func SuccessRate(ctx context.Context, s Store, toolID string, category schema.Category, window int) (float64, int, error) {
	records, err := s.Recent(ctx, toolID, category, window)
	if err != nil {
		return 0, 0, err
	}
	if len(records) == 0 {
		return 0, 0, nil
	}
	succeeded := 0
	for _, rec := range records {
		if rec.Succeeded {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(records)), len(records), nil
}

// ToolStats aggregates outcomes for one tool and category.
type ToolStats struct {
	ToolID    string          `json:"tool_id"`
	Category  schema.Category `json:"category"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Canceled  int             `json:"canceled"`
}

// Rate returns the success rate over non-canceled outcomes.
func (t ToolStats) Rate() float64 {
	n := t.Total - t.Canceled
	if n <= 0 {
		return 0
	}
	return float64(t.Succeeded) / float64(n)
}

// Summarize aggregates records per (tool, category) in first-seen order.
func Summarize(records []schema.FeedbackRecord) []ToolStats {
	index := make(map[key]int)
	var out []ToolStats
	for _, rec := range records {
		k := key{tool: rec.ToolID, category: rec.Category}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, ToolStats{ToolID: rec.ToolID, Category: rec.Category})
		}
		out[i].Total++
		switch {
		case rec.Canceled:
			out[i].Canceled++
		case rec.Succeeded:
			out[i].Succeeded++
		}
	}
	return out
}

type key struct {
	tool     string
	category schema.Category
}
