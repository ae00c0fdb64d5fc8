package cascade

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"github.com/zen-systems/toolcascade/pkg/tool"
)

func TestResolveAllBoundsConcurrency(t *testing.T) {
	h := newHarness(t)
	var inFlight, peak atomic.Int32
	h.add("a", tool.Func(func(ctx context.Context, task schema.Task, params map[string]string) (tool.Output, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return tool.Output{}, ctx.Err()
		}
		return tool.Output{Content: task.Goal, Confidence: 0.9}, nil
	}), schema.CategoryKnowledgeGap)

	var tasks []schema.Task
	for _, goal := range []string{"one", "two", "three", "four", "five", "six"} {
		tasks = append(tasks, schema.NewTask(goal, schema.WithCategoryHint(schema.CategoryKnowledgeGap)))
	}

	results, err := h.controller().ResolveAll(context.Background(), tasks, 2)
	require.NoError(t, err)
	require.Len(t, results, len(tasks))
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, tasks[i].ID, res.TaskID)
		assert.Equal(t, tasks[i].Goal, res.Output)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))

	records, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, len(tasks))
}

func TestResolveAllReportsInvalidTasks(t *testing.T) {
	h := newHarness(t)
	h.add("a", answer("ok", 0.9), schema.CategoryKnowledgeGap)
	tasks := []schema.Task{
		schema.NewTask("fine", schema.WithCategoryHint(schema.CategoryKnowledgeGap)),
		{ID: "broken"},
	}

	results, err := h.controller().ResolveAll(context.Background(), tasks, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task broken")
	require.NotNil(t, results[0])
	assert.Equal(t, schema.StatusSucceeded, results[0].Status)
	assert.Nil(t, results[1])
}

func TestSummarize(t *testing.T) {
	results := []*schema.CascadeResult{
		{
			Status:         schema.StatusSucceeded,
			Classification: schema.Classification{Category: schema.CategoryKnowledgeGap},
			Attempts:       []schema.Attempt{{Tier: schema.TierPrimary}},
		},
		{
			Status:          schema.StatusSucceeded,
			Classification:  schema.Classification{Category: schema.CategoryKnowledgeGap},
			Attempts:        []schema.Attempt{{Tier: schema.TierPrimary}, {Tier: schema.TierSynthesized}},
			SynthesizedTool: "synth-x",
		},
		{
			Status:         schema.StatusFailed,
			Classification: schema.Classification{Category: schema.CategoryAPIFailure},
			Attempts:       []schema.Attempt{{Tier: schema.TierPrimary}, {Tier: schema.TierSpecializedFallback}, {Tier: schema.TierGenericFallback}},
		},
		nil,
	}

	s := Summarize(results)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-9)
	assert.Equal(t, 1, s.FallbackUsed)
	assert.Equal(t, 1, s.Synthesized)
	assert.Equal(t, 6, s.Attempts)
	assert.InDelta(t, 2.0, s.MeanAttempts(), 1e-9)
	assert.Equal(t, map[string]int{"PRIMARY": 1, "SYNTHESIZED": 1}, s.ByTier)
	assert.Equal(t, 2, s.ByCategory[schema.CategoryKnowledgeGap])

	assert.Zero(t, Summarize(nil).MeanAttempts())
}

func TestLoadTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	data := `tasks:
  - id: moons
    goal: How many moons does Mars have?
    expected_format: integer
    category_hint: answer-format
  - goal: What is 17 * 23?
    prior:
      tool_id: gpt
      error: "evaluate: division by zero"
      confidence: 0.2
      kind: tool_error
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	tasks, err := LoadTasks(path)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "moons", tasks[0].ID)
	assert.Equal(t, schema.CategoryAnswerFormat, tasks[0].CategoryHint)
	assert.Equal(t, "integer", tasks[0].ExpectedFormat)

	assert.NotEmpty(t, tasks[1].ID)
	require.NotNil(t, tasks[1].Prior)
	assert.Equal(t, schema.FailureToolError, tasks[1].Prior.Kind)
	require.NotNil(t, tasks[1].Prior.Confidence)
	assert.InDelta(t, 0.2, *tasks[1].Prior.Confidence, 1e-9)
}

func TestParseTasksRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":        "tasks: []\n",
		"missing goal": "tasks:\n  - id: a\n",
		"bad hint":     "tasks:\n  - goal: q\n    category_hint: vibes\n",
		"duplicate":    "tasks:\n  - {id: a, goal: q}\n  - {id: a, goal: r}\n",
		"not yaml":     "tasks: [\n",
	}
	for name, data := range tests {
		_, err := ParseTasks([]byte(data))
		assert.Error(t, err, name)
	}
}
