package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/toolcascade/pkg/adapter"
	"github.com/zen-systems/toolcascade/pkg/cascade"
	"github.com/zen-systems/toolcascade/pkg/config"
	"github.com/zen-systems/toolcascade/pkg/schema"
	"go.uber.org/zap"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("TAVILY_API_KEY", "")
	cc := config.DefaultCascadeConfig()
	cc.Feedback = config.FeedbackConfig{
		Backend:      config.BackendFile,
		Path:         filepath.Join(t.TempDir(), "feedback.jsonl"),
		Window:       50,
		LearningRate: 0.2,
	}
	return &config.Config{Cascade: cc}
}

func TestBuildRegistrySkipsUnavailableTools(t *testing.T) {
	cfg := offlineConfig(t)
	adapters, err := createAdapters(context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, adapters, "mock")
	assert.NotContains(t, adapters, "anthropic")

	reg, skipped, err := buildRegistry(cfg, adapters, zap.NewNop())
	require.NoError(t, err)

	var ids []string
	for d := range reg.Snapshot().All() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"calculator", "offline"}, ids)

	var skippedIDs []string
	for _, s := range skipped {
		skippedIDs = append(skippedIDs, s.ID)
	}
	assert.ElementsMatch(t, []string{"web-search", "claude", "gpt", "gemini", "deepseek"}, skippedIDs)
}

func TestBuildRegistryRejectsBadTags(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Cascade.Tools = []config.ToolConfig{{ID: "x", Kind: config.KindCalc, Tags: []string{"VIBES"}, Weight: 0.5}}
	_, _, err := buildRegistry(cfg, map[string]adapter.Adapter{}, zap.NewNop())
	require.Error(t, err)
}

func TestRuntimeResolvesOffline(t *testing.T) {
	rt, err := buildRuntime(offlineConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	task := schema.NewTask("What is 6 * 7?", schema.WithCategoryHint(schema.CategoryCalculationError))
	res, err := rt.controller.Resolve(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, schema.StatusSucceeded, res.Status)
	assert.Equal(t, "42", res.Output)
	assert.Equal(t, "calculator", res.Attempts[0].ToolID)

	records, err := rt.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRuntimeBatchSummary(t *testing.T) {
	rt, err := buildRuntime(offlineConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	tasks, err := cascade.ParseTasks([]byte(`tasks:
  - {id: mul, goal: "What is 12 * 12?", category_hint: CALCULATION_ERROR}
  - {id: who, goal: "Who wrote Hamlet?", category_hint: KNOWLEDGE_GAP}
`))
	require.NoError(t, err)

	results, err := rt.controller.ResolveAll(context.Background(), tasks, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "144", results[0].Output)
	// offline there is nothing that knows Hamlet
	assert.Equal(t, schema.StatusFailed, results[1].Status)

	var buf bytes.Buffer
	printSummary(&buf, cascade.Summarize(results))
	assert.Contains(t, buf.String(), "Tasks: 2  Succeeded: 1  Failed: 1")
}

func TestWriteEvidence(t *testing.T) {
	rt, err := buildRuntime(offlineConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	dir := t.TempDir()
	evidenceDir = dir
	t.Cleanup(func() { evidenceDir = "" })

	task := schema.NewTask("What is 2 + 2?", schema.WithCategoryHint(schema.CategoryCalculationError))
	res, err := rt.controller.Resolve(context.Background(), task)
	require.NoError(t, err)
	require.NoError(t, rt.writeEvidence("resolve", "", []schema.Task{task}, []*schema.CascadeResult{res}))

	matches, err := filepath.Glob(filepath.Join(dir, "*", "results", "*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPriorFlagsBuildTask(t *testing.T) {
	cmd := classifyCmd()
	require.NoError(t, cmd.Flags().Parse([]string{
		"--hint", "answer-format",
		"--format", "integer",
		"--prior-error", "malformed",
		"--prior-confidence", "0.4",
	}))

	var p priorFlags
	p.hint, _ = cmd.Flags().GetString("hint")
	p.format, _ = cmd.Flags().GetString("format")
	p.err, _ = cmd.Flags().GetString("prior-error")
	p.confidence, _ = cmd.Flags().GetFloat64("prior-confidence")

	task, err := p.task(cmd, "How many moons?")
	require.NoError(t, err)
	assert.Equal(t, schema.CategoryAnswerFormat, task.CategoryHint)
	assert.Equal(t, "integer", task.ExpectedFormat)
	require.NotNil(t, task.Prior)
	require.NotNil(t, task.Prior.Confidence)
	assert.InDelta(t, 0.4, *task.Prior.Confidence, 1e-9)

	p.hint = "vibes"
	_, err = p.task(cmd, "q")
	require.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "-", oneLine("  ", 10))
	assert.Equal(t, "a b", oneLine("a\n  b", 10))
	assert.True(t, strings.HasSuffix(oneLine(strings.Repeat("x", 20), 5), "..."))
}
